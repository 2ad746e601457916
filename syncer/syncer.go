// Package syncer mirrors the local working copy into the remote deployment
// directory.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/skiff-cd/skiff/remote"
)

// SSHParams describe the transfer channel. The same key and timeout bound
// both rsync and the scp fallback.
type SSHParams struct {
	User           string
	Host           string
	Port           int
	KeyPath        string
	ConnectTimeout time.Duration
}

type Syncer struct {
	runner remote.Runner
	params SSHParams

	// Injectable for testing
	lookPath func(file string) (string, error)
	runLocal func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New(runner remote.Runner, params SSHParams) *Syncer {
	return &Syncer{
		runner:   runner,
		params:   params,
		lookPath: exec.LookPath,
		runLocal: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Sync makes the remote directory an exact mirror of localPath, deleting
// remote files that no longer exist locally. rsync does the delta transfer
// when both ends have it; otherwise the directory is recreated and copied in
// full with scp, which yields an equivalent tree.
func (s *Syncer) Sync(ctx context.Context, localPath, remoteDir string) error {
	slog.Info("Syncing files to remote host",
		"local_path", localPath,
		"remote_dir", remoteDir,
		"host", s.params.Host)

	res, err := s.runner.Run(ctx, remote.Cmd("mkdir", "-p", remoteDir))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("failed to create remote directory %s: %s", remoteDir, res.Stderr)
	}

	if s.haveRsync(ctx) {
		return s.rsync(ctx, localPath, remoteDir)
	}

	slog.Warn("rsync unavailable, falling back to full copy with scp")
	return s.scpMirror(ctx, localPath, remoteDir)
}

// haveRsync reports whether rsync exists on both ends of the transfer.
func (s *Syncer) haveRsync(ctx context.Context) bool {
	if _, err := s.lookPath("rsync"); err != nil {
		return false
	}
	return s.runner.RunQuiet(ctx, remote.Cmd("command", "-v", "rsync"))
}

// sshTransport renders rsync's remote-shell option. rsync word-splits the
// string itself, so the key path is quoted against spaces.
func (s *Syncer) sshTransport() string {
	return fmt.Sprintf("ssh -i %s -p %d -o BatchMode=yes -o StrictHostKeyChecking=accept-new -o ConnectTimeout=%d",
		remote.Quote(s.params.KeyPath), s.params.Port, int(s.params.ConnectTimeout.Seconds()))
}

func (s *Syncer) remoteSpec(remoteDir string) string {
	return fmt.Sprintf("%s@%s:%s/", s.params.User, s.params.Host, remoteDir)
}

func (s *Syncer) rsync(ctx context.Context, localPath, remoteDir string) error {
	args := []string{
		"--archive",
		"--compress",
		"--delete",
		"-e", s.sshTransport(),
		localPath + "/",
		s.remoteSpec(remoteDir),
	}

	slog.Debug("Running rsync", "args", args)
	out, err := s.runLocal(ctx, "rsync", args...)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "syncer",
			"operation", "rsync",
			"output", string(out),
			"error", err)
		return fmt.Errorf("rsync failed: %w: %s", err, string(out))
	}

	slog.Info("File sync completed", "remote_dir", remoteDir)
	return nil
}

// scpMirror recreates the remote directory and copies the tree in full.
// Deleting first preserves mirror semantics without rsync's --delete.
func (s *Syncer) scpMirror(ctx context.Context, localPath, remoteDir string) error {
	for _, cmd := range []remote.Command{
		remote.Cmd("rm", "-rf", remoteDir),
		remote.Cmd("mkdir", "-p", remoteDir),
	} {
		res, err := s.runner.Run(ctx, cmd)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("failed to recreate remote directory %s: %s", remoteDir, res.Stderr)
		}
	}

	args := []string{
		"-r",
		"-i", s.params.KeyPath,
		"-P", strconv.Itoa(s.params.Port),
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(s.params.ConnectTimeout.Seconds())),
		localPath + "/.",
		s.remoteSpec(remoteDir),
	}

	slog.Debug("Running scp", "args", args)
	out, err := s.runLocal(ctx, "scp", args...)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "syncer",
			"operation", "scp",
			"output", string(out),
			"error", err)
		return fmt.Errorf("scp failed: %w: %s", err, string(out))
	}

	slog.Info("File sync completed", "remote_dir", remoteDir)
	return nil
}
