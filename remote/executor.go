// Package remote executes commands on the deployment host over SSH. Every
// remote-facing stage of the pipeline is built on this package.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
)

// Result is the outcome of a command that was successfully delivered to the
// remote host. A non-zero ExitCode is not an error at this layer: callers
// decide what a failed command means for their stage.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited zero.
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// Runner is the execution contract the pipeline stages depend on.
type Runner interface {
	// Run executes a command and returns its exit status and output.
	// A returned error means the command could not be delivered
	// (connectivity), not that it exited non-zero.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// RunWithInput is Run with the given reader streamed to the remote
	// command's stdin.
	RunWithInput(ctx context.Context, cmd Command, stdin io.Reader) (*Result, error)

	// RunQuiet reports whether the command ran and exited zero.
	RunQuiet(ctx context.Context, cmd Command) bool
}

// ConnectivityError means the host could not be reached or the command could
// not be delivered, as opposed to a delivered command exiting non-zero.
type ConnectivityError struct {
	Host string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach host %s: %v", e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ClientConfig describes how to reach and authenticate with the remote host.
// Authentication is key-based only: command execution must never block on a
// password prompt.
type ClientConfig struct {
	User           string
	Host           string
	Port           int
	KeyPath        string
	ConnectTimeout time.Duration
}

// Client is an authenticated SSH session factory for one remote host. It is
// ephemeral: created per invocation, closed when the run ends.
type Client struct {
	client *ssh.Client
	host   string
}

// Ensure Client implements Runner
var _ Runner = (*Client)(nil)

// Dial connects and authenticates to the remote host.
func Dial(cfg ClientConfig) (*Client, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH private key %s: %w", cfg.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key %s: %w", cfg.KeyPath, err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback(),
		Timeout:         cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	slog.Info("Connecting to remote host", "address", addr, "user", cfg.User)

	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "remote",
			"operation", "ssh_dial",
			"address", addr,
			"error", err)
		return nil, &ConnectivityError{Host: cfg.Host, Err: err}
	}

	return &Client{client: client, host: cfg.Host}, nil
}

// hostKeyCallback verifies host keys against the operator's known_hosts.
// Unknown hosts are accepted with a warning (first contact with a fresh VM is
// the normal case for this tool); a changed key for a known host is rejected.
func hostKeyCallback() ssh.HostKeyCallback {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ssh.InsecureIgnoreHostKey()
	}

	db, err := knownhosts.NewDB(filepath.Join(homeDir, ".ssh", "known_hosts"))
	if err != nil {
		slog.Warn("Host key verification disabled", "error", err)
		return ssh.InsecureIgnoreHostKey()
	}

	verify := db.HostKeyCallback()
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err != nil && knownhosts.IsHostUnknown(err) {
			slog.Warn("Host key not in known_hosts, accepting", "host", hostname)
			return nil
		}
		return err
	}
}

// Close terminates the SSH connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) Run(ctx context.Context, cmd Command) (*Result, error) {
	return c.run(ctx, cmd, nil)
}

func (c *Client) RunWithInput(ctx context.Context, cmd Command, stdin io.Reader) (*Result, error) {
	return c.run(ctx, cmd, stdin)
}

func (c *Client) RunQuiet(ctx context.Context, cmd Command) bool {
	res, err := c.run(ctx, cmd, nil)
	return err == nil && res.OK()
}

func (c *Client) run(ctx context.Context, cmd Command, stdin io.Reader) (*Result, error) {
	session, err := c.client.NewSession()
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "remote",
			"operation", "ssh_session",
			"host", c.host,
			"error", err)
		return nil, &ConnectivityError{Host: c.host, Err: err}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil && closeErr != io.EOF {
			slog.Debug("Failed to close SSH session", "error", closeErr)
		}
	}()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	command := cmd.String()
	slog.Debug("Running remote command", "host", c.host, "command", command)

	if err := session.Start(command); err != nil {
		return nil, &ConnectivityError{Host: c.host, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, &ConnectivityError{Host: c.host, Err: ctx.Err()}
	case err = <-done:
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// Delivered, ran, exited non-zero: a command failure,
			// not a connectivity failure
			result.ExitCode = exitErr.ExitStatus()
			slog.Debug("Remote command exited non-zero",
				"host", c.host,
				"command", command,
				"exit_code", result.ExitCode,
				"stderr", result.Stderr)
			return result, nil
		}
		slog.Error("Service operation failed",
			"layer", "remote",
			"operation", "ssh_run",
			"host", c.host,
			"command", command,
			"error", err)
		return nil, &ConnectivityError{Host: c.host, Err: err}
	}

	return result, nil
}
