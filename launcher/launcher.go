// Package launcher replaces and starts the application containers on the
// remote host.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/skiff-cd/skiff/manifest"
	"github.com/skiff-cd/skiff/remote"
)

const (
	healthAttempts = 15
	healthInterval = 2 * time.Second
)

// Identity keys every container-side resource of one deployment.
type Identity struct {
	// Name is the logical name derived from the repository base name.
	Name string
	// InternalPort is the application port, bound identically on host and
	// container side.
	InternalPort int
}

// ImageTag is the tag used for single-container builds.
func (id Identity) ImageTag() string {
	return id.Name + ":latest"
}

type Launcher struct {
	runner remote.Runner

	// Poll policy, overridable in tests
	healthAttempts int
	healthInterval time.Duration
}

func New(runner remote.Runner) *Launcher {
	return &Launcher{
		runner:         runner,
		healthAttempts: healthAttempts,
		healthInterval: healthInterval,
	}
}

// Launch replaces any previous deployment bearing the identity's name and
// starts the new one. Re-running never accumulates duplicate resources: the
// old container or compose project is forcibly removed first.
func (l *Launcher) Launch(ctx context.Context, remoteDir string, m *manifest.Manifest, id Identity) error {
	slog.Info("Launching application",
		"name", id.Name,
		"mode", m.Mode.String(),
		"remote_dir", remoteDir)

	if err := l.Remove(ctx, remoteDir, id); err != nil {
		return err
	}

	switch m.Mode {
	case manifest.ModeCompose:
		if err := l.composeUp(ctx, remoteDir, m.ComposeFile, id); err != nil {
			return err
		}
	case manifest.ModeSingleContainer:
		if err := l.buildAndRun(ctx, remoteDir, id); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown launch mode %v", m.Mode)
	}

	running, err := l.runningContainers(ctx, id)
	if err != nil {
		return err
	}
	if running == "" {
		return fmt.Errorf("no running container named %s after launch", id.Name)
	}
	slog.Info("Containers running", "name", id.Name, "containers", running)

	// Health is informational, never gating: a missing or unhealthy probe
	// is reported, not fatal
	if status := l.waitForHealth(ctx, id); status != "" {
		if status == "healthy" {
			slog.Info("Container health settled", "name", id.Name, "health", status)
		} else {
			slog.Warn("Container health did not settle", "name", id.Name, "health", status)
		}
	}

	return nil
}

// Remove forcibly stops and removes anything bearing the logical name: the
// compose project if the remote directory holds one, and any container with
// the name. Safe to call when nothing was ever deployed.
func (l *Launcher) Remove(ctx context.Context, remoteDir string, id Identity) error {
	// Best-effort: the directory or project may not exist yet
	l.runner.RunQuiet(ctx, remote.Cmd(
		"docker", "compose", "--project-name", id.Name, "down", "--remove-orphans").InDir(remoteDir))

	res, err := l.runner.Run(ctx, remote.Cmd(
		"docker", "ps", "-aq", "--filter", "name="+id.Name))
	if err != nil {
		return err
	}

	ids := strings.Fields(res.Stdout)
	if len(ids) == 0 {
		return nil
	}

	slog.Info("Removing previous deployment", "name", id.Name, "containers", len(ids))
	args := append([]string{"rm", "-f"}, ids...)
	res, err = l.runner.Run(ctx, remote.Cmd("docker", args...))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("failed to remove previous containers: %s", res.Stderr)
	}
	return nil
}

func (l *Launcher) composeUp(ctx context.Context, remoteDir, composeFile string, id Identity) error {
	// Image pull is best-effort: a registry hiccup must not block a build
	// that can proceed from cache
	if !l.runner.RunQuiet(ctx, remote.Cmd(
		"docker", "compose", "--file", composeFile,
		"--project-name", id.Name, "pull").InDir(remoteDir)) {
		slog.Warn("Image pull failed, continuing with local images", "name", id.Name)
	}

	res, err := l.runner.Run(ctx, remote.Cmd(
		"docker", "compose", "--file", composeFile, "--project-name", id.Name,
		"up", "--detach", "--build", "--remove-orphans").InDir(remoteDir))
	if err != nil {
		return err
	}
	if !res.OK() {
		slog.Error("Service operation failed",
			"layer", "launcher",
			"operation", "compose_up",
			"name", id.Name,
			"stderr", res.Stderr)
		return fmt.Errorf("docker compose up failed: %s", res.Stderr)
	}
	return nil
}

func (l *Launcher) buildAndRun(ctx context.Context, remoteDir string, id Identity) error {
	res, err := l.runner.Run(ctx, remote.Cmd(
		"docker", "build", "--tag", id.ImageTag(), ".").InDir(remoteDir))
	if err != nil {
		return err
	}
	if !res.OK() {
		slog.Error("Service operation failed",
			"layer", "launcher",
			"operation", "docker_build",
			"name", id.Name,
			"stderr", res.Stderr)
		return fmt.Errorf("docker build failed: %s", res.Stderr)
	}

	port := strconv.Itoa(id.InternalPort)
	res, err = l.runner.Run(ctx, remote.Cmd(
		"docker", "run", "--detach",
		"--name", id.Name,
		"--restart", "unless-stopped",
		"--publish", port+":"+port,
		id.ImageTag()))
	if err != nil {
		return err
	}
	if !res.OK() {
		slog.Error("Service operation failed",
			"layer", "launcher",
			"operation", "docker_run",
			"name", id.Name,
			"stderr", res.Stderr)
		return fmt.Errorf("docker run failed: %s", res.Stderr)
	}
	return nil
}

// runningContainers returns the names of running containers bearing the
// logical name, newline separated, or empty when there are none.
func (l *Launcher) runningContainers(ctx context.Context, id Identity) (string, error) {
	res, err := l.runner.Run(ctx, remote.Cmd(
		"docker", "ps",
		"--filter", "name="+id.Name,
		"--filter", "status=running",
		"--format", "{{.Names}}"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// waitForHealth polls the container's declared health probe with a fixed
// interval and bounded attempts. Returns the settled status, or empty when
// the container declares no probe.
func (l *Launcher) waitForHealth(ctx context.Context, id Identity) string {
	res, err := l.runner.Run(ctx, remote.Cmd(
		"docker", "ps", "-q", "--filter", "name="+id.Name))
	if err != nil || strings.TrimSpace(res.Stdout) == "" {
		return ""
	}
	containerID := strings.Fields(res.Stdout)[0]

	status := ""
	for attempt := 0; attempt < l.healthAttempts; attempt++ {
		res, err := l.runner.Run(ctx, remote.Cmd(
			"docker", "inspect",
			"--format", "{{if .State.Health}}{{.State.Health.Status}}{{end}}",
			containerID))
		if err != nil || !res.OK() {
			return status
		}

		status = strings.TrimSpace(res.Stdout)
		if status == "" {
			// No healthcheck declared
			slog.Debug("Container declares no health probe", "name", id.Name)
			return ""
		}
		if status == "healthy" {
			return status
		}

		select {
		case <-ctx.Done():
			return status
		case <-time.After(l.healthInterval):
		}
	}

	return status
}

// Logs returns the last tail lines of the application's runtime log,
// preferring the compose project log when the remote directory holds one.
func (l *Launcher) Logs(ctx context.Context, remoteDir string, id Identity, tail int) (string, error) {
	tailArg := strconv.Itoa(tail)

	res, err := l.runner.Run(ctx, remote.Cmd(
		"docker", "compose", "--project-name", id.Name,
		"logs", "--tail", tailArg, "--no-color").InDir(remoteDir))
	if err == nil && res.OK() && strings.TrimSpace(res.Stdout) != "" {
		return res.Stdout, nil
	}

	res, err = l.runner.Run(ctx, remote.Cmd(
		"docker", "logs", "--tail", tailArg, id.Name))
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("failed to read container logs: %s", res.Stderr)
	}
	// docker logs writes application output to both streams
	return res.Stdout + res.Stderr, nil
}
