package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skiff-cd/skiff/remote"
)

// Backend is the package-manager capability the provisioner depends on. The
// concrete implementation is detected once per run; the provisioning logic
// itself never branches on the distribution family.
type Backend interface {
	Name() string
	// Refresh updates the package index. May return ok=false when the
	// backend needs no explicit refresh.
	Refresh() (cmd remote.Command, ok bool)
	Install(packages ...string) remote.Command
}

type aptBackend struct{}

func (aptBackend) Name() string {
	return "apt"
}

func (aptBackend) Refresh() (remote.Command, bool) {
	return remote.Cmd("sudo", "DEBIAN_FRONTEND=noninteractive", "apt-get", "update", "-y"), true
}

func (aptBackend) Install(packages ...string) remote.Command {
	args := append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y"}, packages...)
	return remote.Cmd("sudo", args...)
}

// rpmBackend covers dnf and its yum predecessor, which share a CLI surface.
type rpmBackend struct {
	command string
}

func (b rpmBackend) Name() string {
	return b.command
}

func (b rpmBackend) Refresh() (remote.Command, bool) {
	return remote.Command{}, false
}

func (b rpmBackend) Install(packages ...string) remote.Command {
	args := append([]string{b.command, "install", "-y"}, packages...)
	return remote.Cmd("sudo", args...)
}

// DetectBackend probes the remote host for a supported package manager.
func DetectBackend(ctx context.Context, runner remote.Runner) (Backend, error) {
	for _, candidate := range []struct {
		probe   string
		backend Backend
	}{
		{"apt-get", aptBackend{}},
		{"dnf", rpmBackend{command: "dnf"}},
		{"yum", rpmBackend{command: "yum"}},
	} {
		if runner.RunQuiet(ctx, remote.Cmd("command", "-v", candidate.probe)) {
			slog.Info("Detected package manager", "backend", candidate.backend.Name())
			return candidate.backend, nil
		}
	}

	return nil, fmt.Errorf("no supported package manager found on remote host (need apt-get, dnf, or yum)")
}
