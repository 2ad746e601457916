// Package provision idempotently ensures the remote host runs the system
// services a deployment needs: the container runtime, the compose plugin,
// and the reverse-proxy daemon.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skiff-cd/skiff/remote"
)

// ServiceRequirement is one declarative provisioning unit. Requirements are
// processed in order; the container runtime must precede the compose plugin.
type ServiceRequirement struct {
	Name string
	// Check exits zero when the requirement is already satisfied.
	Check remote.Command
	// Packages to install when the check fails.
	Packages []string
	// Enable commands are run on every pass; they must be harmless when
	// the service is already enabled and running.
	Enable []remote.Command
}

// DefaultRequirements returns the requirement set for a Skiff host, with
// package names resolved for the detected backend.
func DefaultRequirements(backend Backend) []ServiceRequirement {
	apt := backend.Name() == "apt"

	dockerPkgs := []string{"docker"}
	composePkgs := []string{"docker-compose-plugin"}
	if apt {
		dockerPkgs = []string{"docker.io"}
		composePkgs = []string{"docker-compose-v2"}
	}

	return []ServiceRequirement{
		{
			Name:     "docker",
			Check:    remote.Cmd("command", "-v", "docker"),
			Packages: dockerPkgs,
			Enable: []remote.Command{
				remote.Cmd("sudo", "systemctl", "enable", "--now", "docker"),
			},
		},
		{
			Name:     "docker-compose",
			Check:    remote.Cmd("docker", "compose", "version"),
			Packages: composePkgs,
		},
		{
			Name:     "nginx",
			Check:    remote.Cmd("command", "-v", "nginx"),
			Packages: []string{"nginx"},
			Enable: []remote.Command{
				remote.Cmd("sudo", "systemctl", "enable", "--now", "nginx"),
			},
		},
	}
}

// EnsureHost detects the package-manager backend and applies the default
// requirement set. This is the one-call form the deployment pipeline uses.
func EnsureHost(ctx context.Context, runner remote.Runner) error {
	backend, err := DetectBackend(ctx, runner)
	if err != nil {
		return err
	}
	return New(runner, backend).Ensure(ctx, DefaultRequirements(backend))
}

// Provisioner applies ServiceRequirements through the remote executor.
type Provisioner struct {
	runner    remote.Runner
	backend   Backend
	refreshed bool
}

func New(runner remote.Runner, backend Backend) *Provisioner {
	return &Provisioner{runner: runner, backend: backend}
}

// Ensure walks the requirements in order: check, install when absent, then
// re-assert enablement. Every action is idempotent, so a re-run against an
// already-provisioned host is a sequence of no-ops.
func (p *Provisioner) Ensure(ctx context.Context, requirements []ServiceRequirement) error {
	for _, req := range requirements {
		if err := p.ensureOne(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) ensureOne(ctx context.Context, req ServiceRequirement) error {
	if p.runner.RunQuiet(ctx, req.Check) {
		slog.Debug("Requirement already satisfied", "requirement", req.Name)
	} else {
		if err := p.install(ctx, req); err != nil {
			return err
		}
	}

	for _, enable := range req.Enable {
		res, err := p.runner.Run(ctx, enable)
		if err != nil {
			return err
		}
		if !res.OK() {
			slog.Error("Service operation failed",
				"layer", "provision",
				"operation", "enable",
				"requirement", req.Name,
				"stderr", res.Stderr)
			return fmt.Errorf("requirement %s: enable step failed: %s", req.Name, res.Stderr)
		}
	}

	slog.Info("Requirement ensured", "requirement", req.Name)
	return nil
}

func (p *Provisioner) install(ctx context.Context, req ServiceRequirement) error {
	slog.Info("Installing requirement",
		"requirement", req.Name,
		"backend", p.backend.Name(),
		"packages", req.Packages)

	if !p.refreshed {
		if refresh, ok := p.backend.Refresh(); ok {
			res, err := p.runner.Run(ctx, refresh)
			if err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("package index refresh failed: %s", res.Stderr)
			}
		}
		p.refreshed = true
	}

	res, err := p.runner.Run(ctx, p.backend.Install(req.Packages...))
	if err != nil {
		return err
	}
	if !res.OK() {
		slog.Error("Service operation failed",
			"layer", "provision",
			"operation", "install",
			"requirement", req.Name,
			"stderr", res.Stderr)
		return fmt.Errorf("requirement %s: install step failed: %s", req.Name, res.Stderr)
	}

	return nil
}
