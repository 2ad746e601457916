// Package pipeline sequences the deployment stages. Each stage is gated on
// the previous stage's success; the first hard error aborts the run with no
// rollback, and re-running the pipeline is the prescribed recovery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skiff-cd/skiff/config"
	"github.com/skiff-cd/skiff/launcher"
	"github.com/skiff-cd/skiff/manifest"
	"github.com/skiff-cd/skiff/provision"
	"github.com/skiff-cd/skiff/proxy"
	"github.com/skiff-cd/skiff/remote"
	"github.com/skiff-cd/skiff/secret"
	"github.com/skiff-cd/skiff/stager"
	"github.com/skiff-cd/skiff/syncer"
	"github.com/skiff-cd/skiff/validate"
)

// logTailLines is how much of the application's runtime log is surfaced to
// the operator after a successful deploy.
const logTailLines = 200

// gitTimeout bounds a single clone or fetch against the source forge.
const gitTimeout = 5 * time.Minute

// Stager maintains the local working copy.
type Stager interface {
	Stage(ctx context.Context, repoURL, branch string, token *secret.Token, localPath string) (string, error)
}

// HostProvisioner ensures the remote system services.
type HostProvisioner interface {
	EnsureHost(ctx context.Context) error
}

// Synchronizer mirrors the working copy to the remote host.
type Synchronizer interface {
	Sync(ctx context.Context, localPath, remoteDir string) error
}

// ContainerLauncher replaces and starts the deployment's containers.
type ContainerLauncher interface {
	Launch(ctx context.Context, remoteDir string, m *manifest.Manifest, id launcher.Identity) error
	Remove(ctx context.Context, remoteDir string, id launcher.Identity) error
	Logs(ctx context.Context, remoteDir string, id launcher.Identity, tail int) (string, error)
}

// ProxyConfigurator owns the reverse-proxy route.
type ProxyConfigurator interface {
	Configure(ctx context.Context, r proxy.Route) error
	Remove(ctx context.Context, name string) (bool, error)
}

// Checker validates the deployed application.
type Checker interface {
	Check(ctx context.Context, id launcher.Identity, host string, publicPort int) (*validate.Report, error)
}

// Result is what a successful deploy hands back to the operator.
type Result struct {
	Report *validate.Report
	// AppLogs is the tail of the application's runtime log, best-effort.
	AppLogs string
}

type Pipeline struct {
	cfg    *config.Config
	runner remote.Runner

	stager      Stager
	provisioner HostProvisioner
	syncer      Synchronizer
	launcher    ContainerLauncher
	proxy       ProxyConfigurator
	validator   Checker

	discover func(dir string) (*manifest.Manifest, error)
}

// hostProvisioner binds provision.EnsureHost to a runner.
type hostProvisioner struct {
	runner remote.Runner
}

func (h hostProvisioner) EnsureHost(ctx context.Context) error {
	return provision.EnsureHost(ctx, h.runner)
}

func New(cfg *config.Config, runner remote.Runner) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		runner:      runner,
		stager:      stager.New(gitTimeout),
		provisioner: hostProvisioner{runner: runner},
		syncer: syncer.New(runner, syncer.SSHParams{
			User:           cfg.RemoteUser,
			Host:           cfg.RemoteHost,
			Port:           cfg.SSHPort,
			KeyPath:        cfg.SSHKeyPath,
			ConnectTimeout: cfg.ConnectTimeout,
		}),
		launcher:  launcher.New(runner),
		proxy:     proxy.New(runner),
		validator: validate.New(runner),
		discover:  manifest.Discover,
	}
}

func (p *Pipeline) identity() launcher.Identity {
	return launcher.Identity{
		Name:         p.cfg.AppName,
		InternalPort: p.cfg.AppPort,
	}
}

// Deploy runs the full pipeline: stage, provision, sync, launch, configure
// the proxy, validate.
func (p *Pipeline) Deploy(ctx context.Context) (*Result, error) {
	cfg := p.cfg
	id := p.identity()

	slog.Info("Starting deployment",
		"app", cfg.AppName,
		"git_url", cfg.RepoURL,
		"git_branch", cfg.Branch,
		"host", cfg.RemoteHost)

	// The token is scrubbed from the config immediately: from here on it
	// exists only inside the scoped Token, which staging destroys
	token := secret.NewToken(cfg.GitToken)
	cfg.GitToken = ""

	localPath, err := p.stager.Stage(ctx, cfg.RepoURL, cfg.Branch, token, cfg.LocalPath)
	if err != nil {
		return nil, Fail(KindClone, err)
	}

	// Mode selection happens before any remote mutation, so a working
	// copy with no manifest aborts cleanly
	m, err := p.discover(localPath)
	if err != nil {
		return nil, Fail(KindDeploy, err)
	}

	if err := p.provisioner.EnsureHost(ctx); err != nil {
		return nil, Fail(KindProvision, err)
	}

	if err := p.syncer.Sync(ctx, localPath, cfg.RemoteDir); err != nil {
		return nil, Fail(KindSync, err)
	}

	if err := p.launcher.Launch(ctx, cfg.RemoteDir, m, id); err != nil {
		return nil, Fail(KindDeploy, err)
	}

	if err := p.proxy.Configure(ctx, proxy.Route{
		Name:         cfg.AppName,
		PublicPort:   cfg.PublicPort,
		InternalPort: cfg.AppPort,
	}); err != nil {
		return nil, Fail(KindProxy, err)
	}

	report, err := p.validator.Check(ctx, id, cfg.RemoteHost, cfg.PublicPort)
	if err != nil {
		return nil, Fail(KindValidation, err)
	}

	// The deploy is already complete; the log tail is a courtesy for the
	// operator and must not fail the run
	appLogs, err := p.launcher.Logs(ctx, cfg.RemoteDir, id, logTailLines)
	if err != nil {
		slog.Warn("Could not read application logs", "error", err)
		appLogs = ""
	}

	slog.Info("Deployment completed", "app", cfg.AppName)
	return &Result{Report: report, AppLogs: appLogs}, nil
}

// Teardown reverses the launcher and proxy effects: containers, the remote
// application directory, and the proxy route. The local working copy is left
// untouched. Safe to run when nothing was ever deployed.
func (p *Pipeline) Teardown(ctx context.Context) error {
	cfg := p.cfg
	id := p.identity()

	slog.Info("Starting teardown", "app", cfg.AppName, "host", cfg.RemoteHost)

	if err := p.launcher.Remove(ctx, cfg.RemoteDir, id); err != nil {
		return Fail(KindCleanup, err)
	}

	res, err := p.runner.Run(ctx, remote.Cmd("rm", "-rf", cfg.RemoteDir))
	if err != nil {
		return Fail(KindCleanup, err)
	}
	if !res.OK() {
		return Fail(KindCleanup,
			fmt.Errorf("failed to remove remote directory %s: %s", cfg.RemoteDir, res.Stderr))
	}

	if _, err := p.proxy.Remove(ctx, cfg.AppName); err != nil {
		return Fail(KindCleanup, err)
	}

	slog.Info("Teardown completed", "app", cfg.AppName)
	return nil
}
