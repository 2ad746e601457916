// Package config assembles the deployment configuration for a Skiff run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/gosimple/slug"
)

const (
	// EnvPrefix is the prefix for all Skiff environment variables.
	EnvPrefix = "SKIFF_"

	// appNameSuffix keys every remote resource (container, proxy route,
	// deployment directory) derived from the same repository.
	appNameSuffix = "_app"

	srcDir = "src"
)

// Config is the explicit configuration for one invocation. It is assembled
// once (defaults, then environment, then the interactive adapter) and passed
// into the pipeline; the pipeline never reads ambient global state.
type Config struct {
	// Deployment target
	RepoURL        string        `env:"REPO_URL"`
	GitToken       string        `env:"GIT_TOKEN"`
	Branch         string        `env:"BRANCH" envDefault:"main"`
	RemoteUser     string        `env:"REMOTE_USER"`
	RemoteHost     string        `env:"REMOTE_HOST"`
	SSHKeyPath     string        `env:"SSH_KEY"`
	AppPort        int           `env:"APP_PORT"`
	PublicPort     int           `env:"PUBLIC_PORT" envDefault:"80"`
	SSHPort        int           `env:"SSH_PORT" envDefault:"22"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`

	// Core paths
	DataDir string `env:"DATA_DIR"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Derived, set by Derive
	AppName   string `env:"-"`
	LocalPath string `env:"-"`
	RemoteDir string `env:"-"`
}

// New creates a configuration from defaults and SKIFF_* environment
// variables. Interactive prompting and flag overrides happen afterwards,
// before Derive and Validate.
func New() (*Config, error) {
	return newWithEnvironment(nil)
}

// newWithEnvironment allows injecting an environment map for testing.
func newWithEnvironment(environment map[string]string) (*Config, error) {
	c := &Config{}

	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}

	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}

	return c, nil
}

// defaultDataDir returns the default Skiff data directory following the XDG
// Base Directory specification.
func defaultDataDir() string {
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "skiff")
	}

	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "skiff")
}

// AppNameFromRepo derives the logical name from the repository's base name.
// The same repository always maps to the same name, which keys the container,
// the proxy route, and the remote deployment directory.
func AppNameFromRepo(repoURL string) string {
	base := filepath.Base(strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git"))
	base = strings.TrimSuffix(base, ".git")
	// slug.Make keeps underscores; fold them into hyphens so the suffix
	// stays the name's only underscore
	base = strings.ReplaceAll(base, "_", "-")
	return slug.Make(base) + appNameSuffix
}

// Derive calculates the logical name and dependent paths from the repo URL.
// LocalPath is deterministic so re-runs reuse the same working copy.
func (c *Config) Derive() {
	c.AppName = AppNameFromRepo(c.RepoURL)
	c.LocalPath = filepath.Join(c.DataDir, srcDir, c.AppName)
	// Relative to the remote user's home directory; SSH sessions start there.
	c.RemoteDir = c.AppName
}

// Validate ensures every required field is present. Cleanup mode does not
// need the repository or token fields, only the remote target.
func (c *Config) Validate(cleanup bool) error {
	if c.RemoteUser == "" {
		return fmt.Errorf("remote username is required")
	}
	if c.RemoteHost == "" {
		return fmt.Errorf("remote host is required")
	}
	if c.SSHKeyPath == "" {
		return fmt.Errorf("SSH private key path is required")
	}
	if c.RepoURL == "" {
		return fmt.Errorf("repository URL is required")
	}

	if cleanup {
		return nil
	}

	if c.GitToken == "" {
		return fmt.Errorf("git access token is required")
	}
	if c.AppPort < 1 || c.AppPort > 65535 {
		return fmt.Errorf("invalid application port: %d (must be 1-65535)", c.AppPort)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got: %v", c.ConnectTimeout)
	}

	return nil
}
