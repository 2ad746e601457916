package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEnvironment(t *testing.T) {
	environment := map[string]string{
		"SKIFF_REPO_URL":        "https://example.com/acme/app.git",
		"SKIFF_REMOTE_USER":     "deploy",
		"SKIFF_REMOTE_HOST":     "203.0.113.10",
		"SKIFF_SSH_KEY":         "/home/me/.ssh/id_ed25519",
		"SKIFF_APP_PORT":        "3000",
		"SKIFF_CONNECT_TIMEOUT": "30s",
		"SKIFF_DATA_DIR":        "/data/skiff",
	}

	cfg, err := newWithEnvironment(environment)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/acme/app.git", cfg.RepoURL)
	assert.Equal(t, "deploy", cfg.RemoteUser)
	assert.Equal(t, "203.0.113.10", cfg.RemoteHost)
	assert.Equal(t, 3000, cfg.AppPort)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "/data/skiff", cfg.DataDir)

	// Defaults
	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, 80, cfg.PublicPort)
	assert.Equal(t, 22, cfg.SSHPort)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestAppNameFromRepo(t *testing.T) {
	tests := []struct {
		name    string
		repoURL string
		want    string
	}{
		{
			name:    "https URL with .git suffix",
			repoURL: "https://example.com/acme/app.git",
			want:    "app_app",
		},
		{
			name:    "URL without .git suffix",
			repoURL: "https://example.com/acme/widget",
			want:    "widget_app",
		},
		{
			name:    "trailing slash",
			repoURL: "https://example.com/acme/widget/",
			want:    "widget_app",
		},
		{
			name:    "name requiring slugification",
			repoURL: "https://example.com/acme/My.Cool_Repo.git",
			want:    "my-cool-repo_app",
		},
		{
			name:    "underscores fold into hyphens",
			repoURL: "https://example.com/acme/my_cool_repo.git",
			want:    "my-cool-repo_app",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AppNameFromRepo(tt.repoURL))
		})
	}
}

func TestDerive(t *testing.T) {
	cfg := &Config{
		RepoURL: "https://example.com/acme/app.git",
		DataDir: "/data/skiff",
	}
	cfg.Derive()

	assert.Equal(t, "app_app", cfg.AppName)
	assert.Equal(t, filepath.Join("/data/skiff", "src", "app_app"), cfg.LocalPath)
	assert.Equal(t, "app_app", cfg.RemoteDir)

	// Same repo URL always derives the same local path
	again := &Config{RepoURL: "https://example.com/acme/app.git", DataDir: "/data/skiff"}
	again.Derive()
	assert.Equal(t, cfg.LocalPath, again.LocalPath)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RepoURL:        "https://example.com/acme/app.git",
			GitToken:       "ghp_1234567890abcdefghij",
			Branch:         "main",
			RemoteUser:     "deploy",
			RemoteHost:     "203.0.113.10",
			SSHKeyPath:     "/home/me/.ssh/id_ed25519",
			AppPort:        3000,
			ConnectTimeout: 10 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		cleanup bool
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing repo URL",
			mutate:  func(c *Config) { c.RepoURL = "" },
			wantErr: "repository URL",
		},
		{
			name:    "missing remote user",
			mutate:  func(c *Config) { c.RemoteUser = "" },
			wantErr: "remote username",
		},
		{
			name:    "missing remote host",
			mutate:  func(c *Config) { c.RemoteHost = "" },
			wantErr: "remote host",
		},
		{
			name:    "missing SSH key",
			mutate:  func(c *Config) { c.SSHKeyPath = "" },
			wantErr: "SSH private key",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.GitToken = "" },
			wantErr: "git access token",
		},
		{
			name:    "cleanup mode does not need token or port",
			mutate:  func(c *Config) { c.GitToken = ""; c.AppPort = 0 },
			cleanup: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.AppPort = 70000 },
			wantErr: "invalid application port",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.ConnectTimeout = 0 },
			wantErr: "connect timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate(tt.cleanup)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
