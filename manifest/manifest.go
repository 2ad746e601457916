// Package manifest discovers how the staged application wants to be run.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/compose-spec/compose-go/v2/cli"
)

// Mode is the launch mode selected from the working copy.
type Mode int

const (
	// ModeSingleContainer builds one image from a Dockerfile and runs a
	// single container.
	ModeSingleContainer Mode = iota
	// ModeCompose brings up a Docker Compose project.
	ModeCompose
)

func (m Mode) String() string {
	switch m {
	case ModeSingleContainer:
		return "single-container"
	case ModeCompose:
		return "compose"
	default:
		return "unknown"
	}
}

// ErrNoManifest means the working copy contains neither a compose file nor a
// Dockerfile. Discovery happens before any remote mutation, so this aborts
// the deployment cleanly.
var ErrNoManifest = fmt.Errorf("no compose file or Dockerfile found in working copy")

// composeFileNames are the compose manifest names recognized at the root of
// the working copy, in lookup order.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// Manifest describes the selected launch mode. Exactly one mode is selected
// per deployment; a compose manifest takes precedence when both exist.
type Manifest struct {
	Mode Mode
	// ComposeFile is the manifest file name, relative to the working copy
	// root. Empty in single-container mode.
	ComposeFile string
}

// Discover inspects the working copy root and selects the launch mode.
func Discover(dir string) (*Manifest, error) {
	slog.Debug("Discovering application manifest", "dir", dir)

	for _, name := range composeFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if !isValidComposeFile(path) {
			slog.Debug("YAML file is not a valid compose file", "path", path)
			continue
		}

		slog.Info("Selected compose mode", "compose_file", name)
		return &Manifest{
			Mode:        ModeCompose,
			ComposeFile: name,
		}, nil
	}

	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		slog.Info("Selected single-container mode", "dir", dir)
		return &Manifest{Mode: ModeSingleContainer}, nil
	}

	slog.Error("Service operation failed",
		"layer", "manifest",
		"operation", "discover",
		"dir", dir,
		"error", ErrNoManifest)
	return nil, ErrNoManifest
}

// isValidComposeFile validates a YAML file against the compose specification.
func isValidComposeFile(path string) bool {
	options, err := cli.NewProjectOptions([]string{path})
	if err != nil {
		return false
	}

	_, err = options.LoadProject(context.Background())
	return err == nil
}
