package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel slog.Level
	}{
		{
			name:      "debug level",
			level:     "debug",
			wantLevel: slog.LevelDebug,
		},
		{
			name:      "info level",
			level:     "info",
			wantLevel: slog.LevelInfo,
		},
		{
			name:      "warning level",
			level:     "warning",
			wantLevel: slog.LevelWarn,
		},
		{
			name:      "error level",
			level:     "error",
			wantLevel: slog.LevelError,
		},
		{
			name:      "silent level disables logging",
			level:     "silent",
			wantLevel: slog.Level(1000),
		},
		{
			name:      "invalid level defaults to info",
			level:     "invalid",
			wantLevel: slog.LevelInfo,
		},
		{
			name:      "empty string defaults to info",
			level:     "",
			wantLevel: slog.LevelInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLogLevel(tt.level)
			if got != tt.wantLevel {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.level, got, tt.wantLevel)
			}
		})
	}
}

func TestLogFileName(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 45, 0, time.UTC)
	got := LogFileName(now)
	want := "skiff-20240315-093045.log"
	if got != want {
		t.Errorf("LogFileName() = %q, want %q", got, want)
	}
}

func TestInitLoggingWithFile(t *testing.T) {
	dir := t.TempDir()

	path, err := InitLoggingWithFile("debug", dir)
	if err != nil {
		t.Fatalf("InitLoggingWithFile() error = %v", err)
	}

	if filepath.Dir(path) != dir {
		t.Errorf("InitLoggingWithFile() path = %q, want file in %q", path, dir)
	}
	if !strings.HasPrefix(filepath.Base(path), "skiff-") {
		t.Errorf("InitLoggingWithFile() path = %q, want skiff- prefix", path)
	}
}

func TestInitLoggingWithFileCurrentDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path, err := InitLoggingWithFile("info", ".")
	if err != nil {
		t.Fatalf("InitLoggingWithFile() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, filepath.Base(path))); err != nil {
		t.Errorf("expected log file in working directory: %v", err)
	}
}

func TestLogLevelFlag_Set(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{
			name:      "valid debug level",
			value:     "debug",
			wantError: false,
		},
		{
			name:      "valid silent level",
			value:     "silent",
			wantError: false,
		},
		{
			name:      "invalid level",
			value:     "verbose",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := &logLevelFlag{}
			err := flag.Set(tt.value)
			if (err != nil) != tt.wantError {
				t.Errorf("Set(%q) error = %v, wantError %v", tt.value, err, tt.wantError)
			}
			if !tt.wantError {
				if flag.String() != tt.value {
					t.Errorf("String() = %q, want %q", flag.String(), tt.value)
				}
				if !flag.IsSet() {
					t.Errorf("IsSet() = false, want true after Set")
				}
			}
		})
	}
}
