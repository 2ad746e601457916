// Package validate confirms a deployment's health through independent
// signals instead of trusting a single success indicator.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skiff-cd/skiff/launcher"
	"github.com/skiff-cd/skiff/remote"
)

// StatusUnreachable is the sentinel status for an HTTP probe that could not
// reach its target at all.
const StatusUnreachable = 0

// Report is the outcome of one validation pass. It is ephemeral: written to
// the log and shown to the operator, never persisted.
type Report struct {
	// RuntimeUp is the hard daemon gate.
	RuntimeUp bool
	// ContainerInfo is the running-process listing for the logical name.
	ContainerInfo string
	// InternalStatus is the HTTP status seen from the remote host's own
	// loopback, StatusUnreachable when the probe failed.
	InternalStatus int
	// ExternalStatus is the HTTP status seen from this machine over the
	// public port, StatusUnreachable when the probe failed.
	ExternalStatus int
}

type Validator struct {
	runner remote.Runner

	// Injectable for testing
	httpClient *http.Client
}

func New(runner remote.Runner) *Validator {
	return &Validator{
		runner:     runner,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Check runs the validation gates. The daemon and process checks are hard
// gates: their failure is returned as an error alongside the partial report.
// The two HTTP probes are soft signals only; unreachable results are logged
// as warnings because startup delay and external firewalling are expected
// and outside this tool's control.
func (v *Validator) Check(ctx context.Context, id launcher.Identity, host string, publicPort int) (*Report, error) {
	report := &Report{}

	// (a) the container runtime daemon itself responds
	res, err := v.runner.Run(ctx, remote.Cmd("docker", "info", "--format", "{{.ServerVersion}}"))
	if err != nil {
		return report, err
	}
	if !res.OK() {
		slog.Error("Service operation failed",
			"layer", "validate",
			"operation", "daemon_check",
			"stderr", res.Stderr)
		return report, fmt.Errorf("container runtime daemon is not responding: %s", res.Stderr)
	}
	report.RuntimeUp = true

	// (b) a process bearing the logical name is running
	res, err = v.runner.Run(ctx, remote.Cmd(
		"docker", "ps",
		"--filter", "name="+id.Name,
		"--filter", "status=running",
		"--format", "{{.Names}}  {{.Status}}"))
	if err != nil {
		return report, err
	}
	report.ContainerInfo = strings.TrimSpace(res.Stdout)
	if report.ContainerInfo == "" {
		return report, fmt.Errorf("no running container named %s", id.Name)
	}

	// (c) soft: HTTP probe from the remote host to its own loopback
	report.InternalStatus = v.internalProbe(ctx, id.InternalPort)
	if report.InternalStatus == StatusUnreachable {
		slog.Warn("Internal HTTP probe unreachable", "port", id.InternalPort)
	}

	// (d) soft: HTTP probe from this machine to the public address
	report.ExternalStatus = v.externalProbe(ctx, host, publicPort)
	if report.ExternalStatus == StatusUnreachable {
		slog.Warn("External HTTP probe unreachable", "host", host, "port", publicPort)
	}

	slog.Info("Validation completed",
		"runtime_up", report.RuntimeUp,
		"internal_status", report.InternalStatus,
		"external_status", report.ExternalStatus)
	return report, nil
}

func (v *Validator) internalProbe(ctx context.Context, port int) int {
	res, err := v.runner.Run(ctx, remote.Cmd(
		"curl", "-s", "-o", "/dev/null",
		"-w", "%{http_code}",
		"--max-time", "10",
		fmt.Sprintf("http://127.0.0.1:%d/", port)))
	if err != nil || !res.OK() {
		return StatusUnreachable
	}

	status, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return StatusUnreachable
	}
	return status
}

func (v *Validator) externalProbe(ctx context.Context, host string, publicPort int) int {
	url := fmt.Sprintf("http://%s/", host)
	if publicPort != 80 {
		url = fmt.Sprintf("http://%s:%d/", host, publicPort)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusUnreachable
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return StatusUnreachable
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("Failed to close probe response body", "error", closeErr)
		}
	}()

	return resp.StatusCode
}
