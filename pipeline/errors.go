package pipeline

import (
	"errors"
	"fmt"

	"github.com/skiff-cd/skiff/remote"
)

// Kind classifies a failure by the stage that raised it. Each kind maps 1:1
// to a process exit code.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindClone
	KindConnectivity
	KindProvision
	KindSync
	KindDeploy
	KindProxy
	KindValidation
	KindCleanup
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindClone:
		return "source staging failed"
	case KindConnectivity:
		return "cannot reach remote host"
	case KindProvision:
		return "environment provisioning failed"
	case KindSync:
		return "file sync failed"
	case KindDeploy:
		return "deployment failed"
	case KindProxy:
		return "proxy configuration failed"
	case KindValidation:
		return "deployment validation failed"
	case KindCleanup:
		return "teardown failed"
	default:
		return "unknown failure"
	}
}

// ExitCode maps the failure kind to the process exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindInvalidInput:
		return 10
	case KindClone:
		return 20
	case KindConnectivity:
		return 30
	case KindProvision:
		return 40
	case KindSync, KindDeploy:
		// Sync failures count as overall deploy failures
		return 50
	case KindProxy:
		return 60
	case KindValidation:
		return 70
	case KindCleanup:
		return 80
	default:
		return 1
	}
}

// StageError wraps a stage failure with its classification.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Fail wraps err as a StageError of the given kind. A nil err passes
// through.
func Fail(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: kind, Err: err}
}

// ExitCode maps any error to the process exit code. Connectivity failures
// take precedence over the stage they surfaced in, so "could not reach host"
// is always distinguishable from "reached host, stage failed".
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var connErr *remote.ConnectivityError
	if errors.As(err, &connErr) {
		return KindConnectivity.ExitCode()
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind.ExitCode()
	}

	return 1
}
