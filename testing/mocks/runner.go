// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"io"
	"strings"

	"github.com/skiff-cd/skiff/remote"
)

// Response scripts the outcome for any remote command whose rendered form
// contains Match. Responses are checked in order; the first match wins.
type Response struct {
	Match  string
	Result *remote.Result
	Err    error
}

// FakeRunner implements remote.Runner with scripted responses. Commands with
// no matching response succeed with empty output, so tests only script what
// they assert on.
type FakeRunner struct {
	Responses []Response

	// Commands records every rendered command in execution order.
	Commands []string
	// Inputs records stdin content by rendered command.
	Inputs map[string]string
}

// Ensure FakeRunner implements remote.Runner
var _ remote.Runner = (*FakeRunner)(nil)

// On appends a scripted response.
func (f *FakeRunner) On(match string, result *remote.Result, err error) *FakeRunner {
	f.Responses = append(f.Responses, Response{Match: match, Result: result, Err: err})
	return f
}

// OnSuccess scripts a zero exit with the given stdout.
func (f *FakeRunner) OnSuccess(match, stdout string) *FakeRunner {
	return f.On(match, &remote.Result{ExitCode: 0, Stdout: stdout}, nil)
}

// OnFailure scripts a non-zero exit with the given stderr.
func (f *FakeRunner) OnFailure(match, stderr string) *FakeRunner {
	return f.On(match, &remote.Result{ExitCode: 1, Stderr: stderr}, nil)
}

func (f *FakeRunner) Run(ctx context.Context, cmd remote.Command) (*remote.Result, error) {
	return f.dispatch(cmd)
}

func (f *FakeRunner) RunWithInput(ctx context.Context, cmd remote.Command, stdin io.Reader) (*remote.Result, error) {
	if f.Inputs == nil {
		f.Inputs = make(map[string]string)
	}
	data, _ := io.ReadAll(stdin)
	f.Inputs[cmd.String()] = string(data)
	return f.dispatch(cmd)
}

func (f *FakeRunner) RunQuiet(ctx context.Context, cmd remote.Command) bool {
	res, err := f.dispatch(cmd)
	return err == nil && res.OK()
}

func (f *FakeRunner) dispatch(cmd remote.Command) (*remote.Result, error) {
	rendered := cmd.String()
	f.Commands = append(f.Commands, rendered)

	for _, r := range f.Responses {
		if strings.Contains(rendered, r.Match) {
			if r.Err != nil {
				return nil, r.Err
			}
			return r.Result, nil
		}
	}
	return &remote.Result{ExitCode: 0}, nil
}

// Ran reports whether any recorded command contains the given substring.
func (f *FakeRunner) Ran(match string) bool {
	for _, c := range f.Commands {
		if strings.Contains(c, match) {
			return true
		}
	}
	return false
}
