package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// StepRequest is everything an executor needs to run one step.
type StepRequest struct {
	BuildID   string
	Index     int
	Ref       string
	Step      Step
	Workspace string
}

// StepOutput is what an executor observed.
type StepOutput struct {
	ExitCode int
	Output   string // stdout and stderr, interleaved
}

// Executor runs one step to completion.
// A non-zero exit is reported through StepOutput; an error means the step
// could not be run or was interrupted by ctx.
type Executor interface {
	RunStep(ctx context.Context, req StepRequest) (*StepOutput, error)
}

// ProcessExecutor runs steps as local processes.
type ProcessExecutor struct {
	// Stream, when set, also receives the output as it is produced.
	Stream io.Writer
}

func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{}
}

// RunStep starts the step's command with its args and waits for it.
func (e *ProcessExecutor) RunStep(ctx context.Context, req StepRequest) (*StepOutput, error) {
	command := req.Step.Command()
	if command == "" {
		return nil, fmt.Errorf("step %s: no command", req.Ref)
	}

	//nolint:gosec // running configured build steps is the point
	cmd := exec.CommandContext(ctx, command, req.Step.Args...)
	cmd.Dir = stepDir(req.Workspace, req.Step.Dir)
	cmd.Env = append(os.Environ(), req.Step.Env...)
	// children that outlive a killed step must not hold the run open
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	var w io.Writer = &out
	if e.Stream != nil {
		w = io.MultiWriter(&out, e.Stream)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &StepOutput{ExitCode: -1, Output: out.String()}, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &StepOutput{ExitCode: exitErr.ExitCode(), Output: out.String()}, nil
		}
		return &StepOutput{ExitCode: -1, Output: out.String()}, fmt.Errorf("start %s: %w", command, err)
	}
	return &StepOutput{ExitCode: 0, Output: out.String()}, nil
}

func stepDir(workspace, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	if workspace == "" {
		return dir
	}
	return filepath.Join(workspace, dir)
}
