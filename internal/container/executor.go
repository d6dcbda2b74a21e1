package container

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"go.uber.org/zap"

	"stepchain/internal/core"
)

// WorkspaceMount is where the build workspace appears inside step containers.
const WorkspaceMount = "/workspace"

// Labels set on every step container.
const (
	LabelBuild = "io.stepchain.build"
	LabelStep  = "io.stepchain.step"
)

// Executor runs each step inside its builder image.
type Executor struct {
	engine Engine
	logger *zap.Logger

	// RetainContainers keeps finished containers around for inspection.
	RetainContainers bool
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithRetainContainers(retain bool) Option {
	return func(e *Executor) { e.RetainContainers = retain }
}

func NewExecutor(engine Engine, opts ...Option) *Executor {
	e := &Executor{engine: engine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "container"))
	return e
}

// RunStep pulls the step image when missing, runs it to completion and collects its output.
func (e *Executor) RunStep(ctx context.Context, req core.StepRequest) (*core.StepOutput, error) {
	step := req.Step
	logger := e.logger.With(zap.String("step", req.Ref), zap.String("image", step.Name))

	exists, err := e.engine.ImageExists(ctx, step.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		pullStart := time.Now()
		if err := e.engine.ImagePull(ctx, step.Name); err != nil {
			return nil, err
		}
		logger.Info("image pulled", zap.Duration("elapsed", time.Since(pullStart)))
	}

	id, err := e.engine.Create(ctx, e.containerConfig(req), e.hostConfig(req), "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	logger = logger.With(zap.String("container", id))
	defer e.cleanup(id, logger)

	if err := e.engine.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	exitCode, waitErr := e.engine.Wait(ctx, id)

	// collect whatever was written, even if the wait was interrupted
	var out bytes.Buffer
	logsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := e.engine.Logs(logsCtx, id, &out, &out); err != nil {
		logger.Warn("cannot read container logs", zap.Error(err))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &core.StepOutput{ExitCode: -1, Output: out.String()}, ctxErr
	}
	if waitErr != nil {
		return &core.StepOutput{ExitCode: -1, Output: out.String()}, fmt.Errorf("wait container: %w", waitErr)
	}
	logger.Debug("container exited", zap.Int64("exit_code", exitCode))
	return &core.StepOutput{ExitCode: int(exitCode), Output: out.String()}, nil
}

func (e *Executor) containerConfig(req core.StepRequest) *container.Config {
	step := req.Step
	cfg := &container.Config{
		Image:      step.Name,
		Cmd:        step.Args,
		Env:        step.Env,
		WorkingDir: containerDir(step.Dir),
		Labels: map[string]string{
			LabelBuild: req.BuildID,
			LabelStep:  req.Ref,
		},
		Tty:          false,
		OpenStdin:    false,
		AttachStdout: false,
		AttachStderr: false,
	}
	// only override the image entrypoint when the step names one
	if step.Entrypoint != "" {
		cfg.Entrypoint = []string{step.Entrypoint}
	}
	return cfg
}

func (e *Executor) hostConfig(req core.StepRequest) *container.HostConfig {
	host := &container.HostConfig{}
	if req.Workspace != "" {
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.Workspace,
			Target: WorkspaceMount,
		}}
	}
	return host
}

func (e *Executor) cleanup(id string, logger *zap.Logger) {
	if e.RetainContainers {
		logger.Info("retaining container")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.engine.Remove(ctx, id); err != nil {
		logger.Warn("cannot remove container", zap.Error(err))
	}
}

func containerDir(dir string) string {
	if path.IsAbs(dir) {
		return dir
	}
	return path.Join(WorkspaceMount, dir)
}
