package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"stepchain/internal/blockchain"
	"stepchain/internal/security"
	"stepchain/internal/storage"
)

// Observer is told about finished steps and builds, e.g. to export metrics.
type Observer interface {
	StepFinished(name string, status string, elapsed time.Duration)
	BuildFinished(status string, elapsed time.Duration)
}

// Runner ties together Scheduler + Executor + log storage + ledger
type Runner struct {
	Scheduler  *Scheduler
	Executor   Executor
	LogStorage *storage.LogStorage // nil disables step logs
	Ledger     *blockchain.Ledger  // nil disables provenance records
	Signer     *security.Signer
	Observer   Observer
	Logger     *zap.Logger
	Workspace  string
	AgentID    string

	// Progress, when set, receives a snapshot after every state change.
	Progress func(Result)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithLogStorage(ls *storage.LogStorage) RunnerOption {
	return func(r *Runner) { r.LogStorage = ls }
}

func WithLedger(l *blockchain.Ledger, signer *security.Signer) RunnerOption {
	return func(r *Runner) {
		r.Ledger = l
		r.Signer = signer
	}
}

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.Observer = o }
}

func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.Logger = l }
}

func WithWorkspace(dir string) RunnerOption {
	return func(r *Runner) { r.Workspace = dir }
}

func WithAgentID(id string) RunnerOption {
	return func(r *Runner) { r.AgentID = id }
}

func WithProgress(fn func(Result)) RunnerOption {
	return func(r *Runner) { r.Progress = fn }
}

// NewRunner creates a runner around exec.
func NewRunner(exec Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		Scheduler: NewScheduler(),
		Executor:  exec,
		Logger:    zap.NewNop(),
		AgentID:   "local-agent",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Logger = r.Logger.With(zap.String("component", "runner"))
	return r
}

// Prepare builds the substitution table and resolves the whole build.
func (r *Runner) Prepare(build *Build, env BuildEnv, overrides map[string]string) (*Plan, error) {
	table, err := NewTable(build, env, overrides)
	if err != nil {
		return nil, err
	}
	return r.Scheduler.Plan(build, table)
}

// RunBuild prepares and runs build. Preparation errors are returned before any step runs.
func (r *Runner) RunBuild(ctx context.Context, build *Build, env BuildEnv, overrides map[string]string) (*Result, error) {
	plan, err := r.Prepare(build, env, overrides)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, plan)
}

// Run executes the plan's steps sequentially and stops at the first failure.
// The returned error is the *StepFailure of that step, if any.
func (r *Runner) Run(ctx context.Context, plan *Plan) (*Result, error) {
	logger := r.Logger.With(zap.String("build", plan.BuildID))

	start := time.Now().UTC()
	res := NewResult(plan, StatusWorking)
	res.StartedAt = &start

	buildCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	logger.Info("starting build", zap.Int("steps", len(plan.Steps)), zap.Duration("timeout", plan.Timeout))

	for i := 0; ; i++ {
		ps, ok := r.Scheduler.NextStep(plan, i)
		if !ok {
			break
		}
		if failure := r.runStep(ctx, buildCtx, plan, ps, res, logger); failure != nil {
			res.Failure = failure
			r.finish(res, failure.Status, logger)
			return res, failure
		}
	}

	res.Images = append([]string(nil), plan.Images...)
	r.finish(res, StatusSuccess, logger)
	return res, nil
}

func (r *Runner) runStep(ctx, buildCtx context.Context, plan *Plan, ps PlannedStep, res *Result, logger *zap.Logger) *StepFailure {
	sr := &res.Steps[ps.Index]
	logger = logger.With(zap.String("step", ps.Ref), zap.Int("index", ps.Index))

	started := time.Now().UTC()
	sr.StartedAt = &started
	sr.Status = StatusWorking
	res.CurrentStep = ps.Index
	r.progress(res)

	logger.Info("running step", zap.String("name", ps.Step.Name), zap.Strings("args", ps.Step.Args))

	stepCtx, stepCancel := buildCtx, context.CancelFunc(func() {})
	if ps.Timeout > 0 {
		stepCtx, stepCancel = context.WithTimeout(buildCtx, ps.Timeout)
	}
	out, err := r.Executor.RunStep(stepCtx, StepRequest{
		BuildID:   plan.BuildID,
		Index:     ps.Index,
		Ref:       ps.Ref,
		Step:      ps.Step,
		Workspace: r.Workspace,
	})
	stepCancel()

	if out == nil {
		out = &StepOutput{ExitCode: -1}
	}
	status := classify(ctx, out.ExitCode, err)

	finished := time.Now().UTC()
	sr.FinishedAt = &finished
	sr.Status = status
	sr.ExitCode = out.ExitCode
	r.record(plan, ps, sr, out.Output, logger)

	elapsed := finished.Sub(started)
	if r.Observer != nil {
		r.Observer.StepFinished(ps.Step.Name, string(status), elapsed)
	}

	if status == StatusSuccess {
		logger.Info("step completed", zap.Duration("elapsed", elapsed))
		r.progress(res)
		return nil
	}

	logger.Error("step failed", zap.String("status", string(status)), zap.Int("exit_code", out.ExitCode), zap.Error(err))
	return &StepFailure{StepID: ps.Ref, Index: ps.Index, ExitCode: out.ExitCode, Status: status, Err: err}
}

func classify(parent context.Context, exitCode int, err error) Status {
	switch {
	case err == nil && exitCode == 0:
		return StatusSuccess
	case err == nil:
		return StatusFailure
	case errors.Is(parent.Err(), context.Canceled):
		return StatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusFailure
	}
}

// record stores the step output and appends a ledger block. Failures here
// are logged and never change the step outcome.
func (r *Runner) record(plan *Plan, ps PlannedStep, sr *StepResult, output string, logger *zap.Logger) {
	digest := storage.Digest(output)

	if r.LogStorage != nil && plan.Options.StoreLogs() {
		path, sum, err := r.LogStorage.SaveLog(plan.BuildID, ps.Index, ps.Ref, output)
		if err != nil {
			logger.Warn("cannot save step log", zap.Error(err))
		} else {
			sr.LogPath = path
			digest = sum
			logger.Debug("step log saved", zap.String("path", path))
		}
	}
	sr.LogDigest = digest

	if r.Ledger == nil {
		return
	}
	blk, err := r.Ledger.Record(blockchain.Entry{
		BuildID:   plan.BuildID,
		StepIndex: ps.Index,
		StepRef:   ps.Ref,
		StepName:  ps.Step.Name,
		ExitCode:  sr.ExitCode,
		LogPath:   sr.LogPath,
		LogHash:   digest,
		AgentID:   r.AgentID,
	}, r.Signer)
	if err != nil {
		logger.Warn("cannot append ledger block", zap.Error(err))
		return
	}
	logger.Debug("ledger block appended", zap.Int("block", blk.Index), zap.String("hash", blk.Hash))
}

func (r *Runner) finish(res *Result, status Status, logger *zap.Logger) {
	finished := time.Now().UTC()
	res.FinishedAt = &finished
	res.Status = status
	elapsed := finished.Sub(*res.StartedAt)

	if r.Observer != nil {
		r.Observer.BuildFinished(string(status), elapsed)
	}
	if status == StatusSuccess {
		logger.Info("build finished", zap.Duration("elapsed", elapsed), zap.Strings("images", res.Images))
	} else {
		logger.Error("build failed", zap.String("status", string(status)), zap.Duration("elapsed", elapsed))
	}
	r.progress(res)
}

func (r *Runner) progress(res *Result) {
	if r.Progress != nil {
		r.Progress(res.Clone())
	}
}
