package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stepchain/internal/blockchain"
	"stepchain/internal/core"
	"stepchain/internal/metrics"
)

const maxConfigBytes = 1 << 20

var (
	// ErrQueueFull is returned when no more builds can be queued.
	ErrQueueFull = errors.New("build queue is full")
	// ErrStopped is returned once the worker has shut down.
	ErrStopped = errors.New("build server is shutting down")
)

// Server accepts build submissions and runs them one at a time.
type Server struct {
	mu     sync.Mutex
	builds map[string]core.Result
	order  []string
	closed bool

	runner   *core.Runner
	ledger   *blockchain.Ledger
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	queue    chan *core.Plan
}

// Option configures a Server.
type Option func(*Server)

func WithLedger(l *blockchain.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

func WithMetrics(c *metrics.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		s.gatherer = g
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithQueueSize(n int) Option {
	return func(s *Server) { s.queue = make(chan *core.Plan, n) }
}

// New creates a server around runner. The runner's progress hook is taken over
// so the server always holds the latest snapshot of every build.
func New(runner *core.Runner, opts ...Option) *Server {
	s := &Server{
		builds: make(map[string]core.Result),
		runner: runner,
		logger: zap.NewNop(),
		queue:  make(chan *core.Plan, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "server"))
	runner.Progress = s.store
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/builds", func(r chi.Router) {
		r.Post("/", s.handleSubmitBuild)
		r.Get("/", s.handleListBuilds)
		r.Get("/{id}", s.handleGetBuild)
	})
	r.Get("/ledger/verify", s.handleVerifyLedger)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Run drains the queue until ctx is done. Builds never overlap.
// Builds still waiting when ctx is done are marked CANCELLED.
func (s *Server) Run(ctx context.Context) {
	defer s.cancelQueued()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case plan := <-s.queue:
			s.setQueueDepth()
			// the failure is already part of the stored result
			_, _ = s.runner.Run(ctx, plan)
		}
	}
}

// Enqueue records plan as queued and hands it to the worker.
func (s *Server) Enqueue(plan *core.Plan) error {
	queued := core.NewResult(plan, core.StatusQueued)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStopped
	}
	select {
	case s.queue <- plan:
	default:
		return ErrQueueFull
	}
	s.putLocked(*queued)
	s.setQueueDepth()
	return nil
}

// Build returns the latest snapshot of a build.
func (s *Server) Build(id string) (core.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.builds[id]
	return res, ok
}

// cancelQueued stops accepting builds and finishes the ones left in the queue.
func (s *Server) cancelQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	for {
		select {
		case plan := <-s.queue:
			res, ok := s.builds[plan.BuildID]
			if !ok {
				res = *core.NewResult(plan, core.StatusQueued)
			}
			finished := time.Now().UTC()
			res.Status = core.StatusCancelled
			res.FinishedAt = &finished
			s.putLocked(res)
			s.logger.Info("queued build cancelled", zap.String("build", plan.BuildID))
		default:
			s.setQueueDepth()
			return
		}
	}
}

func (s *Server) store(res core.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(res)
}

func (s *Server) putLocked(res core.Result) {
	if _, ok := s.builds[res.BuildID]; !ok {
		s.order = append(s.order, res.BuildID)
	}
	s.builds[res.BuildID] = res
}

func (s *Server) setQueueDepth() {
	if s.metrics != nil {
		s.metrics.SetQueueDepth(len(s.queue))
	}
}

//=============================== build handlers ============================================//

// POST /builds -> submit a build document
// query: sub=KEY=VALUE (repeatable), commit_sha, branch_name, tag_name, repo_name,
// trigger_id, trigger_name, project_id
func (s *Server) handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body: "+err.Error())
		return
	}

	build, err := core.ParseConfig(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	overrides, err := parseOverrides(q["sub"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env := core.BuildEnv{
		ProjectID:   q.Get("project_id"),
		CommitSHA:   q.Get("commit_sha"),
		BranchName:  q.Get("branch_name"),
		TagName:     q.Get("tag_name"),
		RepoName:    q.Get("repo_name"),
		TriggerID:   q.Get("trigger_id"),
		TriggerName: q.Get("trigger_name"),
	}

	plan, err := s.runner.Prepare(build, env, overrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Enqueue(plan); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Info("build queued", zap.String("build", plan.BuildID), zap.Int("steps", len(plan.Steps)))

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     plan.BuildID,
		"status": string(core.StatusQueued),
	})
}

// GET /builds
func (s *Server) handleListBuilds(w http.ResponseWriter, _ *http.Request) {
	type summary struct {
		ID     string      `json:"id"`
		Status core.Status `json:"status"`
	}

	s.mu.Lock()
	list := make([]summary, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, summary{ID: id, Status: s.builds[id].Status})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

// GET /builds/{id}
func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := s.Build(id)
	if !ok {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

//=============================== ledger handlers ============================================//

// GET /ledger/verify -> run VerifyChain
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "no ledger configured")
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		writeError(w, http.StatusInternalServerError, "ledger verification failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "blocks": s.ledger.Len()})
}

//=============================== helpers ============================================//

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad substitution %q, want KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
