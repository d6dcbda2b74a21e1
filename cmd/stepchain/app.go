package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"stepchain/internal/blockchain"
	"stepchain/internal/config"
	"stepchain/internal/container"
	"stepchain/internal/core"
	"stepchain/internal/logging"
	"stepchain/internal/metrics"
	"stepchain/internal/security"
	"stepchain/internal/storage"
)

// app is the wired set of components one command works with.
type app struct {
	logger   *zap.Logger
	runner   *core.Runner
	ledger   *blockchain.Ledger
	metrics  *metrics.Collector
	registry *prometheus.Registry
}

func (c *cli) newLogger() (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:  c.cfg.Log.Level,
		Format: c.cfg.Log.Format,
		Color:  c.cfg.Log.Color,
	})
}

// newApp wires the executor, log storage, ledger and metrics from config.
// stream, when set, receives process step output live.
func (c *cli) newApp(ctx context.Context, stream io.Writer) (*app, error) {
	cfg := c.cfg
	logger, err := c.newLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	workspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	var exec core.Executor
	switch cfg.Executor {
	case config.ExecutorDocker:
		engine, err := container.NewDockerEngine(ctx)
		if err != nil {
			return nil, err
		}
		exec = container.NewExecutor(engine,
			container.WithLogger(logger),
			container.WithRetainContainers(cfg.RetainContainers),
		)
	default:
		pe := core.NewProcessExecutor()
		pe.Stream = stream
		exec = pe
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("stepchain", registry)

	opts := []core.RunnerOption{
		core.WithLogger(logger),
		core.WithWorkspace(workspace),
		core.WithAgentID(cfg.AgentID),
		core.WithLogStorage(storage.NewLogStorage(cfg.LogsDir)),
		core.WithObserver(collector),
	}

	a := &app{logger: logger, metrics: collector, registry: registry}
	if cfg.Ledger != "" {
		ledger, signer, err := openLedger(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.ledger = ledger
		opts = append(opts, core.WithLedger(ledger, signer))
	}

	a.runner = core.NewRunner(exec, opts...)
	return a, nil
}

func openLedger(cfg *config.Config, logger *zap.Logger) (*blockchain.Ledger, *security.Signer, error) {
	ledger, err := blockchain.OpenLedger(cfg.Ledger)
	if err != nil {
		return nil, nil, err
	}
	signer, created, err := security.LoadOrCreateSigner(cfg.KeysDir)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger keys: %w", err)
	}
	if created {
		logger.Info("generated ledger signing keys", zap.String("dir", cfg.KeysDir))
	}
	return ledger, signer, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
