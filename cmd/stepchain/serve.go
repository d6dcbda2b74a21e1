package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepchain/internal/server"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept builds over HTTP and run them one at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.New(a.runner,
				server.WithLedger(a.ledger),
				server.WithMetrics(a.metrics, a.registry),
				server.WithLogger(a.logger),
				server.WithQueueSize(c.cfg.Server.QueueSize),
			)
			go srv.Run(ctx)

			httpSrv := &http.Server{
				Addr:              c.cfg.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("stepchain server listening", zap.String("addr", httpSrv.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Int("queue-size", 16, "builds that may wait for the worker")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = c.v.BindPFlag("server.queue_size", cmd.Flags().Lookup("queue-size"))
	return cmd
}
