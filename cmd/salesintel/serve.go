package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"SalesIntel/internal/api"
	"SalesIntel/internal/task"
	"SalesIntel/pkg/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background run workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Server.Address = addr
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override server.address from the config")
	return cmd
}

// serve 在同一个 errgroup 中运行 API、任务处理器与可选的独立指标端口。
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	store, queue, err := a.newTaskBackend(ctx)
	if err != nil {
		return err
	}
	service := task.NewService(store, queue, cfg.Storage.TaskStore.MaxRetries)
	defer service.Close()

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithAlertDispatcher(a.newAlertDispatcher()),
		task.WithOutcomeObserver(a.metrics.ObserveRunOutcome),
	}
	if fallback := cfg.TaskQueue.Fallback; fallback.ReuseLastReport && a.history != nil {
		processorOpts = append(processorOpts, task.WithRecoveryHandler(task.LastReportRecovery{
			History: a.history,
			MaxAge:  time.Duration(fallback.MaxAgeHours) * time.Hour,
		}))
	}
	processor := task.NewProcessor(a.runner, store, queue, queue, processorOpts...)

	authSvc, err := a.newAuthService()
	if err != nil {
		return err
	}

	serverOpts := []api.Option{
		api.WithReports(a.history),
		api.WithKnowledge(a.knowledge),
		api.WithAuth(authSvc),
		api.WithTimeouts(cfg.Server.ReadTimeout(), cfg.Server.WriteTimeout()),
	}
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, api.WithMetrics(a.metrics, cfg.Metrics.Path))
	}
	standaloneMetrics := cfg.Metrics.Enabled && cfg.Metrics.Address != "" && cfg.Metrics.Address != cfg.Server.Address
	server := api.NewServer(cfg.Server.Address, service, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	if standaloneMetrics {
		g.Go(func() error { return a.metrics.StartServer(gctx, cfg.Metrics.Address, cfg.Metrics.Path) })
	}

	a.log.Info("salesintel serving",
		slog.String("addr", cfg.Server.Address),
		slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("task_queue", cfg.TaskQueue.Driver),
		slog.Int("workers", cfg.TaskQueue.Worker),
		slog.Bool("auth", authSvc.Enabled()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("salesintel stopped")
	return nil
}
