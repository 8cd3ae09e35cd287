// internal/cli/serve.go
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reconciliation-engine/internal/common/camunda"
	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/observability"
	"reconciliation-engine/internal/reconciliation/service"
	batchresolve "reconciliation-engine/internal/workers/reconciliation/batch-resolve-matches"
	startjob "reconciliation-engine/internal/workers/reconciliation/start-reconciliation-job"
	"reconciliation-engine/pkg/registry"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Run the engine with its workflow workers and health endpoints",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, rootOpts.newLogger(cfg.Logging))
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.Info("starting reconciler", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	rt, err := buildRuntime(ctx, cfg, obs, log)
	defer rt.close()
	if err != nil {
		return err
	}
	svc := rt.service

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pollQueue(ctx, svc, config.GetDuration(cfg.Reconciliation.QueuePollInterval))
	}()
	go func() {
		defer wg.Done()
		svc.MonitorStuckJobs(ctx, config.GetDuration(cfg.Reconciliation.StuckCheckInterval))
	}()

	var workers *camunda.Workers
	if cfg.Camunda.Enabled {
		zc, err := camunda.NewClientWithConfig(camunda.ClientConfigFrom(cfg.Camunda))
		if err != nil {
			return err
		}
		defer zc.Close()
		rt.checks["zeebe"] = zc.HealthCheck

		workers, err = registerWorkers(cfg, zc, svc, log)
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newHealthMux(rt.checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("health/metrics server listening", map[string]interface{}{"address": cfg.Server.Address})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health/metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if workers != nil {
		workers.Close()
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error("engine shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	wg.Wait()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("health/metrics server shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("reconciler stopped", nil)
	return nil
}

func registerWorkers(cfg *config.Config, zc *camunda.Client, svc *service.Service, log logger.Logger) (*camunda.Workers, error) {
	reg, err := registry.Default()
	if err != nil {
		return nil, err
	}
	workers := camunda.NewWorkers(zc.GetClient(), cfg.App.Name, log)

	if config.IsWorkerEnabled(cfg, startjob.TaskType) {
		wc := startjob.LoadConfig(cfg)
		workers.Register(startjob.NewHandler(wc, svc, reg, log), wc.MaxJobsActive, wc.Timeout)
	}
	if config.IsWorkerEnabled(cfg, batchresolve.TaskType) {
		wc := batchresolve.LoadConfig(cfg)
		workers.Register(batchresolve.NewHandler(wc, svc, reg, log), wc.MaxJobsActive, wc.Timeout)
	}

	log.Info("workers registered", map[string]interface{}{"taskTypes": workers.TaskTypes()})
	return workers, nil
}

// pollQueue admits queued jobs on every tick while capacity remains.
func pollQueue(ctx context.Context, svc *service.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.StartQueuedJobs(ctx)
		}
	}
}
