// internal/cli/runtime.go
package cli

import (
	"context"
	"fmt"
	"time"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/database"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/observability"
	"reconciliation-engine/internal/reconciliation/progress"
	"reconciliation-engine/internal/reconciliation/service"
	"reconciliation-engine/internal/reconciliation/source"
	"reconciliation-engine/internal/reconciliation/store"
)

type healthCheck func(ctx context.Context) error

// runtime is the wired engine plus the connections it owns.
type runtime struct {
	service *service.Service
	sinks   progress.Multi
	checks  map[string]healthCheck
	closers []func() error
	log     logger.Logger
}

// retryWithBackoff retries operation with doubling delays until it succeeds, attempts run out or ctx ends.
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		log.Warn(operationName+" failed, retrying", map[string]interface{}{
			"error":       err.Error(),
			"attempt":     i + 1,
			"maxRetries":  maxRetries,
			"nextRetryIn": delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operationName, ctx.Err())
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func buildRuntime(ctx context.Context, cfg *config.Config, obs *observability.Observability, log logger.Logger) (*runtime, error) {
	rt := &runtime{checks: make(map[string]healthCheck), log: log}

	var pg *database.PostgresClient
	postgres := func() (*database.PostgresClient, error) {
		if pg != nil {
			return pg, nil
		}
		client, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		err = retryWithBackoff(ctx, func() error { return client.Ping(ctx) }, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			client.Close()
			return nil, err
		}
		pg = client
		rt.checks["postgres"] = client.Ping
		rt.closers = append(rt.closers, client.Close)
		log.Info("PostgreSQL connected", nil)
		return pg, nil
	}

	var st store.Store
	switch cfg.Storage.Driver {
	case "memory":
		st = store.NewMemoryStore()
	default:
		client, err := postgres()
		if err != nil {
			return rt, err
		}
		ps := store.NewPostgresStore(client.DB, log)
		if err := ps.EnsureSchema(ctx); err != nil {
			return rt, err
		}
		st = ps
	}

	var records source.RecordSource
	switch cfg.Storage.RecordSource {
	case "memory":
		records = source.NewMemorySource()
	case "elasticsearch":
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return rt, err
		}
		if err := retryWithBackoff(ctx, func() error { return es.Ping(ctx) }, 15, 2*time.Second, log, "Elasticsearch connection"); err != nil {
			return rt, err
		}
		rt.checks["elasticsearch"] = es.Ping
		records = source.NewElasticsearchSource(es.Client, cfg.Storage.ESIndexPrefix)
		log.Info("Elasticsearch connected", nil)
	default:
		client, err := postgres()
		if err != nil {
			return rt, err
		}
		records = source.NewPostgresSource(client.DB)
	}

	var rdb *database.RedisClient
	if wantsSink(cfg.Progress.Sinks, "redis") {
		client, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return rt, err
		}
		if err := retryWithBackoff(ctx, func() error { return client.Ping(ctx) }, 10, 2*time.Second, log, "Redis connection"); err != nil {
			client.Close()
			return rt, err
		}
		rdb = client
		rt.checks["redis"] = client.Ping
		rt.closers = append(rt.closers, client.Close)
		log.Info("Redis connected", nil)
	}

	var sinks progress.Multi
	var err error
	if rdb != nil {
		sinks, err = progress.FromConfig(cfg.Progress, rdb.Client, log)
	} else {
		sinks, err = progress.FromConfig(cfg.Progress, nil, log)
	}
	if err != nil {
		return rt, err
	}
	rt.sinks = sinks

	deps := service.Dependencies{
		Store:     st,
		Records:   records,
		Sink:      sinks,
		Telemetry: obs,
	}
	if snap := sinks.SnapshotSource(); snap != nil {
		deps.Snapshots = snap
	}
	rt.service = service.New(cfg.Reconciliation, deps, log)
	return rt, nil
}

func wantsSink(sinks []string, name string) bool {
	for _, s := range sinks {
		if s == name {
			return true
		}
	}
	return false
}

// close releases connections in reverse order of acquisition.
func (rt *runtime) close() {
	if rt.sinks != nil {
		if err := rt.sinks.Close(); err != nil {
			rt.log.Warn("closing progress sinks", map[string]interface{}{"error": err.Error()})
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.log.Warn("closing connection", map[string]interface{}{"error": err.Error()})
		}
	}
}
