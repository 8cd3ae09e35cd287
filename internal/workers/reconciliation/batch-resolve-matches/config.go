// internal/workers/reconciliation/batch-resolve-matches/config.go
package batchresolvematches

import (
	"time"

	"reconciliation-engine/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
	// MaxResolves caps the number of items accepted in one job.
	MaxResolves int
}

func LoadConfig(appConfig *config.Config) *Config {
	wc := config.GetWorkerConfig(appConfig, TaskType)
	cfg := &Config{
		Enabled:       wc.Enabled,
		MaxJobsActive: wc.MaxJobsActive,
		Timeout:       config.GetDuration(wc.Timeout),
		MaxResolves:   1000,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxJobsActive <= 0 {
		cfg.MaxJobsActive = 5
	}
	return cfg
}
