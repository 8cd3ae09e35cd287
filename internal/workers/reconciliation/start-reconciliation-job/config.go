// internal/workers/reconciliation/start-reconciliation-job/config.go
package startreconciliationjob

import (
	"time"

	"reconciliation-engine/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func LoadConfig(appConfig *config.Config) *Config {
	wc := config.GetWorkerConfig(appConfig, TaskType)
	cfg := &Config{
		Enabled:       wc.Enabled,
		MaxJobsActive: wc.MaxJobsActive,
		Timeout:       config.GetDuration(wc.Timeout),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxJobsActive <= 0 {
		cfg.MaxJobsActive = 5
	}
	return cfg
}
