// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml and applies env overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("loaded .env from: %s\n", path)
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig honours the legacy environment variables used by existing deployments.
func overrideEmptyConfig(cfg *Config) {
	if val := os.Getenv("RECONCILIATION_JOB_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			cfg.Reconciliation.JobTimeoutSeconds = secs
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "reconciliation-engine"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	r := &cfg.Reconciliation
	if r.MaxConcurrentJobs == 0 {
		r.MaxConcurrentJobs = 5
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = 100
	}
	if r.ProgressCeiling == 0 {
		r.ProgressCeiling = 80
	}
	if r.JobTimeoutSeconds == 0 {
		r.JobTimeoutSeconds = 7200
	}
	if r.StuckCheckInterval == 0 {
		r.StuckCheckInterval = 60000
	}
	if r.QueuePollInterval == 0 {
		r.QueuePollInterval = 5000
	}
	if r.DefaultConfidenceThreshold == 0 {
		r.DefaultConfidenceThreshold = 0.8
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Storage.RecordSource == "" {
		cfg.Storage.RecordSource = "postgres"
	}
	if cfg.Storage.ESIndexPrefix == "" {
		cfg.Storage.ESIndexPrefix = "records-"
	}

	p := &cfg.Progress
	if len(p.Sinks) == 0 {
		p.Sinks = []string{"log"}
	}
	if p.Redis.ChannelPrefix == "" {
		p.Redis.ChannelPrefix = "reconciliation:progress"
	}
	if p.Redis.SnapshotTTL == 0 {
		p.Redis.SnapshotTTL = 3600000
	}
	if p.Redis.RatePerSecond == 0 {
		p.Redis.RatePerSecond = 10
	}
	if p.Redis.Burst == 0 {
		p.Redis.Burst = 20
	}
	if p.Kafka.Topic == "" {
		p.Kafka.Topic = "reconciliation.progress"
	}
	if p.Kafka.WriteTimeout == 0 {
		p.Kafka.WriteTimeout = 5000
	}
	if p.Breaker.MaxRequests == 0 {
		p.Breaker.MaxRequests = 1
	}
	if p.Breaker.Interval == 0 {
		p.Breaker.Interval = 60000
	}
	if p.Breaker.Timeout == 0 {
		p.Breaker.Timeout = 30000
	}
	if p.Breaker.FailureRatio == 0 {
		p.Breaker.FailureRatio = 0.6
	}
	if p.Breaker.MinRequests == 0 {
		p.Breaker.MinRequests = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	r := cfg.Reconciliation
	if r.MaxConcurrentJobs < 1 {
		return fmt.Errorf("reconciliation.max_concurrent_jobs must be at least 1")
	}
	if r.ChunkSize < 1 {
		return fmt.Errorf("reconciliation.chunk_size must be at least 1")
	}
	if r.ProgressCeiling < 1 || r.ProgressCeiling > 99 {
		return fmt.Errorf("reconciliation.progress_ceiling must be between 1 and 99")
	}
	if r.DefaultConfidenceThreshold < 0 || r.DefaultConfidenceThreshold > 1 {
		return fmt.Errorf("reconciliation.default_confidence_threshold must be between 0 and 1")
	}

	switch cfg.Storage.Driver {
	case "postgres":
		if err := validatePostgres(cfg.Database.Postgres); err != nil {
			return err
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}

	switch cfg.Storage.RecordSource {
	case "postgres":
		if err := validatePostgres(cfg.Database.Postgres); err != nil {
			return err
		}
	case "elasticsearch":
		if len(cfg.Database.Elasticsearch.GetAddresses()) == 0 {
			return fmt.Errorf("database.elasticsearch.addresses or url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.record_source %q is not supported", cfg.Storage.RecordSource)
	}

	for _, sink := range cfg.Progress.Sinks {
		switch sink {
		case "log":
		case "redis":
			if cfg.Database.Redis.Address == "" {
				return fmt.Errorf("database.redis.address is required for the redis progress sink")
			}
		case "kafka":
			if len(cfg.Progress.Kafka.Brokers) == 0 {
				return fmt.Errorf("progress.kafka.brokers is required for the kafka progress sink")
			}
		default:
			return fmt.Errorf("progress sink %q is not supported", sink)
		}
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	return nil
}

func validatePostgres(pg PostgresConfig) error {
	if pg.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if pg.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if pg.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// JobTimeout is the wall-clock budget of a single reconciliation job.
func (r ReconciliationConfig) JobTimeout() time.Duration {
	return time.Duration(r.JobTimeoutSeconds) * time.Second
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
