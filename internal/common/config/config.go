// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App            AppConfig               `mapstructure:"app"`
	Camunda        CamundaConfig           `mapstructure:"camunda"`
	Database       DatabaseConfig          `mapstructure:"database"`
	Reconciliation ReconciliationConfig    `mapstructure:"reconciliation"`
	Storage        StorageConfig           `mapstructure:"storage"`
	Progress       ProgressConfig          `mapstructure:"progress"`
	Workers        map[string]WorkerConfig `mapstructure:"workers"`
	Logging        LoggingConfig           `mapstructure:"logging"`
	Server         ServerConfig            `mapstructure:"server"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetAddresses prefers the address list and falls back to the single URL.
func (e ElasticsearchConfig) GetAddresses() []string {
	if len(e.Addresses) > 0 {
		return e.Addresses
	}
	if e.URL != "" {
		return []string{e.URL}
	}
	return nil
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ReconciliationConfig tunes the scheduler and the chunk loop.
type ReconciliationConfig struct {
	MaxConcurrentJobs          int     `mapstructure:"max_concurrent_jobs"`
	ChunkSize                  int     `mapstructure:"chunk_size"`
	ProgressCeiling            int     `mapstructure:"progress_ceiling"`
	JobTimeoutSeconds          int     `mapstructure:"job_timeout_seconds"`
	StuckCheckInterval         int     `mapstructure:"stuck_check_interval"` // milliseconds
	QueuePollInterval          int     `mapstructure:"queue_poll_interval"`  // milliseconds
	DefaultConfidenceThreshold float64 `mapstructure:"default_confidence_threshold"`
}

// StorageConfig selects the persistence and record source backends.
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`        // postgres | memory
	RecordSource  string `mapstructure:"record_source"` // postgres | elasticsearch | memory
	ESIndexPrefix string `mapstructure:"es_index_prefix"`
}

type ProgressConfig struct {
	Sinks   []string             `mapstructure:"sinks"` // log, redis, kafka
	Redis   RedisSinkConfig      `mapstructure:"redis"`
	Kafka   KafkaSinkConfig      `mapstructure:"kafka"`
	Breaker CircuitBreakerConfig `mapstructure:"breaker"`
}

type RedisSinkConfig struct {
	ChannelPrefix string  `mapstructure:"channel_prefix"`
	SnapshotTTL   int     `mapstructure:"snapshot_ttl"` // milliseconds
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type KafkaSinkConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	WriteTimeout int      `mapstructure:"write_timeout"` // milliseconds
}

type CircuitBreakerConfig struct {
	MaxRequests  uint32  `mapstructure:"max_requests"`
	Interval     int     `mapstructure:"interval"` // milliseconds
	Timeout      int     `mapstructure:"timeout"`  // milliseconds
	FailureRatio float64 `mapstructure:"failure_ratio"`
	MinRequests  uint32  `mapstructure:"min_requests"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}
