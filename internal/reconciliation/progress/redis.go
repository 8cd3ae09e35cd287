// internal/reconciliation/progress/redis.go
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
)

// RedisSink publishes events on <prefix>:<project id> and keeps the latest event of each job
// under <prefix>:job:<job id> so late subscribers can catch up.
type RedisSink struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	limit   rate.Limit
	burst   int
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

func NewRedisSink(client redis.Cmdable, cfg config.RedisSinkConfig, breakerCfg config.CircuitBreakerConfig, log logger.Logger) *RedisSink {
	log = log.WithFields(map[string]interface{}{"sink": "redis"})
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RedisSink{
		client:   client,
		prefix:   cfg.ChannelPrefix,
		ttl:      time.Duration(cfg.SnapshotTTL) * time.Millisecond,
		limit:    limit,
		burst:    burst,
		breaker:  newBreaker("progress-redis", breakerCfg, log),
		logger:   log,
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
}

func (s *RedisSink) Channel(projectID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", s.prefix, projectID)
}

func (s *RedisSink) SnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, jobID)
}

// allow throttles non-terminal events per job.
func (s *RedisSink) allow(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[jobID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[jobID] = l
	}
	return l.Allow()
}

func (s *RedisSink) forget(jobID uuid.UUID) {
	s.mu.Lock()
	delete(s.limiters, jobID)
	s.mu.Unlock()
}

func (s *RedisSink) Publish(ctx context.Context, p models.JobProgress) {
	if p.Status.IsTerminal() {
		s.forget(p.JobID)
	} else if !s.allow(p.JobID) {
		metrics.ProgressEventsDropped.WithLabelValues("redis", "throttled").Inc()
		return
	}

	payload, err := json.Marshal(p)
	if err != nil {
		recordDrop("redis", err, s.logger, p)
		return
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		if err := s.client.Publish(ctx, s.Channel(p.ProjectID), string(payload)).Err(); err != nil {
			return nil, err
		}
		return nil, s.client.Set(ctx, s.SnapshotKey(p.JobID), string(payload), s.ttl).Err()
	})
	if err != nil {
		recordDrop("redis", err, s.logger, p)
	}
}

// Snapshot returns the last event stored for a job, or nil when none is stored.
func (s *RedisSink) Snapshot(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	raw, err := s.client.Get(ctx, s.SnapshotKey(jobID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.JobProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
