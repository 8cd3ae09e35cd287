// Package progress delivers job progress events to observers. Delivery is fire-and-forget:
// failures are logged and counted and never reach the job that emitted the event.
package progress

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sony/gobreaker"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
)

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, p models.JobProgress)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, p models.JobProgress) {
	for _, s := range m {
		s.Publish(ctx, p)
	}
}

// Close closes every sink that holds a connection.
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.WithFields(map[string]interface{}{"sink": "log"})}
}

func (s *LogSink) Publish(_ context.Context, p models.JobProgress) {
	fields := map[string]interface{}{
		"jobId":     p.JobID.String(),
		"projectId": p.ProjectID.String(),
		"status":    string(p.Status),
		"progress":  p.Progress,
		"phase":     p.CurrentPhase,
		"processed": p.ProcessedRecords,
		"matched":   p.MatchedRecords,
		"unmatched": p.UnmatchedRecords,
	}
	if p.TotalRecords != nil {
		fields["total"] = *p.TotalRecords
	}
	if p.Message != "" {
		fields["message"] = p.Message
	}
	s.logger.Info("job progress", fields)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, models.JobProgress) {}

func newBreaker(name string, cfg config.CircuitBreakerConfig, log logger.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Millisecond,
		Timeout:     time.Duration(cfg.Timeout) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// dropReason classifies a failed delivery for the dropped-events counter.
func dropReason(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

func recordDrop(sink string, err error, log logger.Logger, p models.JobProgress) {
	reason := dropReason(err)
	metrics.ProgressEventsDropped.WithLabelValues(sink, reason).Inc()
	log.Warn("progress event dropped", map[string]interface{}{
		"jobId":  p.JobID.String(),
		"reason": reason,
		"error":  err,
	})
}
