// internal/reconciliation/progress/kafka.go
package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per event, keyed by job id so a job's events stay ordered.
type KafkaSink struct {
	writer       messageWriter
	writeTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker
	logger       logger.Logger
}

func NewKafkaSink(cfg config.KafkaSinkConfig, breakerCfg config.CircuitBreakerConfig, log logger.Logger) *KafkaSink {
	timeout := time.Duration(cfg.WriteTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
	}
	return newKafkaSink(w, timeout, breakerCfg, log)
}

func newKafkaSink(w messageWriter, timeout time.Duration, breakerCfg config.CircuitBreakerConfig, log logger.Logger) *KafkaSink {
	log = log.WithFields(map[string]interface{}{"sink": "kafka"})
	return &KafkaSink{
		writer:       w,
		writeTimeout: timeout,
		breaker:      newBreaker("progress-kafka", breakerCfg, log),
		logger:       log,
	}
}

func (s *KafkaSink) Publish(ctx context.Context, p models.JobProgress) {
	payload, err := json.Marshal(p)
	if err != nil {
		recordDrop("kafka", err, s.logger, p)
		return
	}

	msg := kafka.Message{
		Key:   []byte(p.JobID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(p.JobID.String())},
			{Key: "project_id", Value: []byte(p.ProjectID.String())},
			{Key: "status", Value: []byte(p.Status)},
		},
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
		return nil, s.writer.WriteMessages(wctx, msg)
	})
	if err != nil {
		recordDrop("kafka", err, s.logger, p)
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
