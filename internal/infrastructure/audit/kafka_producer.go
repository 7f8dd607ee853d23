// Package audit publishes admission audit events to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/aegis/internal/config"
	"github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/pkg/logger"
)

// KafkaProducer is a Kafka-backed implementation of AuditService. Writes are
// asynchronous so the admission path never blocks on the broker.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaProducer creates the audit producer.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: writeTimeout,
		BatchTimeout: batchTimeout,
		Async:        true,
	}

	return &KafkaProducer{
		writer: writer,
		logger: log.WithComponent("audit_producer"),
	}
}

// LogEvent sends one audit event to the audit topic.
func (p *KafkaProducer) LogEvent(ctx context.Context, event service.AuditEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ActorID),
		Value: payload,
	})
	if err != nil {
		p.logger.Warn(ctx, "failed to publish audit event",
			logger.String("event_type", event.EventType),
			logger.Error(err),
		)
		return err
	}

	return nil
}

// Close flushes and closes the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

var _ service.AuditService = (*KafkaProducer)(nil)

// NoopAuditService discards events; used when Kafka is disabled.
type NoopAuditService struct{}

func (NoopAuditService) LogEvent(ctx context.Context, event service.AuditEvent) error { return nil }
func (NoopAuditService) Close() error                                                 { return nil }
