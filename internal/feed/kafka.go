// Package feed mirrors every update event onto a kafka topic so downstream
// pipelines can consume the same stream the push clients see.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"market-stream/internal/models"
)

// Writer abstracts the kafka producer for testing.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Exporter publishes update events keyed by event type. Write failures are
// logged and dropped; the feed is best-effort and must never stall the
// in-process fan-out.
type Exporter struct {
	writer Writer
	logger *zap.Logger
}

func NewExporter(writer Writer, logger *zap.Logger) *Exporter {
	return &Exporter{writer: writer, logger: logger}
}

// NewKafkaWriter builds the async batched producer the exporter runs on.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

func (e *Exporter) Publish(event models.UpdateEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	err = e.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(event.Type),
		Value: payload,
	})
	if err != nil {
		e.logger.Error("Kafka Write Error", zap.Error(err))
	}
}

func (e *Exporter) Close() error {
	return e.writer.Close()
}
