// Package copytrade publishes accepted orders to the copy-trading
// pipeline. Delivery is best-effort: the intake path logs failures and
// moves on.
package copytrade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/quantaex/core/pkg/models"
)

// Fanout writes accepted orders to a Kafka topic keyed by symbol so
// downstream followers of the same market stay ordered.
type Fanout struct {
	logger *zap.Logger
	writer *kafka.Writer
}

// NewFanout creates a new copy-trade fan-out publisher
func NewFanout(logger *zap.Logger, brokers []string, topic string) *Fanout {
	return &Fanout{
		logger: logger,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Enqueue publishes the order to the copy-trade topic.
func (f *Fanout) Enqueue(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.Symbol),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish order: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (f *Fanout) Close() error {
	return f.writer.Close()
}
