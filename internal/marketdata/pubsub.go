package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// PubSubBackend abstracts the optional cross-node mirror for market data
// frames. Redis favours latency, Kafka persistence; the multiplexer treats
// both as fire-and-forget.
type PubSubBackend interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
	Close() error
}

// RedisPubSub implements PubSubBackend using Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub creates a Redis-backed publisher
func NewRedisPubSub(addr, password string, db int) *RedisPubSub {
	return &RedisPubSub{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisPubSub) Close() error {
	return r.client.Close()
}

// KafkaPubSub implements PubSubBackend using a Kafka topic; the channel
// name becomes the message key so one topic carries all streams.
type KafkaPubSub struct {
	writer *kafka.Writer
}

// NewKafkaPubSub creates a Kafka-backed publisher
func NewKafkaPubSub(brokers []string, topic string) *KafkaPubSub {
	return &KafkaPubSub{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaPubSub) Publish(ctx context.Context, channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: data,
	})
}

func (k *KafkaPubSub) Close() error {
	return k.writer.Close()
}
