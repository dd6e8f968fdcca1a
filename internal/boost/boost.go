// Package boost publishes cache-refresh notifications for addresses touched by
// an injected operation.
package boost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/ggonzalez94/sendflow/internal/send"
)

// Event is the message body published for each boosted address.
type Event struct {
	Address  string              `json:"address"`
	OpHash   string              `json:"op_hash,omitempty"`
	Metadata *send.BoostMetadata `json:"metadata,omitempty"`
	At       string              `json:"at"`
}

func newEvent(address string, metadata *send.BoostMetadata) Event {
	ev := Event{Address: address, Metadata: metadata, At: time.Now().UTC().Format(time.RFC3339)}
	if metadata != nil {
		ev.OpHash = metadata.OpHash
	}
	return ev
}

// RedisStream appends boost events to a Redis stream with XADD.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisStream) Boost(ctx context.Context, address string, metadata *send.BoostMetadata) error {
	payload, err := json.Marshal(newEvent(address, metadata))
	if err != nil {
		return fmt.Errorf("marshal boost event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"address": address,
			"payload": payload,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

func (r *RedisStream) Close() error {
	return r.client.Close()
}

// Kafka writes boost events keyed by address so one address stays on one partition.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

func (k *Kafka) Boost(ctx context.Context, address string, metadata *send.BoostMetadata) error {
	payload, err := json.Marshal(newEvent(address, metadata))
	if err != nil {
		return fmt.Errorf("marshal boost event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(address), Value: payload}); err != nil {
		return fmt.Errorf("kafka write error: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Boost(context.Context, string, *send.BoostMetadata) error { return nil }

func (Nop) Close() error { return nil }
