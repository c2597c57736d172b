package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"taskhub/internal/config"
	"taskhub/internal/models"
	"taskhub/pkg/logger"
)

// Enabled reports whether the Kafka event mirror is configured.
func Enabled() bool {
	return len(config.Get().KafkaBrokers) > 0
}

// EnsureTopic creates the event mirror topic with configured partitions
// (idempotent). Call at startup; if it fails (no broker, topic exists),
// the app still runs and publishes are dropped with a log line.
func EnsureTopic(ctx context.Context) {
	cfg := config.Get()
	if len(cfg.KafkaBrokers) == 0 {
		return
	}
	conn, err := kafka.Dial("tcp", cfg.KafkaBrokers[0])
	if err != nil {
		logger.Debug(ctx, "Kafka dial for topic creation failed", "error", err)
		return
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		logger.Debug(ctx, "Kafka controller lookup failed", "error", err)
		return
	}
	ctrlConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		logger.Debug(ctx, "Kafka controller dial failed", "error", err)
		return
	}
	defer ctrlConn.Close()
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.KafkaTopic,
		NumPartitions:     cfg.KafkaPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		logger.Debug(ctx, "Kafka create topic failed (topic may already exist)", "error", err)
		return
	}
	logger.Info(ctx, "Kafka topic ensured", "topic", cfg.KafkaTopic, "partitions", cfg.KafkaPartitions)
}

var (
	writer *kafka.Writer
	wOnce  sync.Once
)

// Producer returns the global Kafka writer for the event mirror, or nil
// when no brokers are configured.
func Producer(ctx context.Context) *kafka.Writer {
	wOnce.Do(func() {
		cfg := config.Get()
		if len(cfg.KafkaBrokers) == 0 {
			return
		}
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.KafkaTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: 0,
			Async:        true,
			RequiredAcks: kafka.RequireOne,
		}
		logger.Info(ctx, "Kafka producer initialized", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	})
	return writer
}

// Publish mirrors one event to Kafka. Mutations never wait on this: the
// writer is async and the caller has already committed to the database
// and broadcast to push channels.
func Publish(ctx context.Context, ev models.Event) error {
	w := Producer(ctx)
	if w == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   MessageKey(ev),
		Value: payload,
	})
}

// MessageKey picks a partition key that keeps events for one entity in
// order: the task or user identifier when the payload carries one, the
// event type otherwise.
func MessageKey(ev models.Event) []byte {
	if ev.Payload != nil {
		if id, ok := ev.Payload["task_id"].(string); ok && id != "" {
			return []byte(id)
		}
		if id, ok := ev.Payload["user_id"].(string); ok && id != "" {
			return []byte(id)
		}
	}
	return []byte(ev.Type)
}

// Mirror adapts the producer to the hub's sink interface.
type Mirror struct{}

func (Mirror) Publish(ctx context.Context, ev models.Event) error {
	return Publish(ctx, ev)
}

// Close flushes and shuts down the producer. Safe to call when Kafka is
// disabled.
func Close() error {
	if writer == nil {
		return nil
	}
	return writer.Close()
}
