package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/metrics"
)

// KafkaFeed consumes a Kafka topic as part of a consumer group.
type KafkaFeed struct {
	reader *kafka.Reader
	topic  string
	logger *slog.Logger
}

// NewKafkaFeed creates a feed reading cfg.Topic.
func NewKafkaFeed(cfg config.KafkaConfig, logger *slog.Logger) *KafkaFeed {
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaFeed{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		}),
		topic:  cfg.Topic,
		logger: logger,
	}
}

// Run reads messages and forwards their values to out.
func (f *KafkaFeed) Run(ctx context.Context, out *Buffer[RawMessage]) error {
	f.logger.Info("kafka feed started", "topic", f.topic)

	for {
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrFeedClosed
			}
			return fmt.Errorf("read %s: %w", f.topic, err)
		}

		metrics.FeedMessages.WithLabelValues("received").Inc()
		out.Send(RawMessage{
			Origin:     fmt.Sprintf("kafka:%s/%d", m.Topic, m.Partition),
			Data:       m.Value,
			ReceivedAt: time.Now(),
		})
	}
}

// Close releases the reader and commits group offsets.
func (f *KafkaFeed) Close() error {
	return f.reader.Close()
}

// KafkaPublisher writes payloads to a topic. Used by tooling to inject
// events.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish writes one payload.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
