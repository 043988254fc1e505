package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/kjannette/freq-response-backend/internal/models"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		topic: topic,
	}
}

// NewKafkaPublisherWithWriter is used by tests and callers that manage
// their own writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

// Publish writes one message per interval, keyed by interval start so a
// topic compacts to the latest value per interval.
func (k *KafkaPublisher) Publish(ctx context.Context, runID string, intervals []models.IntervalAverage) error {
	if len(intervals) == 0 {
		return nil
	}
	now := time.Now()
	msgs := make([]kafka.Message, 0, len(intervals))
	for _, iv := range intervals {
		b, err := encode(runID, iv)
		if err != nil {
			return fmt.Errorf("encode interval: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(iv.Interval.UTC().Format(time.RFC3339)),
			Value: b,
			Time:  now,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), k.topic, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
