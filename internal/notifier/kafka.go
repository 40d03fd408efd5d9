package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wootoff-monitor/internal/types"
)

// Kafka produces one message per event, keyed by event ID
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			Async:                  false,
			BatchTimeout:           100 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (k *Kafka) Notify(ctx context.Context, event types.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "decision", Value: []byte(event.Decision.String())},
		},
		Time: event.DetectedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
