package outbox

import (
	"context"
	"time"

	"github.com/merced/commerce-core/internal/models"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers one committed outbox event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by aggregate id
// so per-aggregate ordering survives partitioning.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
