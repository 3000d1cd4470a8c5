package kafka

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/carewire/realtime-service/internal/models"
)

// Producer publishes message-persisted events for the notification
// pipeline. Delivery to clients does not depend on it.
type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Producer{writer: w}
}

func (p *Producer) PublishMessagePersisted(ctx context.Context, m *models.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	// keyed by conversation so consumers see per-conversation order
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(m.ConversationID),
		Value: b,
		Time:  m.CreatedAt,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
