package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// OutboxTopicPublisher отправляет outbox-сообщения в один topic в виде Envelope.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

// Publish пишет сообщение с ключом aggregate_id: события одного заказа попадают в одну партицию.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil {
		return errProducerClosed
	}

	value, err := json.Marshal(NewEnvelope(msg, p.now()))
	if err != nil {
		return fmt.Errorf("encode outbox %s envelope: %w", msg.ID, err)
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	_, err = p.producer.Send(ctx, Record{
		Topic: p.topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			HeaderEventType:     msg.EventType,
			HeaderAggregateType: msg.AggregateType,
			HeaderOutboxID:      msg.ID,
		},
	})
	return err
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
