package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher отправляет outbox-сообщения в один topic.
// Ключ: id агрегата: события заказа идут в одну партицию и не переупорядочиваются.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher привязывает producer к topic; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Publish заворачивает событие в Envelope и отправляет его.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	_, err := p.producer.Send(ctx, Message{
		Topic: p.topic,
		Key:   key,
		Value: NewEnvelope(event, p.now()),
		Headers: map[string]string{
			HeaderEventType: event.EventType,
			HeaderOutboxID:  event.ID,
		},
	})
	return err
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
