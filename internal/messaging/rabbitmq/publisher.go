// Package rabbitmq публикует outbox-события в topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

const (
	// DefaultExchange: exchange событий заказов.
	DefaultExchange = "dealer.orders"
	exchangeType    = "topic"
	dialAttempts    = 5
)

// Channel: часть *amqp.Channel, которая нужна publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher реализует domain.OutboxPublisher поверх RabbitMQ.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	logger   *log.Entry
	now      func() time.Time
}

// Dial подключается к брокеру, открывает канал и объявляет exchange.
func Dial(ctx context.Context, url, exchange string, logger *log.Entry) (*Publisher, error) {
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("failed to connect to rabbitmq")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	publisher, err := NewPublisher(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

// NewPublisher объявляет durable topic exchange на канале ch.
func NewPublisher(ch Channel, exchange string, logger *log.Entry) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	if err := ch.ExchangeDeclare(exchange, exchangeType, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// RoutingKey: ключ маршрутизации события: <aggregate_type>.<event_type>.
func RoutingKey(msg domain.OutboxMessage) string {
	if msg.AggregateType == "" {
		return msg.EventType
	}
	return msg.AggregateType + "." + msg.EventType
}

// Publish отправляет persistent-сообщение; MessageId равен id записи outbox,
// чтобы потребители могли отбрасывать дубли.
func (p *Publisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.ch == nil {
		return errors.New("rabbitmq publisher is not initialized")
	}
	if !json.Valid(msg.Payload) {
		return fmt.Errorf("outbox message %s: payload is not valid json", msg.ID)
	}

	key := RoutingKey(msg)
	err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.EventType,
		Timestamp:    p.now().UTC(),
		Headers: amqp.Table{
			"aggregate_id": msg.AggregateID,
		},
		Body: msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", key, p.exchange, err)
	}

	p.logger.WithFields(log.Fields{
		"exchange":    p.exchange,
		"routing_key": key,
		"outbox_id":   msg.ID,
	}).Debug("message sent to rabbitmq")
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
