// Package notifier формирует события о заказах для transactional outbox.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

const (
	// EventOrderCreated: тип события о новом заказе.
	EventOrderCreated = "order.created"
	// AggregateOrder: тип агрегата в outbox.
	AggregateOrder = "order"
)

// OrderCreatedPayload: тело события order.created.
type OrderCreatedPayload struct {
	OrderID   string          `json:"order_id"`
	BuyerID   string          `json:"buyer_id"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notifier записывает события в outbox текущей транзакции. Отправка наружу
// происходит позже, outbox-воркером, и только для закоммиченных записей.
type Notifier struct {
	logger *log.Entry
}

// New создаёт Notifier.
func New(logger *log.Entry) *Notifier {
	if logger == nil {
		logger = log.WithField("component", "order-notifier")
	}
	return &Notifier{logger: logger}
}

// PublishOrderCreated ставит событие order.created в очередь outbox.
func (n *Notifier) PublishOrderCreated(ctx context.Context, outbox domain.OutboxRepository, order domain.Order) error {
	msg, err := OrderCreatedMessage(order)
	if err != nil {
		return err
	}

	stored, err := outbox.Enqueue(ctx, msg)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", EventOrderCreated, err)
	}

	n.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"outbox_id": stored.ID,
	}).Debug("order.created queued")
	return nil
}

// OrderCreatedMessage собирает outbox-сообщение для заказа.
func OrderCreatedMessage(order domain.Order) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(OrderCreatedPayload{
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Price:     order.Price,
		CreatedAt: order.CreatedAt.UTC(),
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", EventOrderCreated, err)
	}

	return domain.OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     EventOrderCreated,
		Payload:       payload,
		CreatedAt:     order.CreatedAt.UTC(),
	}, nil
}
