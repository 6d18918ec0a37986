package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/cache"
	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// GetOrder возвращает заказ, используя кэш представлений.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	logger := s.logger.WithFields(log.Fields{"operation": OpGetOrder, "order_id": orderID})

	raw, err := s.loader.ReadThrough(ctx, cache.OrderKey(orderID), func(ctx context.Context) ([]byte, error) {
		order, err := s.store.Orders().Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(SnapshotOf(order))
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, s.failure(logger, OpGetOrder, domain.NotFound(OpGetOrder, "order_id", err))
		}
		return domain.Order{}, s.failure(logger, OpGetOrder, err)
	}

	var snap OrderSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Order{}, s.failure(logger, OpGetOrder, fmt.Errorf("decode cached order: %w", err))
	}
	return snap.Order(), nil
}

// ListOrders возвращает заказы от новых к старым. Полный список без фильтра кэшируется.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	logger := s.logger.WithField("operation", OpListOrders)

	if filter.BuyerID != "" || filter.Limit > 0 {
		orders, err := s.store.Orders().List(ctx, filter)
		if err != nil {
			return nil, s.failure(logger, OpListOrders, err)
		}
		return orders, nil
	}

	raw, err := s.loader.ReadThrough(ctx, cache.KeyAllOrders, func(ctx context.Context) ([]byte, error) {
		orders, err := s.store.Orders().List(ctx, filter)
		if err != nil {
			return nil, err
		}
		snaps := make([]OrderSnapshot, 0, len(orders))
		for _, order := range orders {
			snaps = append(snaps, SnapshotOf(order))
		}
		return json.Marshal(snaps)
	})
	if err != nil {
		return nil, s.failure(logger, OpListOrders, err)
	}

	var snaps []OrderSnapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, s.failure(logger, OpListOrders, fmt.Errorf("decode cached orders: %w", err))
	}
	orders := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		orders = append(orders, snap.Order())
	}
	return orders, nil
}

// Timeline возвращает историю заказа. История сохраняется и после удаления заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	events, err := s.store.Timeline().List(ctx, orderID)
	if err != nil {
		return nil, s.failure(s.logger.WithField("operation", OpOrderTimeline), OpOrderTimeline, err)
	}
	if len(events) == 0 {
		if _, err := s.store.Orders().Get(ctx, orderID); errors.Is(err, domain.ErrOrderNotFound) {
			return nil, domain.Failures{domain.NotFound(OpOrderTimeline, "order_id", err)}
		}
	}
	return events, nil
}
