package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// CreateOrder оформляет заказ. Сначала проверяются все позиции, и только потом
// списывается склад, поэтому ошибка в любой позиции не оставляет частичного резерва.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Result, error) {
	req := request{
		op:       OpCreateOrder,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrder,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpCreateOrder
		now := s.now()

		var failures domain.Failures
		if strings.TrimSpace(cmd.BuyerID) == "" {
			failures = append(failures, domain.Invalid(op, "buyer_id", domain.ErrBuyerRequired))
		}
		if strings.TrimSpace(cmd.EmployeeID) == "" {
			failures = append(failures, domain.Invalid(op, "employee_id", domain.ErrEmployeeRequired))
		}
		if err := cmd.Address.Validate(); err != nil {
			failures = append(failures, domain.Invalid(op, "address", err))
		}
		if cmd.CompletedAt != nil && cmd.CompletedAt.Before(now) {
			failures = append(failures, domain.Invalid(op, "completed_at", domain.ErrCompletedBeforeCreated))
		}
		failures = append(failures, validateItemInputs(op, "items", cmd.Items)...)
		if len(failures) > 0 {
			return change{}, failures
		}

		refFailures, err := s.checkParticipants(ctx, sc, op, cmd.BuyerID, cmd.EmployeeID)
		if err != nil {
			return change{}, err
		}
		if len(refFailures) > 0 {
			return change{}, refFailures
		}

		orderID := s.newID()
		items, err := s.reserveItems(ctx, sc, op, "items", orderID, cmd.Items, now)
		if err != nil {
			return change{}, err
		}

		order := domain.Order{
			ID:          orderID,
			BuyerID:     cmd.BuyerID,
			EmployeeID:  cmd.EmployeeID,
			Address:     cmd.Address,
			Items:       items,
			CreatedAt:   now,
			CompletedAt: utcPtr(cmd.CompletedAt),
			UpdatedAt:   now,
		}
		order.RecomputeTotal()

		if err := sc.repos.Orders().Create(ctx, order); err != nil {
			return change{}, fmt.Errorf("create order: %w", err)
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineOrderCreated,
			fmt.Sprintf("order placed with %d item(s)", len(order.Items))); err != nil {
			return change{}, err
		}

		stored, err := s.reload(ctx, sc, order.ID)
		if err != nil {
			return change{}, err
		}
		if err := s.notifier.PublishOrderCreated(ctx, sc.repos.Outbox(), stored); err != nil {
			return change{}, err
		}

		return change{order: stored, created: true}, nil
	})
}

// checkParticipants проверяет существование покупателя и сотрудника.
// Пустой id пропускается: обязательность проверяется раньше.
func (s *Service) checkParticipants(ctx context.Context, sc *scope, op, buyerID, employeeID string) (domain.Failures, error) {
	var failures domain.Failures
	if buyerID != "" {
		if _, err := sc.repos.Catalog().GetBuyer(ctx, buyerID); err != nil {
			if !errors.Is(err, domain.ErrBuyerNotFound) {
				return nil, fmt.Errorf("load buyer %s: %w", buyerID, err)
			}
			failures = append(failures, domain.NotFound(op, "buyer_id", err))
		}
	}
	if employeeID != "" {
		if _, err := sc.repos.Catalog().GetEmployee(ctx, employeeID); err != nil {
			if !errors.Is(err, domain.ErrEmployeeNotFound) {
				return nil, fmt.Errorf("load employee %s: %w", employeeID, err)
			}
			failures = append(failures, domain.NotFound(op, "employee_id", err))
		}
	}
	return failures, nil
}

// validateItemInputs проверяет входные поля позиций без обращения к хранилищу.
func validateItemInputs(op, prefix string, items []ItemInput) domain.Failures {
	var failures domain.Failures
	for i, item := range items {
		if strings.TrimSpace(item.CarModelID) == "" {
			failures = append(failures, domain.Invalid(op, fieldName(prefix, i, "car_model_id"), domain.ErrCarModelRequired))
		}
		if err := domain.ValidQuantity(item.Quantity); err != nil {
			failures = append(failures, domain.Invalid(op, fieldName(prefix, i, "quantity"), err))
		}
	}
	return failures
}

// reserveItems проверяет модели и остатки по всем позициям, затем списывает склад
// и фиксирует цену модели на текущий момент.
func (s *Service) reserveItems(
	ctx context.Context,
	sc *scope,
	op, prefix, orderID string,
	inputs []ItemInput,
	now time.Time,
) ([]domain.OrderItem, error) {
	var (
		failures  domain.Failures
		models    = make(map[string]domain.CarModel, len(inputs))
		demand    = make(map[string]int32, len(inputs))
		firstSeen = make(map[string]int, len(inputs))
	)

	for i, input := range inputs {
		if _, ok := models[input.CarModelID]; !ok {
			model, err := sc.repos.Catalog().GetCarModel(ctx, input.CarModelID)
			if err != nil {
				if !errors.Is(err, domain.ErrCarModelNotFound) {
					return nil, fmt.Errorf("load car model %s: %w", input.CarModelID, err)
				}
				failures = append(failures, domain.NotFound(op, fieldName(prefix, i, "car_model_id"), err))
				continue
			}
			models[input.CarModelID] = model
			firstSeen[input.CarModelID] = i
		}
		if err := domain.AddUnits(demand, input.CarModelID, input.Quantity); err != nil {
			failures = append(failures, domain.Invalid(op, fieldName(prefix, i, "quantity"), err))
		}
	}
	if len(failures) > 0 {
		return nil, failures
	}

	shortages, err := sc.ledger.Shortages(ctx, demand)
	if err != nil {
		return nil, err
	}
	for _, shortage := range shortages {
		field := fieldName(prefix, firstSeen[shortage.CarModelID], "quantity")
		failures = append(failures, domain.InsufficientStock(op, field, shortage))
	}
	if len(failures) > 0 {
		return nil, failures
	}

	if err := sc.ledger.ReserveAll(ctx, demand); err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			field := fieldName(prefix, firstSeen[stockErr.CarModelID], "quantity")
			return nil, domain.InsufficientStock(op, field, stockErr)
		}
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(inputs))
	for _, input := range inputs {
		items = append(items, domain.OrderItem{
			ID:         s.newID(),
			OrderID:    orderID,
			CarModelID: input.CarModelID,
			Quantity:   input.Quantity,
			UnitPrice:  models[input.CarModelID].Price,
			Comment:    input.Comment,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return items, nil
}

func fieldName(prefix string, idx int, name string) string {
	if prefix == "" {
		return name
	}
	return fmt.Sprintf("%s[%d].%s", prefix, idx, name)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
