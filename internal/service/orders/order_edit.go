package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// EditOrder меняет только переданные поля шапки заказа.
func (s *Service) EditOrder(ctx context.Context, cmd EditOrderCommand) (Result, error) {
	req := request{
		op:       OpEditOrder,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrder,
		orderID:  cmd.OrderID,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpEditOrder

		var failures domain.Failures
		if cmd.BuyerID != nil && strings.TrimSpace(*cmd.BuyerID) == "" {
			failures = append(failures, domain.Invalid(op, "buyer_id", domain.ErrBuyerRequired))
		}
		if cmd.EmployeeID != nil && strings.TrimSpace(*cmd.EmployeeID) == "" {
			failures = append(failures, domain.Invalid(op, "employee_id", domain.ErrEmployeeRequired))
		}
		if cmd.Address != nil {
			if err := cmd.Address.Validate(); err != nil {
				failures = append(failures, domain.Invalid(op, "address", err))
			}
		}
		if len(failures) > 0 {
			return change{}, failures
		}

		order, err := s.lockOrder(ctx, sc, op, cmd.OrderID)
		if err != nil {
			return change{}, err
		}

		var buyerID, employeeID string
		if cmd.BuyerID != nil {
			buyerID = *cmd.BuyerID
		}
		if cmd.EmployeeID != nil {
			employeeID = *cmd.EmployeeID
		}
		refFailures, err := s.checkParticipants(ctx, sc, op, buyerID, employeeID)
		if err != nil {
			return change{}, err
		}
		if cmd.CompletedAt != nil && cmd.CompletedAt.Before(order.CreatedAt) {
			refFailures = append(refFailures, domain.Invalid(op, "completed_at", domain.ErrCompletedBeforeCreated))
		}
		if len(refFailures) > 0 {
			return change{}, refFailures
		}

		var changed []string
		if cmd.Address != nil {
			order.Address = *cmd.Address
			changed = append(changed, "address")
		}
		if cmd.CompletedAt != nil {
			order.CompletedAt = utcPtr(cmd.CompletedAt)
			changed = append(changed, "completed_at")
		}
		if cmd.BuyerID != nil {
			order.BuyerID = buyerID
			changed = append(changed, "buyer_id")
		}
		if cmd.EmployeeID != nil {
			order.EmployeeID = employeeID
			changed = append(changed, "employee_id")
		}
		order.UpdatedAt = s.now()

		saved, err := s.save(ctx, sc, order)
		if err != nil {
			return change{}, err
		}
		reason := "no changes"
		if len(changed) > 0 {
			reason = "changed " + strings.Join(changed, ", ")
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineOrderEdited, reason); err != nil {
			return change{}, err
		}

		return change{order: saved}, nil
	})
}

// DeleteOrder удаляет заказ и возвращает на склад все его позиции.
func (s *Service) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (Result, error) {
	req := request{
		op:       OpDeleteOrder,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrder,
		orderID:  cmd.OrderID,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpDeleteOrder

		order, err := s.lockOrder(ctx, sc, op, cmd.OrderID)
		if err != nil {
			return change{}, err
		}
		units, err := order.ReservedUnits()
		if err != nil {
			return change{}, domain.Invalid(op, "order_id", err)
		}
		if err := sc.ledger.ReleaseAll(ctx, units); err != nil {
			return change{}, err
		}
		if err := sc.repos.Orders().Delete(ctx, order.ID); err != nil {
			return change{}, fmt.Errorf("delete order: %w", err)
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineOrderDeleted,
			fmt.Sprintf("restocked %d item(s)", len(order.Items))); err != nil {
			return change{}, err
		}

		return change{order: order}, nil
	})
}
