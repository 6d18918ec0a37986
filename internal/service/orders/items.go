package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// AddItem добавляет одну позицию в заказ.
func (s *Service) AddItem(ctx context.Context, cmd AddItemCommand) (Result, error) {
	req := request{
		op:       OpAddItem,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrderItem,
		orderID:  cmd.OrderID,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpAddItem
		if failures := validateItemInputs(op, "", []ItemInput{cmd.ItemInput}); len(failures) > 0 {
			return change{}, failures
		}

		order, err := s.lockOrder(ctx, sc, op, cmd.OrderID)
		if err != nil {
			return change{}, err
		}

		now := s.now()
		items, err := s.reserveItems(ctx, sc, op, "", order.ID, []ItemInput{cmd.ItemInput}, now)
		if err != nil {
			return change{}, err
		}
		order.AppendItem(items[0])
		order.UpdatedAt = now

		saved, err := s.save(ctx, sc, order)
		if err != nil {
			return change{}, err
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineItemsAdded,
			fmt.Sprintf("added %d x %s", items[0].Quantity, items[0].CarModelID)); err != nil {
			return change{}, err
		}

		return change{order: saved, item: findItem(saved, items[0].ID)}, nil
	})
}

// AddItems добавляет несколько позиций: либо все, либо ни одной.
func (s *Service) AddItems(ctx context.Context, cmd AddItemsCommand) (Result, error) {
	req := request{
		op:       OpAddItems,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrder,
		orderID:  cmd.OrderID,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpAddItems
		if len(cmd.Items) == 0 {
			return change{}, domain.Invalid(op, "items", domain.ErrItemsRequired)
		}
		if failures := validateItemInputs(op, "items", cmd.Items); len(failures) > 0 {
			return change{}, failures
		}

		order, err := s.lockOrder(ctx, sc, op, cmd.OrderID)
		if err != nil {
			return change{}, err
		}

		now := s.now()
		items, err := s.reserveItems(ctx, sc, op, "items", order.ID, cmd.Items, now)
		if err != nil {
			return change{}, err
		}
		for _, item := range items {
			order.AppendItem(item)
		}
		order.UpdatedAt = now

		saved, err := s.save(ctx, sc, order)
		if err != nil {
			return change{}, err
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineItemsAdded,
			fmt.Sprintf("added %d item(s)", len(items))); err != nil {
			return change{}, err
		}

		return change{order: saved}, nil
	})
}

// EditItem меняет модель, количество или комментарий позиции. При смене модели
// старое количество возвращается на склад, новое списывается с новой модели, а цена
// фиксируется заново. Без смены модели склад двигается только на разницу количеств.
func (s *Service) EditItem(ctx context.Context, cmd EditItemCommand) (Result, error) {
	req := request{
		op:       OpEditItem,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrderItem,
		orderID:  cmd.OrderID,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpEditItem

		var failures domain.Failures
		if strings.TrimSpace(cmd.ItemID) == "" {
			failures = append(failures, domain.Invalid(op, "item_id", errors.New("item_id is required")))
		}
		if cmd.CarModelID != nil && strings.TrimSpace(*cmd.CarModelID) == "" {
			failures = append(failures, domain.Invalid(op, "car_model_id", domain.ErrCarModelRequired))
		}
		if cmd.Quantity != nil {
			if err := domain.ValidQuantity(*cmd.Quantity); err != nil {
				failures = append(failures, domain.Invalid(op, "quantity", err))
			}
		}
		if len(failures) > 0 {
			return change{}, failures
		}

		order, err := s.lockOrder(ctx, sc, op, cmd.OrderID)
		if err != nil {
			return change{}, err
		}
		idx, ok := order.FindItem(cmd.ItemID)
		if !ok {
			return change{}, domain.NotFound(op, "item_id", domain.ErrOrderItemNotFound)
		}

		item := order.Items[idx]
		oldModel, oldQty := item.CarModelID, item.Quantity
		newModel, newQty := oldModel, oldQty
		if cmd.CarModelID != nil {
			newModel = *cmd.CarModelID
		}
		if cmd.Quantity != nil {
			newQty = *cmd.Quantity
		}

		if newModel != oldModel {
			model, err := sc.repos.Catalog().GetCarModel(ctx, newModel)
			if err != nil {
				if errors.Is(err, domain.ErrCarModelNotFound) {
					return change{}, domain.NotFound(op, "car_model_id", err)
				}
				return change{}, fmt.Errorf("load car model %s: %w", newModel, err)
			}
			if _, err := sc.ledger.Increase(ctx, oldModel, oldQty); err != nil {
				return change{}, err
			}
			if err := s.take(ctx, sc, op, newModel, newQty); err != nil {
				return change{}, err
			}
			item.CarModelID = newModel
			item.UnitPrice = model.Price
		} else {
			switch delta := newQty - oldQty; {
			case delta > 0:
				if err := s.take(ctx, sc, op, oldModel, delta); err != nil {
					return change{}, err
				}
			case delta < 0:
				if _, err := sc.ledger.Increase(ctx, oldModel, -delta); err != nil {
					return change{}, err
				}
			}
		}

		now := s.now()
		item.Quantity = newQty
		if cmd.Comment != nil {
			item.Comment = *cmd.Comment
		}
		item.UpdatedAt = now
		order.Items[idx] = item
		order.RecomputeTotal()
		order.UpdatedAt = now

		saved, err := s.save(ctx, sc, order)
		if err != nil {
			return change{}, err
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineItemEdited,
			fmt.Sprintf("item %s: %s x%d -> %s x%d", item.ID, oldModel, oldQty, newModel, newQty)); err != nil {
			return change{}, err
		}

		return change{order: saved, item: findItem(saved, item.ID)}, nil
	})
}

// RemoveItems удаляет позиции и возвращает их количество на склад. Неизвестные id
// пропускаются; если не совпал ни один, операция завершается NotFound.
func (s *Service) RemoveItems(ctx context.Context, cmd RemoveItemsCommand) (Result, error) {
	req := request{
		op:       OpRemoveItems,
		key:      cmd.IdempotencyKey,
		command:  cmd,
		resource: domain.ResourceOrder,
		orderID:  cmd.OrderID,
	}

	return s.mutate(ctx, req, func(ctx context.Context, sc *scope) (change, error) {
		op := OpRemoveItems
		if len(cmd.ItemIDs) == 0 {
			return change{}, domain.Invalid(op, "item_ids", domain.ErrItemsRequired)
		}

		order, err := s.lockOrder(ctx, sc, op, cmd.OrderID)
		if err != nil {
			return change{}, err
		}

		removed := order.RemoveItems(cmd.ItemIDs)
		if len(removed) == 0 {
			return change{}, domain.NotFound(op, "item_ids", domain.ErrOrderItemNotFound)
		}

		released := make(map[string]int32, len(removed))
		for _, item := range removed {
			if err := domain.AddUnits(released, item.CarModelID, item.Quantity); err != nil {
				return change{}, domain.Invalid(op, "item_ids", err)
			}
		}
		if err := sc.ledger.ReleaseAll(ctx, released); err != nil {
			return change{}, err
		}
		order.UpdatedAt = s.now()

		saved, err := s.save(ctx, sc, order)
		if err != nil {
			return change{}, err
		}
		if err := s.appendTimeline(ctx, sc, order.ID, domain.TimelineItemsRemoved,
			fmt.Sprintf("removed %d item(s)", len(removed))); err != nil {
			return change{}, err
		}

		return change{order: saved}, nil
	})
}

// take списывает n единиц модели и переводит нехватку в Failure.
func (s *Service) take(ctx context.Context, sc *scope, op, carModelID string, n int32) error {
	_, err := sc.ledger.Decrease(ctx, carModelID, n)
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		return domain.InsufficientStock(op, "quantity", stockErr)
	}
	return err
}

func findItem(order domain.Order, itemID string) *domain.OrderItem {
	idx, ok := order.FindItem(itemID)
	if !ok {
		return nil
	}
	item := order.Items[idx]
	return &item
}
