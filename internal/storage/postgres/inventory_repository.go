package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type inventoryRepository struct {
	q querier
}

func (r *inventoryRepository) Get(ctx context.Context, carModelID string) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec := domain.InventoryRecord{CarModelID: carModelID}
	err := r.q.QueryRowContext(ctx, `
		SELECT quantity, updated_at FROM inventory WHERE car_model_id = $1
	`, carModelID).Scan(&rec.Quantity, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrInventoryNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("select inventory: %w", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Decrease: единственный условный UPDATE: проверка остатка и списание неразделимы,
// поэтому два параллельных списания не могут увести остаток в минус.
func (r *inventoryRepository) Decrease(ctx context.Context, carModelID string, n int32) (domain.InventoryRecord, error) {
	if n <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec := domain.InventoryRecord{CarModelID: carModelID}
	err := r.q.QueryRowContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - $2,
		    updated_at = $3
		WHERE car_model_id = $1
		  AND quantity >= $2
		RETURNING quantity, updated_at
	`, carModelID, n, time.Now().UTC()).Scan(&rec.Quantity, &rec.UpdatedAt)
	if err == nil {
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, fmt.Errorf("decrease inventory: %w", err)
	}

	// Ни одна строка не обновлена: записи нет или остатка не хватает.
	current, getErr := r.Get(ctx, carModelID)
	if getErr != nil {
		return domain.InventoryRecord{}, getErr
	}
	return domain.InventoryRecord{}, &domain.StockError{
		CarModelID: carModelID,
		Requested:  n,
		Available:  current.Quantity,
	}
}

func (r *inventoryRepository) Increase(ctx context.Context, carModelID string, n int32) (domain.InventoryRecord, error) {
	if n <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}
	return r.upsert(ctx, `
		INSERT INTO inventory (car_model_id, quantity, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (car_model_id) DO UPDATE
		SET quantity = inventory.quantity + EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
		RETURNING quantity, updated_at
	`, carModelID, n)
}

func (r *inventoryRepository) Set(ctx context.Context, carModelID string, quantity int32) (domain.InventoryRecord, error) {
	if quantity < 0 {
		return domain.InventoryRecord{}, domain.ErrStockNegative
	}
	return r.upsert(ctx, `
		INSERT INTO inventory (car_model_id, quantity, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (car_model_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
		RETURNING quantity, updated_at
	`, carModelID, quantity)
}

func (r *inventoryRepository) upsert(ctx context.Context, query, carModelID string, n int32) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec := domain.InventoryRecord{CarModelID: carModelID}
	err := r.q.QueryRowContext(ctx, query, carModelID, n, time.Now().UTC()).Scan(&rec.Quantity, &rec.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.InventoryRecord{}, domain.ErrCarModelNotFound
		}
		if isNumericOutOfRange(err) {
			return domain.InventoryRecord{}, domain.ErrQuantityOverflow
		}
		return domain.InventoryRecord{}, fmt.Errorf("upsert inventory: %w", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
