package memory

import (
	"context"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type inventoryRepository struct {
	s *session
}

func (r *inventoryRepository) Get(ctx context.Context, carModelID string) (domain.InventoryRecord, error) {
	var out domain.InventoryRecord
	err := r.s.read(ctx, func(st *state) error {
		rec, ok := st.inventory[carModelID]
		if !ok {
			return domain.ErrInventoryNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

// Decrease списывает n единиц только при достаточном остатке.
func (r *inventoryRepository) Decrease(ctx context.Context, carModelID string, n int32) (domain.InventoryRecord, error) {
	if n <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}
	var out domain.InventoryRecord
	err := r.s.write(ctx, func(st *state) error {
		rec, ok := st.inventory[carModelID]
		if !ok {
			return domain.ErrInventoryNotFound
		}
		if rec.Quantity < n {
			return &domain.StockError{CarModelID: carModelID, Requested: n, Available: rec.Quantity}
		}
		rec.Quantity -= n
		rec.UpdatedAt = r.s.now()
		st.inventory[carModelID] = rec
		out = rec
		return nil
	})
	return out, err
}

func (r *inventoryRepository) Increase(ctx context.Context, carModelID string, n int32) (domain.InventoryRecord, error) {
	if n <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}
	var out domain.InventoryRecord
	err := r.s.write(ctx, func(st *state) error {
		rec := st.inventory[carModelID]
		quantity, err := domain.SumUnits(rec.Quantity, n)
		if err != nil {
			return err
		}
		rec.CarModelID = carModelID
		rec.Quantity = quantity
		rec.UpdatedAt = r.s.now()
		st.inventory[carModelID] = rec
		out = rec
		return nil
	})
	return out, err
}

func (r *inventoryRepository) Set(ctx context.Context, carModelID string, quantity int32) (domain.InventoryRecord, error) {
	if quantity < 0 {
		return domain.InventoryRecord{}, domain.ErrStockNegative
	}
	var out domain.InventoryRecord
	err := r.s.write(ctx, func(st *state) error {
		out = domain.InventoryRecord{CarModelID: carModelID, Quantity: quantity, UpdatedAt: r.s.now()}
		st.inventory[carModelID] = out
		return nil
	})
	return out, err
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
