package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type orderRepository struct {
	s *session
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrOrderVersionConflict
		}
		st.orders[order.ID] = order.Clone()
		return nil
	})
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	var out domain.Order
	err := r.s.read(ctx, func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		out = order.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate в памяти совпадает с Get: транзакции и так выполняются последовательно.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// List возвращает заказы от новых к старым, ограничивая выборку limit (если >0).
func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var result []domain.Order
	err := r.s.read(ctx, func(st *state) error {
		result = make([]domain.Order, 0, len(st.orders))
		for _, order := range st.orders {
			if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
				continue
			}
			result = append(result, order.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrOrderVersionConflict
		}
		order = order.Clone()
		order.Version++
		order.UpdatedAt = r.s.now()
		st.orders[order.ID] = order
		return nil
	})
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.orders[id]; !ok {
			return domain.ErrOrderNotFound
		}
		delete(st.orders, id)
		return nil
	})
}

var _ domain.OrderRepository = (*orderRepository)(nil)
