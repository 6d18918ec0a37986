package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type catalogRepository struct {
	s *session
}

func (r *catalogRepository) CreateBuyer(ctx context.Context, buyer domain.Buyer) error {
	return r.s.write(ctx, func(st *state) error {
		st.buyers[buyer.ID] = buyer
		return nil
	})
}

func (r *catalogRepository) GetBuyer(ctx context.Context, id string) (domain.Buyer, error) {
	var out domain.Buyer
	err := r.s.read(ctx, func(st *state) error {
		buyer, ok := st.buyers[id]
		if !ok {
			return domain.ErrBuyerNotFound
		}
		out = buyer
		return nil
	})
	return out, err
}

func (r *catalogRepository) ListBuyers(ctx context.Context) ([]domain.Buyer, error) {
	var out []domain.Buyer
	err := r.s.read(ctx, func(st *state) error {
		out = collect(st.buyers, func(b domain.Buyer) (time.Time, string) { return b.CreatedAt, b.ID })
		return nil
	})
	return out, err
}

func (r *catalogRepository) CreateEmployee(ctx context.Context, employee domain.Employee) error {
	return r.s.write(ctx, func(st *state) error {
		st.employees[employee.ID] = employee
		return nil
	})
}

func (r *catalogRepository) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	var out domain.Employee
	err := r.s.read(ctx, func(st *state) error {
		employee, ok := st.employees[id]
		if !ok {
			return domain.ErrEmployeeNotFound
		}
		out = employee
		return nil
	})
	return out, err
}

func (r *catalogRepository) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	var out []domain.Employee
	err := r.s.read(ctx, func(st *state) error {
		out = collect(st.employees, func(e domain.Employee) (time.Time, string) { return e.CreatedAt, e.ID })
		return nil
	})
	return out, err
}

func (r *catalogRepository) CreateCarModel(ctx context.Context, model domain.CarModel) error {
	return r.s.write(ctx, func(st *state) error {
		st.carModels[model.ID] = model
		return nil
	})
}

func (r *catalogRepository) GetCarModel(ctx context.Context, id string) (domain.CarModel, error) {
	var out domain.CarModel
	err := r.s.read(ctx, func(st *state) error {
		model, ok := st.carModels[id]
		if !ok {
			return domain.ErrCarModelNotFound
		}
		out = model
		return nil
	})
	return out, err
}

func (r *catalogRepository) ListCarModels(ctx context.Context) ([]domain.CarModel, error) {
	var out []domain.CarModel
	err := r.s.read(ctx, func(st *state) error {
		out = collect(st.carModels, func(m domain.CarModel) (time.Time, string) { return m.CreatedAt, m.ID })
		return nil
	})
	return out, err
}

func (r *catalogRepository) UpdateCarModelPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) (domain.CarModel, error) {
	var out domain.CarModel
	err := r.s.write(ctx, func(st *state) error {
		model, ok := st.carModels[id]
		if !ok {
			return domain.ErrCarModelNotFound
		}
		model.Price = price
		model.UpdatedAt = at
		st.carModels[id] = model
		out = model
		return nil
	})
	return out, err
}

// collect возвращает значения карты в порядке создания.
func collect[T any](items map[string]T, key func(T) (time.Time, string)) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, idI := key(out[i])
		tj, idJ := key(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idI < idJ
	})
	return out
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
