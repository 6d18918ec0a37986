package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

const (
	buyerColumns    = `id, full_name, email, phone, created_at`
	employeeColumns = `id, full_name, position, email, created_at`
	carModelColumns = `id, brand, model, year, price, created_at, updated_at`
)

// catalogRepository хранит справочники: покупателей, сотрудников и модели.
type catalogRepository struct {
	q querier
}

func (r *catalogRepository) CreateBuyer(ctx context.Context, buyer domain.Buyer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO buyers (`+buyerColumns+`) VALUES ($1, $2, $3, $4, $5)
	`, buyer.ID, buyer.FullName, buyer.Email, buyer.Phone, buyer.CreatedAt); err != nil {
		return fmt.Errorf("insert buyer: %w", err)
	}
	return nil
}

func (r *catalogRepository) GetBuyer(ctx context.Context, id string) (domain.Buyer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	b, err := scanBuyer(r.q.QueryRowContext(ctx, `SELECT `+buyerColumns+` FROM buyers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Buyer{}, domain.ErrBuyerNotFound
	}
	if err != nil {
		return domain.Buyer{}, fmt.Errorf("select buyer %s: %w", id, err)
	}
	return b, nil
}

func scanBuyer(row rowScanner) (domain.Buyer, error) {
	var b domain.Buyer
	if err := row.Scan(&b.ID, &b.FullName, &b.Email, &b.Phone, &b.CreatedAt); err != nil {
		return domain.Buyer{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (r *catalogRepository) ListBuyers(ctx context.Context) ([]domain.Buyer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return selectAll(ctx, r.q, "buyers", scanBuyer,
		`SELECT `+buyerColumns+` FROM buyers ORDER BY created_at, id`)
}

func (r *catalogRepository) CreateEmployee(ctx context.Context, employee domain.Employee) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`) VALUES ($1, $2, $3, $4, $5)
	`, employee.ID, employee.FullName, employee.Position, employee.Email, employee.CreatedAt); err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

func (r *catalogRepository) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	e, err := scanEmployee(r.q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Employee{}, domain.ErrEmployeeNotFound
	}
	if err != nil {
		return domain.Employee{}, fmt.Errorf("select employee %s: %w", id, err)
	}
	return e, nil
}

func scanEmployee(row rowScanner) (domain.Employee, error) {
	var e domain.Employee
	if err := row.Scan(&e.ID, &e.FullName, &e.Position, &e.Email, &e.CreatedAt); err != nil {
		return domain.Employee{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (r *catalogRepository) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return selectAll(ctx, r.q, "employees", scanEmployee,
		`SELECT `+employeeColumns+` FROM employees ORDER BY created_at, id`)
}

func (r *catalogRepository) CreateCarModel(ctx context.Context, model domain.CarModel) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO car_models (`+carModelColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, model.ID, model.Brand, model.Model, model.Year, model.Price, model.CreatedAt, model.UpdatedAt); err != nil {
		return fmt.Errorf("insert car model: %w", err)
	}
	return nil
}

func scanCarModel(row rowScanner) (domain.CarModel, error) {
	var m domain.CarModel
	if err := row.Scan(&m.ID, &m.Brand, &m.Model, &m.Year, &m.Price, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.CarModel{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func (r *catalogRepository) GetCarModel(ctx context.Context, id string) (domain.CarModel, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	m, err := scanCarModel(r.q.QueryRowContext(ctx, `SELECT `+carModelColumns+` FROM car_models WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CarModel{}, domain.ErrCarModelNotFound
	}
	if err != nil {
		return domain.CarModel{}, fmt.Errorf("select car model: %w", err)
	}
	return m, nil
}

func (r *catalogRepository) ListCarModels(ctx context.Context) ([]domain.CarModel, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return selectAll(ctx, r.q, "car models", scanCarModel,
		`SELECT `+carModelColumns+` FROM car_models ORDER BY created_at, id`)
}

func (r *catalogRepository) UpdateCarModelPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) (domain.CarModel, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	m, err := scanCarModel(r.q.QueryRowContext(ctx, `
		UPDATE car_models SET price = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+carModelColumns, id, price, at))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CarModel{}, domain.ErrCarModelNotFound
	}
	if err != nil {
		return domain.CarModel{}, fmt.Errorf("update car model price: %w", err)
	}
	return m, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
