package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

const orderColumns = `id, buyer_id, employee_id, country, region, city, street,
	price, completed_at, version, created_at, updated_at`

const itemColumns = `id, order_id, car_model_id, quantity, unit_price, comment, created_at, updated_at`

type orderRepository struct {
	q querier
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return atomic(ctx, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			order.ID, order.BuyerID, order.EmployeeID,
			order.Address.Country, order.Address.Region, order.Address.City, order.Address.Street,
			order.Price, nullTime(order.CompletedAt), order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return mapOrderFKError(fmt.Errorf("insert order: %w", err))
		}
		return insertItems(ctx, q, order)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate блокирует строку заказа до конца транзакции, чтобы параллельные
// изменения одного заказа выполнялись последовательно.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *orderRepository) get(ctx context.Context, id, lockClause string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lockClause, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, r.q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders`
	args := make([]any, 0, 2)
	if filter.BuyerID != "" {
		args = append(args, filter.BuyerID)
		query += fmt.Sprintf(" WHERE buyer_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	orders, err := selectAll(ctx, r.q, "orders", scanOrder, query, args...)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := loadItems(ctx, r.q, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// Save обновляет шапку заказа с проверкой версии и перезаписывает позиции.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return atomic(ctx, r.q, func(q querier) error {
		n, err := execCount(ctx, q, `
			UPDATE orders
			SET buyer_id = $3, employee_id = $4,
			    country = $5, region = $6, city = $7, street = $8,
			    price = $9, completed_at = $10, updated_at = $11,
			    version = version + 1
			WHERE id = $1 AND version = $2`,
			order.ID, order.Version,
			order.BuyerID, order.EmployeeID,
			order.Address.Country, order.Address.Region, order.Address.City, order.Address.Street,
			order.Price, nullTime(order.CompletedAt), time.Now().UTC(),
		)
		if err != nil {
			return mapOrderFKError(fmt.Errorf("update order %s: %w", order.ID, err))
		}
		if n == 0 {
			exists, err := orderExists(ctx, q, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		return insertItems(ctx, q, order)
	})
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// order_items удаляются каскадно.
	n, err := execCount(ctx, r.q, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		completed sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.BuyerID, &order.EmployeeID,
		&order.Address.Country, &order.Address.Region, &order.Address.City, &order.Address.Street,
		&order.Price, &completed, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if completed.Valid {
		t := completed.Time.UTC()
		order.CompletedAt = &t
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func insertItems(ctx context.Context, q querier, order domain.Order) error {
	for _, item := range order.Items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_items (`+itemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, order.ID, item.CarModelID, item.Quantity, item.UnitPrice, item.Comment,
			item.CreatedAt, updatedOrCreated(item),
		); err != nil {
			return mapOrderFKError(fmt.Errorf("insert order item: %w", err))
		}
	}
	return nil
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.CarModelID, &it.Quantity, &it.UnitPrice,
		&it.Comment, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return domain.OrderItem{}, err
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return it, nil
}

// loadItems читает позиции заказа в порядке добавления.
func loadItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	return selectAll(ctx, q, "order items", scanOrderItem, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
}

func orderExists(ctx context.Context, q querier, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

// mapOrderFKError переводит нарушение внешнего ключа в доменную ошибку.
// Сервис проверяет ссылки заранее, так что сюда попадает только гонка с удалением.
func mapOrderFKError(err error) error {
	if isForeignKeyViolation(err) {
		return errors.Join(domain.ErrValidation, err)
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func updatedOrCreated(item domain.OrderItem) time.Time {
	if item.UpdatedAt.IsZero() {
		return item.CreatedAt
	}
	return item.UpdatedAt
}

var _ domain.OrderRepository = (*orderRepository)(nil)
