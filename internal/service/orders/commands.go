package orders

import (
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// ItemInput: запрошенная позиция заказа.
type ItemInput struct {
	CarModelID string `json:"car_model_id"`
	Quantity   int32  `json:"quantity"`
	Comment    string `json:"comment,omitempty"`
}

// CreateOrderCommand оформляет новый заказ.
type CreateOrderCommand struct {
	IdempotencyKey string         `json:"-"`
	BuyerID        string         `json:"buyer_id"`
	EmployeeID     string         `json:"employee_id"`
	Address        domain.Address `json:"address"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Items          []ItemInput    `json:"items"`
}

// AddItemCommand добавляет одну позицию.
type AddItemCommand struct {
	IdempotencyKey string `json:"-"`
	OrderID        string `json:"order_id"`
	ItemInput
}

// AddItemsCommand добавляет несколько позиций за одну операцию: все или ни одной.
type AddItemsCommand struct {
	IdempotencyKey string      `json:"-"`
	OrderID        string      `json:"order_id"`
	Items          []ItemInput `json:"items"`
}

// EditItemCommand меняет позицию. Nil-поля остаются без изменений.
type EditItemCommand struct {
	IdempotencyKey string  `json:"-"`
	OrderID        string  `json:"order_id"`
	ItemID         string  `json:"item_id"`
	CarModelID     *string `json:"car_model_id,omitempty"`
	Quantity       *int32  `json:"quantity,omitempty"`
	Comment        *string `json:"comment,omitempty"`
}

// RemoveItemsCommand удаляет позиции и возвращает их остаток на склад.
type RemoveItemsCommand struct {
	IdempotencyKey string   `json:"-"`
	OrderID        string   `json:"order_id"`
	ItemIDs        []string `json:"item_ids"`
}

// EditOrderCommand меняет шапку заказа. Позиции и склад не затрагиваются.
type EditOrderCommand struct {
	IdempotencyKey string          `json:"-"`
	OrderID        string          `json:"order_id"`
	Address        *domain.Address `json:"address,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	BuyerID        *string         `json:"buyer_id,omitempty"`
	EmployeeID     *string         `json:"employee_id,omitempty"`
}

// DeleteOrderCommand удаляет заказ и возвращает все его единицы на склад.
type DeleteOrderCommand struct {
	IdempotencyKey string `json:"-"`
	OrderID        string `json:"order_id"`
}
