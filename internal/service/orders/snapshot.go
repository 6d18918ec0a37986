package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// AddressSnapshot: адрес в JSON-представлении.
type AddressSnapshot struct {
	Country string `json:"country"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city"`
	Street  string `json:"street"`
}

// ItemSnapshot: позиция заказа в JSON-представлении.
type ItemSnapshot struct {
	ID         string          `json:"id"`
	CarModelID string          `json:"car_model_id"`
	Quantity   int32           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
	Comment    string          `json:"comment,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// OrderSnapshot: сериализуемое состояние заказа. Хранится в idempotency-записи
// и в кэше, отдаётся HTTP-клиентам.
type OrderSnapshot struct {
	ID          string          `json:"id"`
	BuyerID     string          `json:"buyer_id"`
	EmployeeID  string          `json:"employee_id"`
	Address     AddressSnapshot `json:"address"`
	Price       decimal.Decimal `json:"price"`
	Items       []ItemSnapshot  `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}

// SnapshotOf строит снимок заказа.
func SnapshotOf(order domain.Order) OrderSnapshot {
	snap := OrderSnapshot{
		ID:         order.ID,
		BuyerID:    order.BuyerID,
		EmployeeID: order.EmployeeID,
		Address: AddressSnapshot{
			Country: order.Address.Country,
			Region:  order.Address.Region,
			City:    order.Address.City,
			Street:  order.Address.Street,
		},
		Price:       order.Price,
		Items:       make([]ItemSnapshot, 0, len(order.Items)),
		CreatedAt:   order.CreatedAt,
		CompletedAt: order.CompletedAt,
		UpdatedAt:   order.UpdatedAt,
		Version:     order.Version,
	}
	for _, item := range order.Items {
		snap.Items = append(snap.Items, ItemSnapshotOf(item))
	}
	return snap
}

// ItemSnapshotOf строит снимок позиции.
func ItemSnapshotOf(item domain.OrderItem) ItemSnapshot {
	return ItemSnapshot{
		ID:         item.ID,
		CarModelID: item.CarModelID,
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		LineTotal:  item.LineTotal(),
		Comment:    item.Comment,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

// Order восстанавливает доменный заказ из снимка.
func (s OrderSnapshot) Order() domain.Order {
	order := domain.Order{
		ID:         s.ID,
		BuyerID:    s.BuyerID,
		EmployeeID: s.EmployeeID,
		Address: domain.Address{
			Country: s.Address.Country,
			Region:  s.Address.Region,
			City:    s.Address.City,
			Street:  s.Address.Street,
		},
		Price:       s.Price,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
		UpdatedAt:   s.UpdatedAt,
		Version:     s.Version,
	}
	for _, item := range s.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:         item.ID,
			OrderID:    s.ID,
			CarModelID: item.CarModelID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Comment:    item.Comment,
			CreatedAt:  item.CreatedAt,
			UpdatedAt:  item.UpdatedAt,
		})
	}
	return order
}
