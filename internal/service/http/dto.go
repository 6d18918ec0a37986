package httpsvc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/service/orders"
)

// addressDTO: адрес в теле запроса.
type addressDTO struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Street  string `json:"street"`
}

func (a addressDTO) domain() domain.Address {
	return domain.Address{Country: a.Country, Region: a.Region, City: a.City, Street: a.Street}
}

type itemDTO struct {
	CarModelID string `json:"car_model_id"`
	Quantity   int32  `json:"quantity"`
	Comment    string `json:"comment"`
}

func (i itemDTO) input() orders.ItemInput {
	return orders.ItemInput{CarModelID: i.CarModelID, Quantity: i.Quantity, Comment: i.Comment}
}

func itemInputs(items []itemDTO) []orders.ItemInput {
	out := make([]orders.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, item.input())
	}
	return out
}

type createOrderRequest struct {
	BuyerID     string     `json:"buyer_id"`
	EmployeeID  string     `json:"employee_id"`
	Address     addressDTO `json:"address"`
	CompletedAt *time.Time `json:"completed_at"`
	Items       []itemDTO  `json:"items"`
}

type addItemsRequest struct {
	Items []itemDTO `json:"items"`
}

type editItemRequest struct {
	CarModelID *string `json:"car_model_id"`
	Quantity   *int32  `json:"quantity"`
	Comment    *string `json:"comment"`
}

type removeItemsRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type editOrderRequest struct {
	Address     *addressDTO `json:"address"`
	CompletedAt *time.Time  `json:"completed_at"`
	BuyerID     *string     `json:"buyer_id"`
	EmployeeID  *string     `json:"employee_id"`
}

type itemResponse struct {
	Order orders.OrderSnapshot `json:"order"`
	Item  *orders.ItemSnapshot `json:"item,omitempty"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type buyerResponse struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func buyerOf(b domain.Buyer) buyerResponse {
	return buyerResponse{ID: b.ID, FullName: b.FullName, Email: b.Email, Phone: b.Phone, CreatedAt: b.CreatedAt}
}

type employeeResponse struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Position  string    `json:"position,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func employeeOf(e domain.Employee) employeeResponse {
	return employeeResponse{ID: e.ID, FullName: e.FullName, Position: e.Position, Email: e.Email, CreatedAt: e.CreatedAt}
}

type carModelResponse struct {
	ID        string          `json:"id"`
	Brand     string          `json:"brand"`
	Model     string          `json:"model"`
	Year      int32           `json:"year"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func carModelOf(m domain.CarModel) carModelResponse {
	return carModelResponse{
		ID: m.ID, Brand: m.Brand, Model: m.Model, Year: m.Year,
		Price: m.Price, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

type updatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type setStockRequest struct {
	Quantity int32 `json:"quantity"`
}

type stockResponse struct {
	CarModelID string    `json:"car_model_id"`
	Quantity   int32     `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func stockOf(r domain.InventoryRecord) stockResponse {
	return stockResponse{CarModelID: r.CarModelID, Quantity: r.Quantity, UpdatedAt: r.UpdatedAt}
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}
