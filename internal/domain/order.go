package domain

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Address: адрес доставки автомобиля покупателю.
type Address struct {
	Country string
	Region  string
	City    string
	Street  string
}

// Validate проверяет обязательные части адреса. Регион опционален.
func (a Address) Validate() error {
	if a.Country == "" || a.City == "" || a.Street == "" {
		return ErrAddressInvalid
	}
	return nil
}

// MaxItemQuantity: наибольшее количество единиц в одной позиции заказа.
const MaxItemQuantity int32 = 10_000

// ValidQuantity проверяет количество одной позиции.
func ValidQuantity(n int32) error {
	switch {
	case n <= 0:
		return ErrItemQtyInvalid
	case n > MaxItemQuantity:
		return ErrItemQtyTooLarge
	}
	return nil
}

// SumUnits складывает количества в int64 и отвергает результат вне диапазона int32.
func SumUnits(a, b int32) (int32, error) {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return 0, ErrQuantityOverflow
	}
	return int32(sum), nil
}

// AddUnits прибавляет n единиц модели к units.
func AddUnits(units map[string]int32, carModelID string, n int32) error {
	sum, err := SumUnits(units[carModelID], n)
	if err != nil {
		return fmt.Errorf("car model %s: %w", carModelID, err)
	}
	units[carModelID] = sum
	return nil
}

// OrderItem: строка заказа. UnitPrice фиксируется при добавлении и дальше не меняется,
// даже если цена модели в каталоге обновилась.
type OrderItem struct {
	ID         string
	OrderID    string
	CarModelID string
	Quantity   int32
	UnitPrice  decimal.Decimal
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineTotal возвращает quantity * unitPrice.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order: агрегат заказа. Price всегда равен сумме LineTotal по позициям.
type Order struct {
	ID          string
	BuyerID     string
	EmployeeID  string
	Address     Address
	Price       decimal.Decimal
	Items       []OrderItem
	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
	Version     int64
}

// RecomputeTotal пересчитывает Price по текущим позициям и возвращает новое значение.
func (o *Order) RecomputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	o.Price = total
	return total
}

// FindItem ищет позицию по идентификатору и возвращает её индекс.
func (o *Order) FindItem(itemID string) (int, bool) {
	for idx, item := range o.Items {
		if item.ID == itemID {
			return idx, true
		}
	}
	return -1, false
}

// AppendItem привязывает позицию к заказу и пересчитывает итог.
func (o *Order) AppendItem(item OrderItem) {
	item.OrderID = o.ID
	o.Items = append(o.Items, item)
	o.RecomputeTotal()
}

// RemoveItems удаляет позиции с указанными id и возвращает удалённые.
// Неизвестные id игнорируются.
func (o *Order) RemoveItems(itemIDs []string) []OrderItem {
	if len(itemIDs) == 0 {
		return nil
	}
	var removed []OrderItem
	kept := o.Items[:0:0]
	for _, item := range o.Items {
		if slices.Contains(itemIDs, item.ID) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	o.Items = kept
	o.RecomputeTotal()
	return removed
}

// ReservedUnits возвращает, сколько единиц каждой модели заказ держит на складе.
func (o *Order) ReservedUnits() (map[string]int32, error) {
	units := make(map[string]int32, len(o.Items))
	for _, item := range o.Items {
		if err := AddUnits(units, item.CarModelID, item.Quantity); err != nil {
			return nil, err
		}
	}
	return units, nil
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	if o.CompletedAt != nil {
		completed := *o.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.EmployeeID == "" {
		errs = append(errs, ErrEmployeeRequired)
	}
	if err := o.Address.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.CompletedAt != nil && o.CompletedAt.Before(o.CreatedAt) {
		errs = append(errs, ErrCompletedBeforeCreated)
	}

	calc := decimal.Zero
	for _, item := range o.Items {
		if err := ValidQuantity(item.Quantity); err != nil {
			errs = append(errs, err)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.LineTotal())
	}
	if !calc.Equal(o.Price) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
