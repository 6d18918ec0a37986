package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Buyer: покупатель автомобиля.
type Buyer struct {
	ID        string
	FullName  string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// Employee: сотрудник дилерского центра, оформляющий заказ.
type Employee struct {
	ID        string
	FullName  string
	Position  string
	Email     string
	CreatedAt time.Time
}

// CarModel: позиция каталога. Price задаёт текущую цену и применяется только к новым позициям заказов.
type CarModel struct {
	ID        string
	Brand     string
	Model     string
	Year      int32
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InventoryRecord: складской остаток по модели.
type InventoryRecord struct {
	CarModelID string
	Quantity   int32
	UpdatedAt  time.Time
}

// Availability: результат проверки остатка под запрос.
type Availability struct {
	CarModelID  string
	Requested   int32
	Available   int32
	IsAvailable bool
}
