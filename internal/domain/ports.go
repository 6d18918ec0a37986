package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderFilter ограничивает выборку списка заказов.
type OrderFilter struct {
	BuyerID string
	Limit   int
}

// OrderRepository хранит агрегаты заказов вместе с позициями.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ и блокирует его до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save перезаписывает заказ и его позиции; order.Version должен совпадать с сохранённым.
	Save(ctx context.Context, order Order) error
	Delete(ctx context.Context, id string) error
}

// InventoryRepository управляет складскими остатками.
type InventoryRepository interface {
	Get(ctx context.Context, carModelID string) (InventoryRecord, error)
	// Decrease атомарно уменьшает остаток только если quantity >= n.
	// Возвращает *StockError (errors.Is ErrInsufficientStock) при нехватке.
	Decrease(ctx context.Context, carModelID string, n int32) (InventoryRecord, error)
	// Increase увеличивает остаток, создавая запись при необходимости.
	Increase(ctx context.Context, carModelID string, n int32) (InventoryRecord, error)
	Set(ctx context.Context, carModelID string, quantity int32) (InventoryRecord, error)
}

// CatalogRepository хранит справочники: покупатели, сотрудники, модели.
type CatalogRepository interface {
	CreateBuyer(ctx context.Context, buyer Buyer) error
	GetBuyer(ctx context.Context, id string) (Buyer, error)
	ListBuyers(ctx context.Context) ([]Buyer, error)

	CreateEmployee(ctx context.Context, employee Employee) error
	GetEmployee(ctx context.Context, id string) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)

	CreateCarModel(ctx context.Context, model CarModel) error
	GetCarModel(ctx context.Context, id string) (CarModel, error)
	ListCarModels(ctx context.Context) ([]CarModel, error)
	// UpdateCarModelPrice меняет цену модели; уже добавленные позиции заказов не затрагиваются.
	UpdateCarModelPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) (CarModel, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// Claim занимает ключ. Если ключ уже существует, возвращает сохранённую запись и
	// ErrIdempotencyKeyAlreadyExists (тот же хэш) либо ErrIdempotencyHashMismatch.
	Claim(ctx context.Context, record IdempotencyRecord) (IdempotencyRecord, error)
	// Complete фиксирует ссылку на ресурс и снимок ответа.
	Complete(ctx context.Context, key, resourceID string, responseBody []byte) error
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// Repositories: набор репозиториев, привязанных к одному соединению или транзакции.
type Repositories interface {
	Orders() OrderRepository
	Inventory() InventoryRepository
	Catalog() CatalogRepository
	Idempotency() IdempotencyRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// TxFunc: тело транзакции. Может быть выполнено повторно при временной ошибке хранилища,
// поэтому не должно иметь побочных эффектов вне переданных репозиториев.
type TxFunc func(ctx context.Context, tx Repositories) error

// TxManager выполняет fn атомарно: все записи фиксируются вместе или не фиксируются вовсе.
type TxManager interface {
	WithinTx(ctx context.Context, fn TxFunc) error
}

// Storage: хранилище целиком: автокоммитные репозитории плюс транзакции.
type Storage interface {
	Repositories
	TxManager
	Ping(ctx context.Context) error
	Close() error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// Cache: кэш сериализованных представлений заказов.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
