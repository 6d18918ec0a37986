// Package memory: in-memory хранилище для локальной разработки и тестов.
//
// Все данные лежат в одном снимке состояния. Транзакция работает с копией снимка под
// эксклюзивной блокировкой записи и подменяет текущий снимок при коммите, так что откат
// сводится к тому, чтобы выбросить копию. Читатели вне транзакции видят только
// зафиксированные данные.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type state struct {
	orders      map[string]domain.Order
	inventory   map[string]domain.InventoryRecord
	buyers      map[string]domain.Buyer
	employees   map[string]domain.Employee
	carModels   map[string]domain.CarModel
	idempotency map[string]domain.IdempotencyRecord
	outbox      map[string]outboxRecord
	outboxSeq   int64
	timeline    map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		orders:      make(map[string]domain.Order),
		inventory:   make(map[string]domain.InventoryRecord),
		buyers:      make(map[string]domain.Buyer),
		employees:   make(map[string]domain.Employee),
		carModels:   make(map[string]domain.CarModel),
		idempotency: make(map[string]domain.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
		timeline:    make(map[string][]domain.TimelineEvent),
	}
}

// clone копирует карты. Значения внутри не изменяются на месте (репозитории всегда
// кладут новую копию), поэтому поверхностного копирования достаточно.
func (s *state) clone() *state {
	return &state{
		orders:      maps.Clone(s.orders),
		inventory:   maps.Clone(s.inventory),
		buyers:      maps.Clone(s.buyers),
		employees:   maps.Clone(s.employees),
		carModels:   maps.Clone(s.carModels),
		idempotency: maps.Clone(s.idempotency),
		outbox:      maps.Clone(s.outbox),
		outboxSeq:   s.outboxSeq,
		timeline:    maps.Clone(s.timeline),
	}
}

// Store: in-memory реализация domain.Storage.
type Store struct {
	// writeMu сериализует транзакции и автокоммитные записи.
	writeMu sync.Mutex
	// mu защищает указатель на текущий снимок.
	mu      sync.RWMutex
	current *state

	now func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		current: newState(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx выполняет fn на копии состояния и публикует её, только если fn и контекст
// завершились без ошибки.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	draft := s.current.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &session{store: s, draft: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = draft
	s.mu.Unlock()
	return nil
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

func (s *Store) autocommit() *session { return &session{store: s} }

func (s *Store) Orders() domain.OrderRepository            { return s.autocommit().Orders() }
func (s *Store) Inventory() domain.InventoryRepository     { return s.autocommit().Inventory() }
func (s *Store) Catalog() domain.CatalogRepository         { return s.autocommit().Catalog() }
func (s *Store) Idempotency() domain.IdempotencyRepository { return s.autocommit().Idempotency() }
func (s *Store) Outbox() domain.OutboxRepository           { return s.autocommit().Outbox() }
func (s *Store) Timeline() domain.TimelineRepository       { return s.autocommit().Timeline() }

// session привязывает репозитории либо к черновику транзакции, либо к текущему снимку.
type session struct {
	store *Store
	// draft == nil означает автокоммит.
	draft *state
}

func (s *session) Orders() domain.OrderRepository            { return &orderRepository{s} }
func (s *session) Inventory() domain.InventoryRepository     { return &inventoryRepository{s} }
func (s *session) Catalog() domain.CatalogRepository         { return &catalogRepository{s} }
func (s *session) Idempotency() domain.IdempotencyRepository { return &idempotencyRepository{s} }
func (s *session) Outbox() domain.OutboxRepository           { return &outboxRepository{s} }
func (s *session) Timeline() domain.TimelineRepository       { return &timelineRepository{s} }

func (s *session) now() time.Time { return s.store.now() }

func (s *session) read(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.draft != nil {
		return fn(s.draft)
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return fn(s.store.current)
}

// write вне транзакции ждёт завершения текущей транзакции и меняет снимок на месте.
// Поэтому fn обязана сначала проверить все условия и только потом изменять состояние.
func (s *session) write(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.draft != nil {
		return fn(s.draft)
	}
	s.store.writeMu.Lock()
	defer s.store.writeMu.Unlock()
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return fn(s.store.current)
}

var (
	_ domain.Storage      = (*Store)(nil)
	_ domain.Repositories = (*session)(nil)
)
