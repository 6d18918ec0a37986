// Package postgres хранит данные сервиса в PostgreSQL через database/sql и драйвер pgx.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/retry"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

// PoolConfig ограничивает пул соединений database/sql.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultPoolConfig подходит для одного экземпляра сервиса на небольшой базе.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxOpen: 20, MaxIdle: 10, MaxLifetime: time.Hour, MaxIdleTime: 10 * time.Minute}
}

func (p PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)
	db.SetConnMaxIdleTime(p.MaxIdleTime)
}

// SQLSTATE, на которые смотрит хранилище.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNumericOutOfRange    = "22003"

	idempotencyKeyConstraint = "idempotency_keys_pkey"
)

// querier: общее подмножество *sql.DB, *sql.Conn и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store хранит заказы, справочники, остатки, ключи идемпотентности и outbox в PostgreSQL.
type Store struct {
	db       *sql.DB
	executor *retry.Executor
	logger   *log.Entry
}

// Option настраивает Store.
type Option func(*settings)

type settings struct {
	retry  retry.Config
	pool   PoolConfig
	logger *log.Entry
}

// WithRetryConfig задаёт политику повтора транзакций.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *settings) { s.retry = cfg }
}

// WithPool переопределяет лимиты пула соединений.
func WithPool(pool PoolConfig) Option {
	return func(s *settings) { s.pool = pool }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open подключается через драйвер pgx и ждёт ответа базы не дольше pingTimeout.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := settings{
		retry:  retry.DefaultConfig(),
		pool:   DefaultPoolConfig(),
		logger: log.WithField("component", "postgres-store"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	cfg.pool.apply(db)

	store := &Store{
		db:       db,
		executor: retry.NewExecutor(cfg.retry, IsTransient, cfg.logger),
		logger:   cfg.logger,
	}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для служебных задач вроде очистки таблиц в тестах.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema доводит схему до последней версии.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx выполняет fn в транзакции READ COMMITTED. На временной ошибке
// (сериализация, deadlock, потеря соединения) тело перезапускается целиком.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return s.executor.Do(ctx, "postgres.tx", func(ctx context.Context) error {
		return inTx(ctx, s.db, opts, s.logger, func(tx querier) error {
			return fn(ctx, repositories{q: tx})
		})
	})
}

// inTx открывает транзакцию, фиксирует её при успехе fn и откатывает иначе.
func inTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, logger *log.Entry, fn func(querier) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && logger != nil {
			logger.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Orders() domain.OrderRepository        { return repositories{q: s.db}.Orders() }
func (s *Store) Inventory() domain.InventoryRepository { return repositories{q: s.db}.Inventory() }
func (s *Store) Catalog() domain.CatalogRepository     { return repositories{q: s.db}.Catalog() }
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return repositories{q: s.db}.Idempotency()
}
func (s *Store) Outbox() domain.OutboxRepository     { return repositories{q: s.db}.Outbox() }
func (s *Store) Timeline() domain.TimelineRepository { return repositories{q: s.db}.Timeline() }

// repositories привязывает репозитории к пулу или к открытой транзакции.
type repositories struct {
	q querier
}

func (r repositories) Orders() domain.OrderRepository { return &orderRepository{q: r.q} }
func (r repositories) Inventory() domain.InventoryRepository {
	return &inventoryRepository{q: r.q}
}
func (r repositories) Catalog() domain.CatalogRepository { return &catalogRepository{q: r.q} }
func (r repositories) Idempotency() domain.IdempotencyRepository {
	return &idempotencyRepository{q: r.q}
}
func (r repositories) Outbox() domain.OutboxRepository { return &outboxRepository{q: r.q} }
func (r repositories) Timeline() domain.TimelineRepository {
	return &timelineRepository{q: r.q}
}

// atomic группирует несколько statement-ов. Внутри транзакции fn вызывается
// как есть, на пуле открывается короткая транзакция.
func atomic(ctx context.Context, q querier, fn func(q querier) error) error {
	db, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}
	return inTx(ctx, db, nil, nil, fn)
}

// IsTransient сообщает, стоит ли повторить транзакцию целиком.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, errClaimRace) {
		return true
	}
	if pgErr, ok := asPgError(err); ok {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return true
		case codeUniqueViolation:
			// две транзакции вставили один ключ идемпотентности
			return pgErr.ConstraintName == idempotencyKeyConstraint
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	return pgErr, true
}

func hasCode(err error, code string) bool {
	pgErr, ok := asPgError(err)
	return ok && pgErr.Code == code
}

func isUniqueViolation(err error) bool     { return hasCode(err, codeUniqueViolation) }
func isForeignKeyViolation(err error) bool { return hasCode(err, codeForeignKeyViolation) }
func isNumericOutOfRange(err error) bool   { return hasCode(err, codeNumericOutOfRange) }

var (
	_ domain.Storage      = (*Store)(nil)
	_ domain.Repositories = repositories{}
)
