// Package orders реализует бизнес-операции над заказами: оформление, изменение позиций,
// правку шапки и удаление. Каждая операция выполняется в одной транзакции вместе со
// складом, ключом идемпотентности и outbox.
package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/cache"
	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/metrics"
	"github.com/vladislavdragonenkov/dealership/internal/service/inventory"
	"github.com/vladislavdragonenkov/dealership/internal/service/notifier"
)

// Имена операций; используются в ошибках, логах и метриках.
const (
	OpCreateOrder   = "CreateOrder"
	OpAddItem       = "AddSingleItem"
	OpAddItems      = "AddMultipleItems"
	OpEditItem      = "EditItem"
	OpRemoveItems   = "RemoveItems"
	OpEditOrder     = "EditOrder"
	OpDeleteOrder   = "DeleteOrder"
	OpGetOrder      = "GetOrder"
	OpListOrders    = "ListOrders"
	OpOrderTimeline = "OrderTimeline"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCacheTTL       = 5 * time.Minute
)

// Store: то, что сервису нужно от хранилища.
type Store interface {
	domain.TxManager
	domain.Repositories
}

// Result: итог мутирующей операции.
type Result struct {
	Order domain.Order
	// Item заполняется для операций над одной позицией.
	Item *domain.OrderItem
	// Replayed: ответ восстановлен по ключу идемпотентности, повторного выполнения не было.
	Replayed bool
}

// Options задаёт зависимости сервиса.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.WorkflowMetrics
	Cache          domain.Cache
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration
	Notifier       *notifier.Notifier
	Clock          func() time.Time
	NewID          func() string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics включает Prometheus-метрики операций.
func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithCache задаёт кэш представлений заказов и TTL записей.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(o *Options) {
		o.Cache = c
		o.CacheTTL = ttl
	}
}

// WithIdempotencyTTL задаёт срок хранения ключей идемпотентности.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(o *Options) { o.IdempotencyTTL = ttl }
}

// WithNotifier задаёт notifier событий заказа.
func WithNotifier(n *notifier.Notifier) Option {
	return func(o *Options) { o.Notifier = n }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) { o.NewID = newID }
}

// Service выполняет операции над заказами.
type Service struct {
	store          Store
	notifier       *notifier.Notifier
	loader         *cache.Loader
	metrics        *metrics.WorkflowMetrics
	logger         *log.Entry
	now            func() time.Time
	newID          func() string
	idempotencyTTL time.Duration
}

// NewService создаёт сервис заказов.
func NewService(store Store, options ...Option) *Service {
	opts := Options{
		CacheTTL:       defaultCacheTTL,
		IdempotencyTTL: defaultIdempotencyTTL,
		Clock:          func() time.Time { return time.Now().UTC() },
		NewID:          uuid.NewString,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-workflow")
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.New(logger.WithField("component", "order-notifier"))
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}

	return &Service{
		store:          store,
		notifier:       opts.Notifier,
		loader:         cache.NewLoader(opts.Cache, opts.CacheTTL, logger),
		metrics:        opts.Metrics,
		logger:         logger,
		now:            opts.Clock,
		newID:          opts.NewID,
		idempotencyTTL: opts.IdempotencyTTL,
	}
}

// request описывает мутирующий вызов.
type request struct {
	op       string
	key      string
	command  any
	resource domain.ResourceType
	orderID  string
}

// change: результат тела транзакции.
type change struct {
	order   domain.Order
	item    *domain.OrderItem
	created bool
}

// scope: репозитории и склад одной попытки транзакции.
type scope struct {
	repos  domain.Repositories
	ledger *inventory.Ledger
}

// mutate выполняет apply в транзакции вместе с захватом и фиксацией ключа идемпотентности.
// Тело может выполниться несколько раз при временной ошибке хранилища, поэтому
// всё состояние попытки создаётся внутри него.
func (s *Service) mutate(ctx context.Context, req request, apply func(ctx context.Context, sc *scope) (change, error)) (Result, error) {
	done := s.metrics.OperationStarted(req.op)
	logger := s.logger.WithFields(log.Fields{
		"operation":       req.op,
		"idempotency_key": req.key,
	})
	if req.orderID != "" {
		logger = logger.WithField("order_id", req.orderID)
	}

	if strings.TrimSpace(req.key) == "" {
		done(metrics.ResultFailed)
		return Result{}, s.failure(logger, req.op, domain.Invalid(req.op, "idempotency_key", domain.ErrIdempotencyKeyRequired))
	}
	hash, err := requestHash(req.op, req.command)
	if err != nil {
		done(metrics.ResultFailed)
		return Result{}, s.failure(logger, req.op, err)
	}

	var (
		result  Result
		created bool
		moves   *movements
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		result, created, moves = Result{}, false, newMovements()

		existing, err := repos.Idempotency().Claim(ctx, domain.IdempotencyRecord{
			Key:          req.key,
			RequestHash:  hash,
			ResourceType: req.resource,
			TTLAt:        s.now().Add(s.idempotencyTTL),
		})
		switch {
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			result, err = s.replay(ctx, repos, req, existing)
			return err
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return domain.Conflict(req.op, "idempotency_key", err)
		case err != nil:
			return fmt.Errorf("claim idempotency key: %w", err)
		}

		ch, err := apply(ctx, &scope{
			repos:  repos,
			ledger: inventory.NewLedger(repos.Inventory(), moves),
		})
		if err != nil {
			return err
		}

		body, err := json.Marshal(SnapshotOf(ch.order))
		if err != nil {
			return fmt.Errorf("marshal order snapshot: %w", err)
		}
		resourceID := ch.order.ID
		if req.resource == domain.ResourceOrderItem && ch.item != nil {
			resourceID = ch.item.ID
		}
		if err := repos.Idempotency().Complete(ctx, req.key, resourceID, body); err != nil {
			return fmt.Errorf("complete idempotency key: %w", err)
		}

		result = Result{Order: ch.order, Item: ch.item}
		created = ch.created
		return nil
	})
	if err != nil {
		done(metrics.ResultFailed)
		return Result{}, s.failure(logger, req.op, err)
	}

	logger = logger.WithField("order_id", result.Order.ID)
	if result.Replayed {
		done(metrics.ResultReplayed)
		logger.Info("Idempotent replay")
		return result, nil
	}

	moves.flush(s.metrics)
	s.metrics.RecordTimelineEvent()
	if created {
		s.metrics.RecordOutboxEvent()
	}
	s.loader.Invalidate(ctx, cache.OrderKey(result.Order.ID), cache.KeyAllOrders)

	done(metrics.ResultSuccess)
	logger.WithField("price", result.Order.Price.String()).Info("Order operation committed")
	return result, nil
}

// replay восстанавливает ответ по сохранённому ключу. Возвращается текущее состояние
// заказа; если заказ уже удалён, используется снимок на момент выполнения.
func (s *Service) replay(ctx context.Context, repos domain.Repositories, req request, record domain.IdempotencyRecord) (Result, error) {
	if record.Status != domain.IdempotencyStatusDone {
		return Result{}, domain.Conflict(req.op, "idempotency_key",
			fmt.Errorf("%w: request is still being processed", domain.ErrIdempotencyKeyAlreadyExists))
	}

	var snap OrderSnapshot
	if len(record.ResponseBody) > 0 {
		if err := json.Unmarshal(record.ResponseBody, &snap); err != nil {
			return Result{}, fmt.Errorf("decode idempotency snapshot: %w", err)
		}
	}
	orderID := snap.ID
	if orderID == "" && record.ResourceType == domain.ResourceOrder {
		orderID = record.ResourceID
	}

	result := Result{Replayed: true}
	current, err := repos.Orders().Get(ctx, orderID)
	switch {
	case err == nil:
		result.Order = current
	case errors.Is(err, domain.ErrOrderNotFound):
		result.Order = snap.Order()
	default:
		return Result{}, fmt.Errorf("reload order for replay: %w", err)
	}

	if record.ResourceType == domain.ResourceOrderItem {
		if idx, ok := result.Order.FindItem(record.ResourceID); ok {
			item := result.Order.Items[idx]
			result.Item = &item
		}
	}
	return result, nil
}

// lockOrder читает заказ с блокировкой строки до конца транзакции.
func (s *Service) lockOrder(ctx context.Context, sc *scope, op, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.Invalid(op, "order_id", errors.New("order_id is required"))
	}
	order, err := sc.repos.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.NotFound(op, "order_id", err)
		}
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

// save сохраняет заказ и перечитывает его, чтобы вернуть версию и время из хранилища.
func (s *Service) save(ctx context.Context, sc *scope, order domain.Order) (domain.Order, error) {
	if err := sc.repos.Orders().Save(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return s.reload(ctx, sc, order.ID)
}

func (s *Service) reload(ctx context.Context, sc *scope, orderID string) (domain.Order, error) {
	order, err := sc.repos.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reload order %s: %w", orderID, err)
	}
	return order, nil
}

func (s *Service) appendTimeline(ctx context.Context, sc *scope, orderID, eventType, reason string) error {
	if err := sc.repos.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: s.now(),
	}); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

// failure приводит ошибку к списку Failure и логирует её: ожидаемые ошибки на Warn,
// внутренние на Error.
func (s *Service) failure(logger *log.Entry, op string, err error) error {
	failures := classify(op, err)
	for _, f := range failures {
		entry := logger.WithFields(log.Fields{
			"code":  f.Code,
			"field": f.Field,
		})
		if f.Code == domain.FailureInternal {
			entry.WithError(f.Err).Error("Order operation failed")
			continue
		}
		entry.WithError(f).Warn("Order operation rejected")
	}
	return failures
}

// classify распознаёт доменные ошибки, пришедшие из хранилища без обёртки Failure.
func classify(op string, err error) domain.Failures {
	var list domain.Failures
	if errors.As(err, &list) {
		return list
	}
	var single *domain.Failure
	if errors.As(err, &single) {
		return domain.Failures{single}
	}

	switch {
	case domain.IsVersionConflict(err):
		return domain.Failures{domain.Conflict(op, "order_id", err)}
	case errors.Is(err, domain.ErrInsufficientStock):
		return domain.Failures{domain.InsufficientStock(op, "quantity", err)}
	case errors.Is(err, domain.ErrQuantityOverflow):
		return domain.Failures{domain.Invalid(op, "quantity", err)}
	case domain.IsNotFound(err):
		return domain.Failures{domain.NotFound(op, "", err)}
	case errors.Is(err, domain.ErrValidation):
		return domain.Failures{{Code: domain.FailureValidation, Op: op, Message: err.Error(), Err: err}}
	}
	return domain.Failures{domain.Internal(op, err)}
}

// requestHash: отпечаток команды. Ключ идемпотентности в него не входит.
func requestHash(op string, command any) (string, error) {
	payload, err := json.Marshal(command)
	if err != nil {
		return "", fmt.Errorf("marshal command for hashing: %w", err)
	}
	sum := sha256.Sum256(append([]byte(op+"\n"), payload...))
	return hex.EncodeToString(sum[:]), nil
}

// movements копит движение остатков одной попытки транзакции; в метрики попадает
// только после коммита.
type movements struct {
	reserved map[string]int32
	released map[string]int32
}

func newMovements() *movements {
	return &movements{reserved: map[string]int32{}, released: map[string]int32{}}
}

func (m *movements) RecordReserved(carModelID string, units int32) { m.reserved[carModelID] += units }

func (m *movements) RecordReleased(carModelID string, units int32) { m.released[carModelID] += units }

func (m *movements) flush(target *metrics.WorkflowMetrics) {
	if m == nil {
		return
	}
	for id, n := range m.reserved {
		target.RecordReserved(id, n)
	}
	for id, n := range m.released {
		target.RecordReleased(id, n)
	}
}
