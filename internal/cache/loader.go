package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// Ключи кэша заказов.
const (
	KeyAllOrders = "orders:all"
)

// OrderKey возвращает ключ кэша конкретного заказа.
func OrderKey(orderID string) string {
	return "order:" + orderID
}

// Loader реализует read-through поверх Cache. Одновременные промахи по одному
// ключу схлопываются в одну загрузку.
//
// Каждая Invalidate увеличивает эпоху. Значение, загруженное в одной эпохе, не
// остаётся в кэше, если за время загрузки эпоха сменилась. Эпоха локальна для процесса.
type Loader struct {
	cache  domain.Cache
	ttl    time.Duration
	group  singleflight.Group
	epoch  atomic.Uint64
	logger *log.Entry
}

// NewLoader создаёт Loader. Nil cache заменяется на Noop.
func NewLoader(c domain.Cache, ttl time.Duration, logger *log.Entry) *Loader {
	if c == nil {
		c = Noop{}
	}
	if logger == nil {
		logger = log.WithField("component", "cache")
	}
	return &Loader{cache: c, ttl: ttl, logger: logger}
}

// ReadThrough возвращает значение из кэша либо загружает его через load и кладёт в кэш.
// Ошибки кэша не фатальны: запрос уходит в хранилище.
func (l *Loader) ReadThrough(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := l.get(ctx, key); ok {
		return value, nil
	}

	// запросы после инвалидации не присоединяются к загрузке, начатой до неё
	epoch := l.epoch.Load()
	flight := key + "@" + strconv.FormatUint(epoch, 10)

	value, err, _ := l.group.Do(flight, func() (any, error) {
		if value, ok := l.get(ctx, key); ok {
			return value, nil
		}
		fresh, err := load(ctx)
		if err != nil {
			return nil, err
		}
		l.store(ctx, key, fresh, epoch)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// store кладёт загруженное значение, если эпоха не сменилась. Инвалидация,
// пришедшая во время Set, видна по эпохе после него, и значение удаляется.
func (l *Loader) store(ctx context.Context, key string, value []byte, epoch uint64) {
	if l.epoch.Load() != epoch {
		return
	}
	if err := l.cache.Set(ctx, key, value, l.ttl); err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("cache set failed")
		return
	}
	if l.epoch.Load() != epoch {
		l.remove(ctx, key)
	}
}

// Invalidate сдвигает эпоху и удаляет ключи; ошибки только логируются.
func (l *Loader) Invalidate(ctx context.Context, keys ...string) {
	l.epoch.Add(1)
	l.remove(ctx, keys...)
}

func (l *Loader) remove(ctx context.Context, keys ...string) {
	if err := l.cache.Remove(ctx, keys...); err != nil {
		l.logger.WithError(err).WithField("keys", keys).Warn("cache invalidation failed")
	}
}

func (l *Loader) get(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("cache get failed")
		return nil, false
	}
	return value, ok
}
