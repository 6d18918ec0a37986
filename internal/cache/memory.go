// Package cache хранит сериализованные представления заказов: в памяти процесса или в Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory: TTL-кэш в памяти процесса.
type Memory struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]entry), now: time.Now}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.items[key]; still && current.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

// Set сохраняет значение; ttl <= 0 означает "без срока".
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.items[key] = item
	c.mu.Unlock()
	return nil
}

func (c *Memory) Remove(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.items, key)
	}
	c.mu.Unlock()
	return nil
}

// Len возвращает число записей, включая ещё не вычищенные просроченные.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Noop ничего не хранит.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Remove(context.Context, ...string) error { return nil }

var (
	_ domain.Cache = (*Memory)(nil)
	_ domain.Cache = Noop{}
)
