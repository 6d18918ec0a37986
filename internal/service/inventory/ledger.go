// Package inventory ведёт складской учёт автомобилей: проверку остатка, списание и возврат.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// Recorder получает сведения о движении остатков (метрики).
type Recorder interface {
	RecordReserved(carModelID string, units int32)
	RecordReleased(carModelID string, units int32)
}

// Ledger работает поверх InventoryRepository конкретной транзакции.
type Ledger struct {
	repo     domain.InventoryRepository
	recorder Recorder
}

// NewLedger создаёт ledger. recorder может быть nil.
func NewLedger(repo domain.InventoryRepository, recorder Recorder) *Ledger {
	return &Ledger{repo: repo, recorder: recorder}
}

// CheckAvailability сообщает, хватает ли остатка. Отсутствие складской записи
// означает нулевой остаток, а не ошибку.
func (l *Ledger) CheckAvailability(ctx context.Context, carModelID string, requested int32) (domain.Availability, error) {
	result := domain.Availability{CarModelID: carModelID, Requested: requested}

	record, err := l.repo.Get(ctx, carModelID)
	switch {
	case err == nil:
		result.Available = record.Quantity
	case errors.Is(err, domain.ErrInventoryNotFound):
		result.Available = 0
	default:
		return domain.Availability{}, fmt.Errorf("check availability of %s: %w", carModelID, err)
	}

	result.IsAvailable = requested <= result.Available
	return result, nil
}

// Decrease списывает n единиц одним условным обновлением. При нехватке
// возвращает *domain.StockError с доступным количеством.
func (l *Ledger) Decrease(ctx context.Context, carModelID string, n int32) (domain.InventoryRecord, error) {
	if n <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}

	record, err := l.repo.Decrease(ctx, carModelID, n)
	if err != nil {
		if errors.Is(err, domain.ErrInventoryNotFound) {
			return domain.InventoryRecord{}, &domain.StockError{CarModelID: carModelID, Requested: n}
		}
		return domain.InventoryRecord{}, err
	}
	if l.recorder != nil {
		l.recorder.RecordReserved(carModelID, n)
	}
	return record, nil
}

// Increase возвращает n единиц на склад.
func (l *Ledger) Increase(ctx context.Context, carModelID string, n int32) (domain.InventoryRecord, error) {
	if n <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}

	record, err := l.repo.Increase(ctx, carModelID, n)
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("increase stock of %s: %w", carModelID, err)
	}
	if l.recorder != nil {
		l.recorder.RecordReleased(carModelID, n)
	}
	return record, nil
}

// Shortages проверяет весь спрос целиком и возвращает модели, по которым остатка не хватает.
// Ничего не списывает.
func (l *Ledger) Shortages(ctx context.Context, demand map[string]int32) ([]*domain.StockError, error) {
	var shortages []*domain.StockError
	for _, carModelID := range sortedModels(demand) {
		availability, err := l.CheckAvailability(ctx, carModelID, demand[carModelID])
		if err != nil {
			return nil, err
		}
		if !availability.IsAvailable {
			shortages = append(shortages, &domain.StockError{
				CarModelID: carModelID,
				Requested:  availability.Requested,
				Available:  availability.Available,
			})
		}
	}
	return shortages, nil
}

// ReserveAll списывает спрос по всем моделям. Модели обрабатываются в отсортированном
// порядке, чтобы параллельные транзакции брали блокировки строк в одном порядке.
// Частичное списание при ошибке откатывается вместе с транзакцией.
func (l *Ledger) ReserveAll(ctx context.Context, demand map[string]int32) error {
	for _, carModelID := range sortedModels(demand) {
		if n := demand[carModelID]; n > 0 {
			if _, err := l.Decrease(ctx, carModelID, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReleaseAll возвращает на склад все единицы из units.
func (l *Ledger) ReleaseAll(ctx context.Context, units map[string]int32) error {
	for _, carModelID := range sortedModels(units) {
		if n := units[carModelID]; n > 0 {
			if _, err := l.Increase(ctx, carModelID, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedModels(demand map[string]int32) []string {
	ids := make([]string, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
