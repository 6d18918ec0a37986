package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/storage/memory"
)

type recorderStub struct {
	reserved map[string]int32
	released map[string]int32
}

func newRecorderStub() *recorderStub {
	return &recorderStub{reserved: map[string]int32{}, released: map[string]int32{}}
}

func (r *recorderStub) RecordReserved(id string, n int32) { r.reserved[id] += n }
func (r *recorderStub) RecordReleased(id string, n int32) { r.released[id] += n }

func newLedger(t *testing.T, stock map[string]int32) (*Ledger, *memory.Store, *recorderStub) {
	t.Helper()

	store := memory.NewStore()
	for id, qty := range stock {
		_, err := store.Inventory().Set(context.Background(), id, qty)
		require.NoError(t, err)
	}
	rec := newRecorderStub()
	return NewLedger(store.Inventory(), rec), store, rec
}

func TestCheckAvailability(t *testing.T) {
	ledger, _, _ := newLedger(t, map[string]int32{"model-1": 3})
	ctx := context.Background()

	tests := []struct {
		name      string
		model     string
		requested int32
		available int32
		ok        bool
	}{
		{name: "enough", model: "model-1", requested: 3, available: 3, ok: true},
		{name: "short", model: "model-1", requested: 4, available: 3, ok: false},
		{name: "missing record is zero", model: "ghost", requested: 1, available: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.CheckAvailability(ctx, tt.model, tt.requested)
			require.NoError(t, err)
			require.Equal(t, tt.available, got.Available)
			require.Equal(t, tt.ok, got.IsAvailable)
			require.Equal(t, tt.requested, got.Requested)
		})
	}
}

func TestDecreaseAndIncrease(t *testing.T) {
	ledger, store, rec := newLedger(t, map[string]int32{"model-1": 5})
	ctx := context.Background()

	record, err := ledger.Decrease(ctx, "model-1", 2)
	require.NoError(t, err)
	require.Equal(t, int32(3), record.Quantity)

	_, err = ledger.Decrease(ctx, "model-1", 4)
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int32(3), stockErr.Available)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = ledger.Decrease(ctx, "ghost", 1)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = ledger.Decrease(ctx, "model-1", 0)
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	record, err = ledger.Increase(ctx, "model-1", 2)
	require.NoError(t, err)
	require.Equal(t, int32(5), record.Quantity)

	stored, err := store.Inventory().Get(ctx, "model-1")
	require.NoError(t, err)
	require.Equal(t, int32(5), stored.Quantity)
	require.Equal(t, int32(2), rec.reserved["model-1"])
	require.Equal(t, int32(2), rec.released["model-1"])
}

func TestShortagesCollectsEveryModel(t *testing.T) {
	ledger, _, _ := newLedger(t, map[string]int32{"a": 1, "b": 5, "c": 0})

	shortages, err := ledger.Shortages(context.Background(), map[string]int32{"a": 2, "b": 5, "c": 1})
	require.NoError(t, err)
	require.Len(t, shortages, 2)
	require.Equal(t, "a", shortages[0].CarModelID)
	require.Equal(t, int32(1), shortages[0].Available)
	require.Equal(t, "c", shortages[1].CarModelID)
}

func TestReserveAllInsideTxIsAllOrNothing(t *testing.T) {
	_, store, _ := newLedger(t, map[string]int32{"a": 2, "b": 1})
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		return NewLedger(tx.Inventory(), nil).ReserveAll(ctx, map[string]int32{"a": 2, "b": 2})
	})
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	a, err := store.Inventory().Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int32(2), a.Quantity, "partial decrease must be rolled back")

	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		ledger := NewLedger(tx.Inventory(), nil)
		if err := ledger.ReserveAll(ctx, map[string]int32{"a": 1, "b": 1}); err != nil {
			return err
		}
		return ledger.ReleaseAll(ctx, map[string]int32{"a": 1})
	})
	require.NoError(t, err)

	b, err := store.Inventory().Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, int32(0), b.Quantity)
	a, err = store.Inventory().Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int32(2), a.Quantity)
}
