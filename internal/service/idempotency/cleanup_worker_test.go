package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/storage/memory"
)

var cleanupNow = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func claimKeys(t *testing.T, store *memory.Store, prefix string, n int, ttlAt time.Time) {
	t.Helper()

	for i := 0; i < n; i++ {
		_, err := store.Idempotency().Claim(context.Background(), domain.IdempotencyRecord{
			Key:          fmt.Sprintf("%s-%d", prefix, i),
			RequestHash:  "hash",
			ResourceType: domain.ResourceOrder,
			TTLAt:        ttlAt,
		})
		require.NoError(t, err)
	}
}

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	claimKeys(t, store, "expired", 5, cleanupNow.Add(-time.Minute))
	claimKeys(t, store, "alive", 2, cleanupNow.Add(time.Hour))

	worker := NewCleanupWorker(store.Idempotency(), WithBatchSize(2))
	deleted, err := worker.DeleteExpired(context.Background(), cleanupNow)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)

	_, err = store.Idempotency().Get(context.Background(), "expired-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = store.Idempotency().Get(context.Background(), "alive-1")
	require.NoError(t, err)
}

func TestCleanupWorker_DeleteExpired_CountsRepoCalls(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	worker := NewCleanupWorker(repo, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), cleanupNow)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.Equal(t, 3, repo.calls())
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteErrors: []error{errors.New("boom")}}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), cleanupNow)
	require.Error(t, err)
	require.Zero(t, deleted)
}

func TestCleanupWorker_DeleteExpired_UsesClockForZeroTime(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	claimKeys(t, store, "expired", 1, cleanupNow.Add(-time.Second))

	worker := NewCleanupWorker(store.Idempotency(), WithClock(func() time.Time { return cleanupNow }))
	deleted, err := worker.DeleteExpired(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestCleanupWorker_DeleteExpired_StopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 2}}
	worker := NewCleanupWorker(repo, WithBatchSize(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deleted, err := worker.DeleteExpired(ctx, cleanupNow)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, deleted)
	require.Zero(t, repo.calls())
}

func TestCleanupWorker_Defaults(t *testing.T) {
	t.Parallel()

	worker := NewCleanupWorker(nil, WithInterval(-time.Second), WithBatchSize(0))
	require.Equal(t, defaultCleanupInterval, worker.interval)
	require.Equal(t, defaultCleanupBatchSize, worker.batchSize)
	require.NotNil(t, worker.logger)

	// Без хранилища Run возвращается сразу.
	worker.Run(context.Background())
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}
	require.GreaterOrEqual(t, repo.calls(), 1)
}

type stubCleanupRepo struct {
	mu            sync.Mutex
	deleteResults []int
	deleteErrors  []error
	deleteCalls   int
}

func (s *stubCleanupRepo) Claim(context.Context, domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, nil
}

func (s *stubCleanupRepo) Complete(context.Context, string, string, []byte) error {
	return nil
}

func (s *stubCleanupRepo) Get(context.Context, string) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
}

func (s *stubCleanupRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteCalls++
	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		return 0, err
	}
	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	n := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return n, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteCalls
}

var _ domain.IdempotencyRepository = (*stubCleanupRepo)(nil)
