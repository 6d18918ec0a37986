package memory

import (
	"context"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

type idempotencyRepository struct {
	s *session
}

// Claim занимает ключ. При повторе возвращается копия существующей записи
// вместе с ошибкой конфликта.
func (r *idempotencyRepository) Claim(ctx context.Context, record domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewClaim(record, r.s.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	var out domain.IdempotencyRecord
	err = r.s.write(ctx, func(st *state) error {
		if existing, ok := st.idempotency[claim.Key]; ok {
			out = copyRecord(existing)
			return existing.ConflictWith(claim.RequestHash)
		}
		st.idempotency[claim.Key] = claim
		out = claim
		return nil
	})
	return out, err
}

func (r *idempotencyRepository) Complete(ctx context.Context, key, resourceID string, responseBody []byte) error {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		rec, ok := st.idempotency[key]
		if !ok {
			return domain.ErrIdempotencyKeyNotFound
		}
		rec.Status = domain.IdempotencyStatusDone
		rec.ResourceID = resourceID
		rec.ResponseBody = slices.Clone(responseBody)
		rec.UpdatedAt = r.s.now()
		st.idempotency[key] = rec
		return nil
	})
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	var out domain.IdempotencyRecord
	err = r.s.read(ctx, func(st *state) error {
		rec, ok := st.idempotency[key]
		if !ok {
			return domain.ErrIdempotencyKeyNotFound
		}
		out = copyRecord(rec)
		return nil
	})
	return out, err
}

// DeleteExpired удаляет до limit просроченных ключей, начиная с самых старых.
// limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.s.now()
	}

	removed := 0
	err := r.s.write(ctx, func(st *state) error {
		expired := make([]domain.IdempotencyRecord, 0)
		for _, rec := range st.idempotency {
			if rec.ExpiredAt(before) {
				expired = append(expired, rec)
			}
		}
		slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
			return a.TTLAt.Compare(b.TTLAt)
		})
		if limit > 0 && len(expired) > limit {
			expired = expired[:limit]
		}
		for _, rec := range expired {
			delete(st.idempotency, rec.Key)
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = slices.Clone(src.ResponseBody)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
