package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
)

// errClaimRace: ключ удалили между INSERT и SELECT, транзакцию повторяем.
var errClaimRace = errors.New("idempotency key vanished during claim")

const idempotencyColumns = `key, request_hash, resource_type, resource_id, response_body, status, ttl_at, created_at, updated_at`

type idempotencyRepository struct {
	q querier
}

func scanIdempotencyRecord(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		rec          domain.IdempotencyRecord
		resourceType string
		status       string
		body         []byte
	)
	err := row.Scan(&rec.Key, &rec.RequestHash, &resourceType, &rec.ResourceID, &body,
		&status, &rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("key %s has unknown status %q", rec.Key, status)
	}
	rec.ResourceType = domain.ResourceType(resourceType)
	if len(body) > 0 {
		rec.ResponseBody = body
	}
	rec.TTLAt = rec.TTLAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Claim вставляет ключ с ON CONFLICT DO NOTHING. Транзакция с тем же ключом
// дожидается коммита первой и видит её запись вместо ошибки уникальности,
// которая сделала бы текущую транзакцию непригодной.
func (r *idempotencyRepository) Claim(ctx context.Context, record domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewClaim(record, time.Now().UTC())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	inserted, err := execCount(ctx, r.q, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1, $2, $3, '', NULL, $4, $5, $6, $6)
		ON CONFLICT (key) DO NOTHING`,
		claim.Key, claim.RequestHash, string(claim.ResourceType), string(claim.Status), claim.TTLAt, claim.CreatedAt)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", claim.Key, err)
	}
	if inserted == 1 {
		return claim, nil
	}

	existing, err := r.Get(ctx, claim.Key)
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyNotFound):
		return domain.IdempotencyRecord{}, errClaimRace
	case err != nil:
		return domain.IdempotencyRecord{}, err
	}
	return existing, existing.ConflictWith(claim.RequestHash)
}

func (r *idempotencyRepository) Complete(ctx context.Context, key, resourceID string, responseBody []byte) error {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := execCount(ctx, r.q, `
		UPDATE idempotency_keys
		SET status = $2, resource_id = $3, response_body = $4, updated_at = $5
		WHERE key = $1`,
		key, string(domain.IdempotencyStatusDone), resourceID, responseBody, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete idempotency key %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanIdempotencyRecord(r.q.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return rec, nil
}

// DeleteExpired удаляет просроченные ключи, самые старые первыми.
// limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в Postgres означает отсутствие ограничения.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	n, err := execCount(ctx, r.q, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
