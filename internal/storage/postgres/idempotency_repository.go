package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	// claimIdempotencyKeySQL занимает свободный ключ или перезаписывает просроченный.
	// Живой ключ не трогается, и RETURNING ничего не возвращает.
	claimIdempotencyKeySQL = `
INSERT INTO idempotency_keys (key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at)
VALUES ($1, $2, NULL, 0, $3, $4, $5, $5)
ON CONFLICT (key) DO UPDATE SET
    request_hash = EXCLUDED.request_hash,
    response_body = NULL,
    http_status = 0,
    status = EXCLUDED.status,
    ttl_at = EXCLUDED.ttl_at,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at
WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
RETURNING key`

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	deleteExpiredIdempotencyKeysSQL = `
DELETE FROM idempotency_keys
WHERE key IN (
    SELECT key FROM idempotency_keys
    WHERE ttl_at <= $1
    ORDER BY ttl_at
    LIMIT $2
)`
)

// IdempotencyRepository хранит ключи Idempotency-Key в таблице idempotency_keys.
type IdempotencyRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию domain.IdempotencyRepository.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:    store.DB(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Живой ключ возвращается вместе с ошибкой конфликта.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, ttlAt, r.clock())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed string
	err = r.db.QueryRowContext(queryCtx, claimIdempotencyKeySQL,
		claim.Key, claim.RequestHash, string(claim.Status), claim.TTLAt, claim.CreatedAt,
	).Scan(&claimed)
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %q: %w", claim.Key, err)
	}

	held, err := r.Get(ctx, claim.Key)
	if err != nil {
		// Ключ успели удалить между INSERT и SELECT: для клиента это всё равно конфликт.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return held, held.ConflictWith(claim.RequestHash)
}

// Get читает запись по ключу.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record domain.IdempotencyRecord
		status string
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&record.Key, &record.RequestHash, &record.ResponseBody, &record.HTTPStatus, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("read idempotency key %q: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %q has unknown status %q", key, status)
	}
	return record, nil
}

// MarkDone сохраняет успешный ответ checkout.
func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// MarkFailed сохраняет ответ с ошибкой.
func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit просроченных ключей, начиная с самых старых.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock()
	}
	batch := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, deleteExpiredIdempotencyKeysSQL, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(deleted), nil
}

func (r *IdempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET response_body = $2, http_status = $3, status = $4, updated_at = $5 WHERE key = $1`,
		key, responseBody, httpStatus, string(status), r.clock(),
	)
	if err != nil {
		return fmt.Errorf("mark idempotency key %q %s: %w", key, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark idempotency key %q %s: %w", key, status, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
