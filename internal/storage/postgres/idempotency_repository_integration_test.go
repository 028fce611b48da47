package postgres

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func TestIdempotencyRepository_PostgresReplayableResponse(t *testing.T) {
	store := migratedStore(t)
	repo := NewIdempotencyRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	claimed, err := repo.CreateProcessing(ctx, " checkout-1 ", "sha-cart", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "checkout-1", claimed.Key)
	assert.Equal(t, domain.IdempotencyStatusProcessing, claimed.Status)

	pending, err := repo.Get(ctx, "checkout-1")
	require.NoError(t, err)
	assert.Nil(t, pending.ResponseBody)
	assert.Zero(t, pending.HTTPStatus)

	body := []byte(`{"orders":[{"order_id":1},{"order_id":2}]}`)
	require.NoError(t, repo.MarkDone(ctx, "checkout-1", body, http.StatusCreated))

	done, err := repo.Get(ctx, "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, done.Status)
	assert.Equal(t, http.StatusCreated, done.HTTPStatus)
	assert.JSONEq(t, string(body), string(done.ResponseBody))

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, http.StatusInternalServerError), domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresClaimRules(t *testing.T) {
	store := migratedStore(t)
	repo := NewIdempotencyRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	_, err := repo.CreateProcessing(ctx, "live", "sha-a", now.Add(time.Hour))
	require.NoError(t, err)

	held, err := repo.CreateProcessing(ctx, "live", "sha-a", now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusProcessing, held.Status)

	_, err = repo.CreateProcessing(ctx, "live", "sha-b", now.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = repo.CreateProcessing(ctx, "stale", "sha-old", now.Add(-time.Minute))
	require.NoError(t, err)
	reclaimed, err := repo.CreateProcessing(ctx, "stale", "sha-new", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "sha-new", reclaimed.RequestHash)
}

func TestIdempotencyRepository_PostgresDeleteExpiredInBatches(t *testing.T) {
	store := migratedStore(t)
	repo := NewIdempotencyRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for i, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := repo.CreateProcessing(ctx, key, "sha", now.Add(-time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "alive", "sha", now.Add(time.Hour))
	require.NoError(t, err)

	deleted, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = repo.Get(ctx, "old-1")
	require.NoError(t, err, "the most recently expired key survives the first batch")

	deleted, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.Get(ctx, "alive")
	assert.NoError(t, err)
}
