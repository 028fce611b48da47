package idempotency_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func TestGuard_RunsHandlerOnceAndReplays(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := idempotency.NewGuard(repo, quietLogger(), 0)
	hash := idempotency.RequestHash("checkout", []byte(`{"items":[]}`))

	calls := 0
	handler := func(context.Context) idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"order_id":1}`)}
	}

	first, err := guard.Do(ctx, "key-1", hash, handler)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := guard.Do(ctx, "key-1", hash, handler)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, http.StatusCreated, second.Status)
	assert.JSONEq(t, `{"order_id":1}`, string(second.Body))
	assert.Equal(t, 1, calls)

	record, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestGuard_StoresFailures(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := idempotency.NewGuard(repo, quietLogger(), 0)

	_, err := guard.Do(ctx, "key-2", "hash", func(context.Context) idempotency.Response {
		return idempotency.Response{Status: http.StatusBadRequest, Body: []byte(`{"detail":"Cart vacío"}`)}
	})
	require.NoError(t, err)

	record, err := repo.Get(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	assert.Equal(t, http.StatusBadRequest, record.HTTPStatus)
}

func TestGuard_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := idempotency.NewGuard(repo, quietLogger(), 0)

	_, err := repo.CreateProcessing(ctx, "busy", "hash-a", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, err = guard.Do(ctx, "busy", "hash-a", mustNotRun(t))
	assert.ErrorIs(t, err, idempotency.ErrRequestInProgress)

	_, err = guard.Do(ctx, "busy", "hash-b", mustNotRun(t))
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, err = guard.Do(ctx, "  ", "hash-a", mustNotRun(t))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestGuard_RepositoryFailure(t *testing.T) {
	guard := idempotency.NewGuard(failingRepo{}, quietLogger(), 0)

	_, err := guard.Do(context.Background(), "key", "hash", mustNotRun(t))
	require.Error(t, err)
	assert.False(t, domain.IsIdempotencyConflict(err))
}

func TestGuard_StoresResultAfterRequestCanceled(t *testing.T) {
	repo := ctxAwareRepo{memory.NewIdempotencyRepository()}
	guard := idempotency.NewGuard(repo, quietLogger(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := guard.Do(ctx, "gone", "hash", func(context.Context) idempotency.Response {
		cancel()
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"order_id":7}`)}
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)

	record, err := repo.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, record.Status)

	retry, err := guard.Do(context.Background(), "gone", "hash", mustNotRun(t))
	require.NoError(t, err)
	assert.True(t, retry.Replayed)
	assert.JSONEq(t, `{"order_id":7}`, string(retry.Body))
}

func TestGuard_PanicMarksKeyFailed(t *testing.T) {
	repo := ctxAwareRepo{memory.NewIdempotencyRepository()}
	guard := idempotency.NewGuard(repo, quietLogger(), 0)

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = guard.Do(context.Background(), "panicky", "hash", func(context.Context) idempotency.Response {
			panic("boom")
		})
	})

	record, err := repo.Get(context.Background(), "panicky")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	assert.Equal(t, http.StatusInternalServerError, record.HTTPStatus)

	retry, err := guard.Do(context.Background(), "panicky", "hash", mustNotRun(t))
	require.NoError(t, err)
	assert.True(t, retry.Replayed)
	assert.Equal(t, http.StatusInternalServerError, retry.Status)
}

func TestRequestHash(t *testing.T) {
	a := idempotency.RequestHash("checkout", []byte(`{"a":1}`))
	b := idempotency.RequestHash("checkout", []byte(`{"a":2}`))
	c := idempotency.RequestHash("other", []byte(`{"a":1}`))

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, idempotency.RequestHash("checkout", []byte(`{"a":1}`)))
}

func mustNotRun(t *testing.T) func(context.Context) idempotency.Response {
	return func(context.Context) idempotency.Response {
		t.Fatal("handler must not run")
		return idempotency.Response{}
	}
}

type failingRepo struct {
	domain.IdempotencyRepository
}

func (failingRepo) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, errors.New("connection refused")
}

// ctxAwareRepo отказывает в записи по отменённому контексту, как это делает database/sql.
type ctxAwareRepo struct {
	*memory.IdempotencyRepository
}

func (r ctxAwareRepo) MarkDone(ctx context.Context, key string, body []byte, status int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.IdempotencyRepository.MarkDone(ctx, key, body, status)
}

func (r ctxAwareRepo) MarkFailed(ctx context.Context, key string, body []byte, status int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.IdempotencyRepository.MarkFailed(ctx, key, body, status)
}
