package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// IdempotencyRepository хранит ключи Idempotency-Key в памяти процесса.
type IdempotencyRepository struct {
	mu    sync.Mutex
	byKey map[string]*domain.IdempotencyRecord
	clock func() time.Time
}

// IdempotencyOption настраивает IdempotencyRepository.
type IdempotencyOption func(*IdempotencyRepository)

// WithIdempotencyClock подменяет источник времени для проверок TTL.
func WithIdempotencyClock(clock func() time.Time) IdempotencyOption {
	return func(r *IdempotencyRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository(opts ...IdempotencyOption) *IdempotencyRepository {
	r := &IdempotencyRepository{
		byKey: make(map[string]*domain.IdempotencyRecord),
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateProcessing занимает ключ. Живой ключ возвращается вместе с ошибкой конфликта,
// просроченный перезаписывается.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	now := r.clock()
	claim, err := domain.NewIdempotencyClaim(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.byKey[claim.Key]; ok && !held.Expired(now) {
		return snapshot(held), held.ConflictWith(claim.RequestHash)
	}
	r.byKey[claim.Key] = &claim
	return snapshot(&claim), nil
}

// Get возвращает копию записи.
func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.byKey[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(held), nil
}

// MarkDone сохраняет успешный ответ для повторов.
func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// MarkFailed сохраняет ответ с ошибкой; повтор с тем же ключом получит его же.
func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit ключей с ttl_at <= before, начиная с самых старых.
// limit<=0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = r.clock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*domain.IdempotencyRecord
	for _, held := range r.byKey {
		if held.Expired(before) {
			expired = append(expired, held)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, held := range expired {
		delete(r.byKey, held.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.byKey[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	held.Status = status
	held.ResponseBody = append([]byte(nil), responseBody...)
	held.HTTPStatus = httpStatus
	held.UpdatedAt = r.clock()
	return nil
}

func snapshot(held *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *held
	out.ResponseBody = append([]byte(nil), held.ResponseBody...)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
