package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type outboxStatus uint8

const (
	outboxPending outboxStatus = iota
	outboxSent
	outboxFailed
)

const defaultOutboxPull = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    outboxStatus
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository: in-memory outbox. Сообщения отдаются в порядке постановки.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]int
	clock   func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID:  make(map[string]int),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит сообщение в очередь вне транзакции ledger.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(msg), nil
}

// appendLocked требует r.mu. Повторный id заменяет сообщение, сохраняя его позицию.
func (r *OutboxRepository) appendLocked(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)

	now := r.clock()
	entry := &outboxEntry{msg: msg, status: outboxPending, createdAt: now, updatedAt: now}
	if idx, ok := r.byID[msg.ID]; ok {
		r.entries[idx] = entry
		return msg
	}
	r.byID[msg.ID] = len(r.entries)
	r.entries = append(r.entries, entry)
	return msg
}

func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultOutboxPull
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range r.entries {
		if len(out) == limit {
			break
		}
		if e.status == outboxPending {
			out = append(out, e.msg)
		}
	}
	return out, nil
}

func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		if e.status != outboxPending {
			continue
		}
		if stats.PendingCount == 0 || e.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = e.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

func (r *OutboxRepository) settle(id string, status outboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	e := r.entries[idx]
	e.status = status
	e.attempts++
	e.updatedAt = r.clock()
	return nil
}

// AllPending возвращает все pending-сообщения.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	pending, _ := r.PullPending(context.Background(), math.MaxInt)
	return pending
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
