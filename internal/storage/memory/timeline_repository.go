package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// TimelineRepository держит историю статусов заказов в памяти процесса.
type TimelineRepository struct {
	mu      sync.RWMutex
	byOrder map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт пустую in-memory историю.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[int64][]domain.TimelineEvent)}
}

// Append вставляет переход так, чтобы история оставалась упорядоченной по времени.
// Переходы с одинаковым временем сохраняют порядок добавления.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byOrder[event.OrderID]
	pos := len(history)
	for pos > 0 && history[pos-1].At.After(event.At) {
		pos--
	}
	r.byOrder[event.OrderID] = slices.Insert(history, pos, event)
	return nil
}

// List возвращает копию истории заказа.
func (r *TimelineRepository) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
