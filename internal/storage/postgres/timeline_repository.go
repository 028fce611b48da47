package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// TimelineRepository хранит историю статусов заказов в timeline_events.
type TimelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию domain.TimelineRepository.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB()}
}

// Append пишет переход статуса. Отсутствующий заказ даёт domain.ErrOrderNotFound.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, from_status, to_status, note, changed_at) VALUES ($1, $2, $3, $4, $5)`,
		event.OrderID, string(event.From), string(event.To), event.Note, event.At.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return domain.ErrOrderNotFound
	default:
		return fmt.Errorf("append status %s of order %d: %w", event.To, event.OrderID, err)
	}
}

// List возвращает историю заказа от старых переходов к новым.
func (r *TimelineRepository) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT from_status, to_status, note, changed_at FROM timeline_events WHERE order_id = $1 ORDER BY changed_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("timeline of order %d: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		var from, to string
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&from, &to, &event.Note, &event.At); err != nil {
			return nil, fmt.Errorf("timeline of order %d: %w", orderID, err)
		}
		event.From, event.To = domain.OrderStatus(from), domain.OrderStatus(to)
		event.At = event.At.UTC()
		history = append(history, event)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
