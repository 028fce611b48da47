package domain_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func TestIdempotencyStatus_Valid(t *testing.T) {
	for _, status := range []domain.IdempotencyStatus{
		domain.IdempotencyStatusProcessing,
		domain.IdempotencyStatusDone,
		domain.IdempotencyStatusFailed,
	} {
		assert.True(t, status.Valid(), status)
	}
	assert.False(t, domain.IdempotencyStatus("expired").Valid())
	assert.False(t, domain.IdempotencyStatus("").Valid())
}

func TestIsIdempotencyConflict(t *testing.T) {
	wrapped := fmt.Errorf("checkout key k-1: %w", domain.ErrIdempotencyHashMismatch)

	assert.True(t, domain.IsIdempotencyConflict(domain.ErrIdempotencyKeyAlreadyExists))
	assert.True(t, domain.IsIdempotencyConflict(wrapped))
	assert.False(t, domain.IsIdempotencyConflict(domain.ErrIdempotencyKeyNotFound))
	assert.False(t, domain.IsIdempotencyConflict(nil))
}

func TestOrderPlacedEvent(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("ART", -3*3600))

	event := domain.OrderPlacedEvent(domain.Order{ID: 42, Status: domain.OrderStatusPending}, fallback)
	assert.Equal(t, domain.TimelineEvent{
		OrderID: 42,
		To:      domain.OrderStatusPending,
		Note:    "checkout",
		At:      fallback.UTC(),
	}, event)
	assert.NoError(t, event.Validate())

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	event = domain.OrderPlacedEvent(domain.Order{ID: 42, Status: domain.OrderStatusPending, CreatedAt: created}, fallback)
	assert.Equal(t, created, event.At)
}

func TestTimelineEvent_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event domain.TimelineEvent
		want  error
	}{
		{name: "transition", event: domain.TimelineEvent{OrderID: 1, From: domain.OrderStatusPaid, To: domain.OrderStatusPreparing}},
		{name: "no order", event: domain.TimelineEvent{To: domain.OrderStatusPaid}, want: domain.ErrOrderNotFound},
		{name: "unknown target", event: domain.TimelineEvent{OrderID: 1, To: "lost"}, want: domain.ErrOrderStatusInvalid},
		{name: "unknown source", event: domain.TimelineEvent{OrderID: 1, From: "lost", To: domain.OrderStatusPaid}, want: domain.ErrOrderStatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
