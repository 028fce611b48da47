package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetter_WrapKeepsAggregateKeys(t *testing.T) {
	t.Parallel()

	msg := orderCreatedMessage("msg-1", "42")
	letter := NewDeadLetter(msg, errors.New("boom"), time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("ART", -3*3600)))

	assert.Equal(t, "boom", letter.PublishError)
	assert.Equal(t, time.UTC, letter.DLQPublishedAt.Location())

	wrapped, err := letter.Wrap()
	require.NoError(t, err)
	assert.Equal(t, msg.ID, wrapped.ID)
	assert.Equal(t, msg.AggregateType, wrapped.AggregateType)
	assert.Equal(t, msg.AggregateID, wrapped.AggregateID)
	assert.Equal(t, msg.EventType, wrapped.EventType)
	assert.JSONEq(t, `{
		"outbox_id": "msg-1",
		"aggregate_type": "order",
		"aggregate_id": "42",
		"event_type": "order.created",
		"payload": {"order_id": 42, "total": "10.00"},
		"publish_error": "boom",
		"dlq_published_at": "2026-01-02T06:04:05Z"
	}`, string(wrapped.Payload))
}

func TestDeadLetter_NilCause(t *testing.T) {
	t.Parallel()

	letter := NewDeadLetter(orderCreatedMessage("msg-2", "2"), nil, time.Now())
	assert.Empty(t, letter.PublishError)
}

func TestDecodeDeadLetter(t *testing.T) {
	t.Parallel()

	wrapped, err := NewDeadLetter(orderCreatedMessage("msg-3", "3"), errors.New("timeout"), time.Now()).Wrap()
	require.NoError(t, err)

	letter, err := DecodeDeadLetter(wrapped.Payload)
	require.NoError(t, err)
	assert.Equal(t, orderCreatedMessage("msg-3", "3"), letter.Original())
	assert.Equal(t, "timeout", letter.PublishError)

	rejects := map[string]string{
		"not json":        `order.created`,
		"missing payload": `{"outbox_id":"msg-4"}`,
		"null payload":    `{"outbox_id":"msg-4","payload":null}`,
	}
	for name, raw := range rejects {
		_, err := DecodeDeadLetter([]byte(raw))
		assert.ErrorIs(t, err, ErrNotDeadLetter, name)
	}
}
