package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// ErrNotDeadLetter: payload из DLQ не похож на запись outbox-воркера.
var ErrNotDeadLetter = errors.New("payload is not an outbox dead letter")

// DeadLetter: тело сообщения, которое воркер кладёт в DLQ после исчерпания попыток.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter фиксирует неотправленное сообщение и причину отказа.
func NewDeadLetter(msg domain.OutboxMessage, cause error, at time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		DLQPublishedAt: at.UTC(),
	}
	if cause != nil {
		letter.PublishError = cause.Error()
	}
	return letter
}

// Wrap упаковывает запись в outbox-сообщение с теми же ключами агрегата.
func (d DeadLetter) Wrap() (domain.OutboxMessage, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode dead letter %s: %w", d.OutboxID, err)
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       body,
	}, nil
}

// Original восстанавливает исходное сообщение для повторной публикации.
func (d DeadLetter) Original() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// DecodeDeadLetter разбирает payload DLQ-сообщения.
func DecodeDeadLetter(payload []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(payload, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("%w: %w", ErrNotDeadLetter, err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return DeadLetter{}, fmt.Errorf("%w: original payload is missing", ErrNotDeadLetter)
	}
	return letter, nil
}
