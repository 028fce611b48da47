package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OutboxPublisher доставляет записи outbox в брокер. Повторная доставка той же записи допустима.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository отдаёт воркеру записи в статусе pending и фиксирует итог доставки.
// Запись в outbox делает LedgerTx.EnqueueOutbox в транзакции заказа.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository ведёт историю статусов заказа магазина.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ключи checkout-запросов и сохранённые ответы.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage: событие, ожидающее публикации. ID назначает хранилище, если он пуст.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats: размер backlog и время самой старой неотправленной записи.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// PaymentRedirector строит ссылку на оплату заказа у платёжного провайдера.
type PaymentRedirector interface {
	RedirectURL(orderID int64, total decimal.Decimal) string
}
