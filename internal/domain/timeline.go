package domain

import "time"

// TimelineEvent: переход заказа магазина из одного статуса в другой.
type TimelineEvent struct {
	OrderID int64
	// From пуст у первой записи, сделанной при checkout.
	From OrderStatus
	To   OrderStatus
	Note string
	At   time.Time
}

// OrderPlacedEvent открывает историю заказа, созданного checkout.
func OrderPlacedEvent(order Order, at time.Time) TimelineEvent {
	if !order.CreatedAt.IsZero() {
		at = order.CreatedAt
	}
	return TimelineEvent{
		OrderID: order.ID,
		To:      order.Status,
		Note:    "checkout",
		At:      at.UTC(),
	}
}

// Validate проверяет, что событие привязано к заказу и ведёт в известный статус.
func (e TimelineEvent) Validate() error {
	if e.OrderID <= 0 {
		return ErrOrderNotFound
	}
	if !e.To.Valid() || (e.From != "" && !e.From.Valid()) {
		return ErrOrderStatusInvalid
	}
	return nil
}
