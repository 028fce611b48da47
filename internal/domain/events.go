package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	// AggregateTypeOrder: тип агрегата для событий заказа в outbox.
	AggregateTypeOrder = "order"
	// EventTypeOrderCreated публикуется после фиксации заказа магазина.
	EventTypeOrderCreated = "order.created"
)

// OrderCreatedEvent: payload события order.created.
type OrderCreatedEvent struct {
	OrderID    int64                   `json:"order_id"`
	ShopID     int64                   `json:"shop_id"`
	CustomerID *int64                  `json:"customer_id,omitempty"`
	Total      string                  `json:"total"`
	Status     OrderStatus             `json:"status"`
	Items      []OrderCreatedEventItem `json:"items"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// OrderCreatedEventItem: позиция заказа в событии.
type OrderCreatedEventItem struct {
	ProductID int64  `json:"product_id"`
	Price     string `json:"price"`
	Quantity  int32  `json:"quantity"`
}

// NewOrderCreatedMessage собирает outbox-сообщение для зафиксированного заказа.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	event := OrderCreatedEvent{
		OrderID:    order.ID,
		ShopID:     order.ShopID,
		CustomerID: order.CustomerID,
		Total:      MoneyString(order.Total),
		Status:     order.Status,
		Items:      make([]OrderCreatedEventItem, 0, len(order.Items)),
		OccurredAt: order.CreatedAt,
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderCreatedEventItem{
			ProductID: item.ProductID,
			Price:     MoneyString(item.Price),
			Quantity:  item.Quantity,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order.created: %w", err)
	}

	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     EventTypeOrderCreated,
		Payload:       payload,
	}, nil
}
