package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа магазина.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан при checkout, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid: платёж подтверждён провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing: магазин собирает заказ.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusDispatched: заказ передан в доставку.
	OrderStatusDispatched OrderStatus = "dispatched"
	// OrderStatusDelivered: заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPreparing,
		OrderStatusDispatched, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	// Price: снимок цены каталога на момент checkout, а не ссылка на товар.
	Price    decimal.Decimal
	Quantity int32
}

// Subtotal возвращает price * quantity без округления.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order агрегирует заказ одного магазина и его позиции.
type Order struct {
	ID     int64
	ShopID int64
	// CustomerID равен nil для гостевого checkout.
	CustomerID       *int64
	Total            decimal.Decimal
	Status           OrderStatus
	PaymentConfirmed bool
	Items            []OrderItem
	CreatedAt        time.Time
}

// ItemsTotal считает сумму позиций заказа.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ShopID <= 0 {
		errs = append(errs, ErrShopRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if !o.ItemsTotal().Equal(o.Total) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
