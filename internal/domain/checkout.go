package domain

import "github.com/shopspring/decimal"

// CartLine: строка корзины, пришедшая от клиента. Живёт только в рамках одного checkout.
type CartLine struct {
	ProductID int64
	Quantity  int32
	// ClientPrice сохраняется только для адаптера; при расчёте заказа не используется.
	ClientPrice *decimal.Decimal
}

// CustomerRef идентифицирует покупателя. nil означает анонимный checkout.
type CustomerRef struct {
	ID int64
}

// ComposedOrder: результат checkout для одной группы магазина.
type ComposedOrder struct {
	OrderID    int64
	ShopID     int64
	ShopName   string
	Total      decimal.Decimal
	PaymentURL string
}

// MoneyString форматирует сумму с двумя знаками после запятой ("10000.00").
func MoneyString(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
