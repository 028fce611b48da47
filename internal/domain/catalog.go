package domain

import "github.com/shopspring/decimal"

// Shop: магазин маркетплейса, владелец товаров и заказов.
type Shop struct {
	ID   int64
	Name string
	Slug string
}

// Product: товар каталога. Цена и остаток являются источником истины на момент чтения.
type Product struct {
	ID     int64
	ShopID int64
	Name   string
	SKU    string
	Price  decimal.Decimal
	Stock  int64
	Active bool
}
