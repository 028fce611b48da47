package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CatalogRepository: read-only доступ к каталогу магазинов и товаров.
type CatalogRepository interface {
	// ProductsByID возвращает найденные товары одним пакетным чтением. Отсутствующие id просто не попадают в map.
	ProductsByID(ctx context.Context, ids []int64) (map[int64]Product, error)
	// ShopsByID возвращает найденные магазины одним пакетным чтением.
	ShopsByID(ctx context.Context, ids []int64) (map[int64]Shop, error)
}

// OrderLedger описывает требования к хранилищу заказов.
type OrderLedger interface {
	// WithinShopTx выполняет fn в одной транзакции. Ошибка fn или commit откатывает все записи группы.
	WithinShopTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// ListByCustomer возвращает заказы покупателя от новых к старым; limit <= 0 — без ограничения.
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]Order, error)
}

// LedgerTx: операции записи, доступные внутри транзакции группы магазина.
type LedgerTx interface {
	// CreateOrder сохраняет заказ без позиций и возвращает его с присвоенными ID и CreatedAt.
	CreateOrder(ctx context.Context, order Order) (Order, error)
	// CreateOrderItem сохраняет позицию заказа и возвращает её с присвоенным ID.
	CreateOrderItem(ctx context.Context, item OrderItem) (OrderItem, error)
	// UpdateOrderTotal фиксирует итоговую сумму заказа.
	UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
	// EnqueueOutbox кладёт событие в outbox в той же транзакции.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}
