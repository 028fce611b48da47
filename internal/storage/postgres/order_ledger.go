package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const pgForeignKeyViolation = "23503"

// OrderLedger хранит заказы в PostgreSQL. Каждая группа магазина пишется
// в отдельной транзакции вместе со своим outbox-сообщением.
type OrderLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderLedger создаёт PostgreSQL-реализацию OrderLedger.
func NewOrderLedger(store *Store) *OrderLedger {
	return &OrderLedger{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithinShopTx выполняет fn в транзакции. Ошибка fn откатывает все её записи.
func (l *OrderLedger) WithinShopTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return inTx(ctx, l.db, func(tx *sql.Tx) error {
		return fn(&ledgerTx{tx: tx, now: l.now})
	})
}

// Get возвращает заказ вместе с позициями.
func (l *OrderLedger) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(l.db.QueryRowContext(ctx, `
		SELECT id, shop_id, customer_id, total, status, payment_confirmed, created_at
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := l.loadItems(ctx, []int64{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]

	return order, nil
}

// ListByCustomer возвращает заказы покупателя, новые первыми.
func (l *OrderLedger) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, shop_id, customer_id, total, status, payment_confirmed, created_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = l.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := l.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

func (l *OrderLedger) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order      domain.Order
		customerID sql.NullInt64
		status     string
	)
	if err := row.Scan(
		&order.ID, &order.ShopID, &customerID, &order.Total,
		&status, &order.PaymentConfirmed, &order.CreatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	if customerID.Valid {
		id := customerID.Int64
		order.CustomerID = &id
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	return order, nil
}

type ledgerTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *ledgerTx) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ShopID <= 0 {
		return domain.Order{}, domain.ErrShopRequired
	}
	if !order.Status.Valid() {
		return domain.Order{}, domain.ErrOrderStatusInvalid
	}

	var customerID sql.NullInt64
	if order.CustomerID != nil {
		customerID = sql.NullInt64{Int64: *order.CustomerID, Valid: true}
	}
	order.CreatedAt = t.now()

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (shop_id, customer_id, total, status, payment_confirmed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, order.ShopID, customerID, order.Total, string(order.Status), order.PaymentConfirmed, order.CreatedAt).Scan(&order.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Order{}, domain.ErrShopNotFound
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	order.Items = nil
	return order, nil
}

func (t *ledgerTx) CreateOrderItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	if item.Quantity < 1 {
		return domain.OrderItem{}, domain.ErrItemQtyInvalid
	}
	if item.Price.IsNegative() {
		return domain.OrderItem{}, domain.ErrItemPriceInvalid
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO order_items (order_id, product_id, price, quantity)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, item.OrderID, item.ProductID, item.Price, item.Quantity).Scan(&item.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.OrderItem{}, fmt.Errorf("insert order item: %w", domain.ErrOrderNotFound)
		}
		return domain.OrderItem{}, fmt.Errorf("insert order item: %w", err)
	}

	return item, nil
}

func (t *ledgerTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	if total.IsNegative() {
		return domain.ErrAmountNegative
	}

	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET total = $1 WHERE id = $2`, total, orderID)
	if err != nil {
		return fmt.Errorf("update order total: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *ledgerTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return enqueueOutbox(ctx, t.tx, msg, t.now())
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var (
	_ domain.OrderLedger = (*OrderLedger)(nil)
	_ domain.LedgerTx    = (*ledgerTx)(nil)
)
