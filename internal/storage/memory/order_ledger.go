package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var errTxClosed = errors.New("ledger transaction is already closed")

type orderRecord struct {
	order domain.Order
	// committed становится true только после успешного завершения транзакции группы.
	committed bool
}

// OrderLedger: in-memory хранилище заказов с транзакцией на группу магазина.
// Незафиксированные заказы не видны читателям, откат удаляет их по журналу отмены.
type OrderLedger struct {
	mu          sync.RWMutex
	orders      map[int64]*orderRecord
	nextOrderID int64
	nextItemID  int64

	outbox *OutboxRepository
	now    func() time.Time
}

// NewOrderLedger создаёт ledger. События outbox попадают в outbox только при commit.
func NewOrderLedger(outbox *OutboxRepository) *OrderLedger {
	if outbox == nil {
		outbox = NewOutboxRepository()
	}
	return &OrderLedger{
		orders: make(map[int64]*orderRecord),
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithinShopTx выполняет fn; при ошибке или панике удаляет всё, что fn успела создать.
func (l *OrderLedger) WithinShopTx(ctx context.Context, fn func(tx domain.LedgerTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &ledgerTx{ledger: l}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return fmt.Errorf("commit shop tx: %w", err)
	}
	tx.commit()
	return nil
}

// Get возвращает зафиксированный заказ с позициями.
func (l *OrderLedger) Get(ctx context.Context, id int64) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.orders[id]
	if !ok || !rec.committed {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(rec.order), nil
}

// ListByCustomer возвращает заказы клиента от новых к старым, ограничивая выборку limit (если >0).
func (l *OrderLedger) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, rec := range l.orders {
		if !rec.committed || rec.order.CustomerID == nil || *rec.order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(rec.order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count возвращает число видимых заказов.
func (l *OrderLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, rec := range l.orders {
		if rec.committed {
			count++
		}
	}
	return count
}

func (l *OrderLedger) deleteOrder(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.orders, id)
}

type ledgerTx struct {
	ledger   *OrderLedger
	created  []int64
	outbox   []domain.OutboxMessage
	finished bool
}

func (tx *ledgerTx) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := tx.check(ctx); err != nil {
		return domain.Order{}, err
	}
	if order.ShopID <= 0 {
		return domain.Order{}, domain.ErrShopRequired
	}
	if !order.Status.Valid() {
		return domain.Order{}, domain.ErrOrderStatusInvalid
	}

	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextOrderID++
	order.ID = l.nextOrderID
	order.CreatedAt = l.now()
	order.Items = nil
	if order.CustomerID != nil {
		customerID := *order.CustomerID
		order.CustomerID = &customerID
	}

	l.orders[order.ID] = &orderRecord{order: order}
	tx.created = append(tx.created, order.ID)
	return cloneOrder(order), nil
}

func (tx *ledgerTx) CreateOrderItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	if err := tx.check(ctx); err != nil {
		return domain.OrderItem{}, err
	}
	if item.Quantity < 1 {
		return domain.OrderItem{}, domain.ErrItemQtyInvalid
	}
	if item.Price.IsNegative() {
		return domain.OrderItem{}, domain.ErrItemPriceInvalid
	}

	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := tx.ownRecordLocked(item.OrderID)
	if err != nil {
		return domain.OrderItem{}, err
	}

	l.nextItemID++
	item.ID = l.nextItemID
	rec.order.Items = append(rec.order.Items, item)
	return item, nil
}

func (tx *ledgerTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if total.IsNegative() {
		return domain.ErrAmountNegative
	}

	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := tx.ownRecordLocked(orderID)
	if err != nil {
		return err
	}
	rec.order.Total = total
	return nil
}

func (tx *ledgerTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := tx.check(ctx); err != nil {
		return domain.OutboxMessage{}, err
	}
	tx.outbox = append(tx.outbox, msg)
	return msg, nil
}

func (tx *ledgerTx) check(ctx context.Context) error {
	if tx.finished {
		return errTxClosed
	}
	return ctx.Err()
}

// ownRecordLocked возвращает заказ, созданный этой транзакцией. Вызывается под l.mu.
func (tx *ledgerTx) ownRecordLocked(orderID int64) (*orderRecord, error) {
	rec, ok := tx.ledger.orders[orderID]
	if !ok || rec.committed {
		return nil, domain.ErrOrderNotFound
	}
	return rec, nil
}

func (tx *ledgerTx) commit() {
	l := tx.ledger
	l.mu.Lock()
	for _, id := range tx.created {
		if rec, ok := l.orders[id]; ok {
			rec.committed = true
		}
	}
	l.mu.Unlock()

	l.outbox.mu.Lock()
	for _, msg := range tx.outbox {
		l.outbox.appendLocked(msg)
	}
	l.outbox.mu.Unlock()

	tx.finished = true
}

func (tx *ledgerTx) rollback() {
	for i := len(tx.created) - 1; i >= 0; i-- {
		tx.ledger.deleteOrder(tx.created[i])
	}
	tx.created = nil
	tx.outbox = nil
	tx.finished = true
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	if src.CustomerID != nil {
		customerID := *src.CustomerID
		dst.CustomerID = &customerID
	}
	return dst
}

var _ domain.OrderLedger = (*OrderLedger)(nil)
var _ domain.LedgerTx = (*ledgerTx)(nil)
