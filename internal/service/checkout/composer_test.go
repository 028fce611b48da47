package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

type fixture struct {
	catalog  *memory.CatalogRepository
	ledger   *memory.OrderLedger
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	composer *checkout.Composer
}

func loggerForTests() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := memory.NewCatalogRepository()
	require.NoError(t, catalog.PutShop(domain.Shop{ID: 1, Name: "Tienda Uno", Slug: "tienda-uno"}))
	require.NoError(t, catalog.PutShop(domain.Shop{ID: 2, Name: "Tienda Dos", Slug: "tienda-dos"}))

	products := []domain.Product{
		{ID: 1, ShopID: 1, Name: "Mate", SKU: "MATE-1", Price: money("10000"), Stock: 5, Active: true},
		{ID: 2, ShopID: 2, Name: "Yerba", SKU: "YER-1", Price: money("250.50"), Stock: 10, Active: true},
		{ID: 3, ShopID: 1, Name: "Bombilla", SKU: "BOM-1", Price: money("19.99"), Stock: 2, Active: true},
		{ID: 4, ShopID: 2, Name: "Termo", SKU: "TER-1", Price: money("80"), Stock: 3, Active: false},
	}
	for _, p := range products {
		require.NoError(t, catalog.PutProduct(p))
	}

	outbox := memory.NewOutboxRepository()
	f := &fixture{
		catalog:  catalog,
		outbox:   outbox,
		ledger:   memory.NewOrderLedger(outbox),
		timeline: memory.NewTimelineRepository(),
	}
	f.composer = f.newComposer(f.ledger)
	return f
}

func (f *fixture) newComposer(ledger domain.OrderLedger, opts ...checkout.Option) *checkout.Composer {
	base := []checkout.Option{
		checkout.WithLogger(loggerForTests()),
		checkout.WithTimeline(f.timeline),
	}
	return checkout.NewComposer(f.catalog, ledger, payment.NewRedirector(""), append(base, opts...)...)
}

func (f *fixture) stocks() map[int64]int64 {
	result := make(map[int64]int64)
	for _, id := range []int64{1, 2, 3, 4} {
		p, _ := f.catalog.Product(id)
		result[id] = p.Stock
	}
	return result
}

func TestCompose_SingleShop(t *testing.T) {
	f := newFixture(t)

	orders, err := f.composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 1}}, nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	got := orders[0]
	assert.Equal(t, int64(1), got.ShopID)
	assert.Equal(t, "Tienda Uno", got.ShopName)
	assert.Equal(t, "10000.00", domain.MoneyString(got.Total))
	assert.Equal(t, fmt.Sprintf("https://sandbox.payment.provider/pay?order_id=%d&amount=10000.00", got.OrderID), got.PaymentURL)

	stored, err := f.ledger.Get(context.Background(), got.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.False(t, stored.PaymentConfirmed)
	assert.Nil(t, stored.CustomerID)
	assert.Empty(t, stored.ValidateInvariants())
}

func TestCompose_MultiShopKeepsFirstAppearanceOrder(t *testing.T) {
	f := newFixture(t)
	cart := []domain.CartLine{
		{ProductID: 2, Quantity: 2},
		{ProductID: 1, Quantity: 1},
		{ProductID: 3, Quantity: 2},
	}

	orders, err := f.composer.Compose(context.Background(), cart, &domain.CustomerRef{ID: 77})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, []int64{2, 1}, []int64{orders[0].ShopID, orders[1].ShopID})
	assert.Equal(t, "501.00", domain.MoneyString(orders[0].Total))
	assert.Equal(t, "10039.98", domain.MoneyString(orders[1].Total))

	listed, err := f.ledger.ListByCustomer(context.Background(), 77, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	for _, order := range listed {
		require.NotNil(t, order.CustomerID)
		assert.Equal(t, int64(77), *order.CustomerID)
	}
}

func TestCompose_DeterministicGrouping(t *testing.T) {
	cart := []domain.CartLine{
		{ProductID: 3, Quantity: 1},
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 1},
	}

	shape := func() []int64 {
		f := newFixture(t)
		orders, err := f.composer.Compose(context.Background(), cart, nil)
		require.NoError(t, err)
		ids := make([]int64, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.ShopID)
		}
		return ids
	}

	first := shape()
	for range 5 {
		if diff := cmp.Diff(first, shape()); diff != "" {
			t.Fatalf("grouping is not deterministic (-first +got):\n%s", diff)
		}
	}
	assert.Equal(t, []int64{1, 2}, first)
}

func TestCompose_IgnoresClientPrice(t *testing.T) {
	f := newFixture(t)
	cheap := money("0.01")

	orders, err := f.composer.Compose(context.Background(), []domain.CartLine{
		{ProductID: 1, Quantity: 2, ClientPrice: &cheap},
	}, nil)
	require.NoError(t, err)

	stored, err := f.ledger.Get(context.Background(), orders[0].OrderID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].Price.Equal(money("10000")))
	assert.Equal(t, "20000.00", domain.MoneyString(stored.Total))
}

func TestCompose_PartitionAndTotals(t *testing.T) {
	f := newFixture(t)
	cart := []domain.CartLine{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 3},
		{ProductID: 1, Quantity: 2},
		{ProductID: 3, Quantity: 1},
	}

	orders, err := f.composer.Compose(context.Background(), cart, nil)
	require.NoError(t, err)

	type line struct {
		ProductID int64
		Quantity  int32
	}
	var gotLines []line
	for _, composed := range orders {
		stored, err := f.ledger.Get(context.Background(), composed.OrderID)
		require.NoError(t, err)
		assert.Empty(t, stored.ValidateInvariants())
		assert.True(t, stored.Total.Equal(composed.Total))

		sum := decimal.Zero
		for _, item := range stored.Items {
			p, _ := f.catalog.Product(item.ProductID)
			assert.Equal(t, stored.ShopID, p.ShopID, "order must contain items of a single shop")
			sum = sum.Add(item.Price.Mul(decimal.NewFromInt32(item.Quantity)))
			gotLines = append(gotLines, line{item.ProductID, item.Quantity})
		}
		assert.True(t, sum.Equal(stored.Total))
	}

	wantLines := []line{{1, 1}, {1, 2}, {3, 1}, {2, 3}}
	if diff := cmp.Diff(wantLines, gotLines); diff != "" {
		t.Fatalf("order items mismatch (-want +got):\n%s", diff)
	}
}

func TestCompose_ValidationFailuresCreateNothing(t *testing.T) {
	tests := []struct {
		name    string
		cart    []domain.CartLine
		wantErr error
		detail  string
	}{
		{
			name:    "empty cart",
			cart:    nil,
			wantErr: domain.ErrEmptyCart,
			detail:  "Cart vacío",
		},
		{
			name:    "unknown product",
			cart:    []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 999, Quantity: 1}},
			wantErr: domain.ErrProductNotFound,
			detail:  "Producto 999 no encontrado",
		},
		{
			name:    "inactive product",
			cart:    []domain.CartLine{{ProductID: 4, Quantity: 1}},
			wantErr: domain.ErrProductNotFound,
			detail:  "Producto 4 no encontrado",
		},
		{
			name:    "insufficient stock",
			cart:    []domain.CartLine{{ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 10}},
			wantErr: domain.ErrInsufficientStock,
			detail:  "Stock insuficiente para Mate",
		},
		{
			name:    "stock summed across lines",
			cart:    []domain.CartLine{{ProductID: 3, Quantity: 1}, {ProductID: 3, Quantity: 2}},
			wantErr: domain.ErrInsufficientStock,
			detail:  "Stock insuficiente para Bombilla",
		},
		{
			name:    "zero quantity",
			cart:    []domain.CartLine{{ProductID: 1, Quantity: 0}},
			wantErr: domain.ErrInvalidQuantity,
			detail:  "Cantidad inválida",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.stocks()

			orders, err := f.composer.Compose(context.Background(), tc.cart, nil)

			require.ErrorIs(t, err, tc.wantErr)
			assert.True(t, domain.IsValidationError(err))
			assert.Contains(t, err.Error(), tc.detail)
			assert.Nil(t, orders)
			assert.Zero(t, f.ledger.Count())
			assert.Empty(t, f.outbox.AllPending())
			assert.Equal(t, before, f.stocks())
		})
	}
}

func TestCompose_InsufficientStockDetails(t *testing.T) {
	f := newFixture(t)

	_, err := f.composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 10}}, nil)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, domain.InsufficientStockError{ProductID: 1, Name: "Mate", Available: 5, Requested: 10}, *stockErr)
}

func TestCompose_StockIsNotDecremented(t *testing.T) {
	f := newFixture(t)
	before := f.stocks()

	_, err := f.composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 5}, {ProductID: 2, Quantity: 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, before, f.stocks())

	// Остаток не списывается, поэтому повторный checkout того же количества тоже проходит.
	_, err = f.composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 5}}, nil)
	require.NoError(t, err)
}

func TestCompose_EnqueuesOrderCreatedAndTimeline(t *testing.T) {
	f := newFixture(t)

	orders, err := f.composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}, nil)
	require.NoError(t, err)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 2)
	for i, msg := range pending {
		assert.Equal(t, domain.EventTypeOrderCreated, msg.EventType)
		assert.Equal(t, fmt.Sprint(orders[i].OrderID), msg.AggregateID)
		assert.Contains(t, string(msg.Payload), `"total":"`+domain.MoneyString(orders[i].Total)+`"`)
	}

	events, err := f.timeline.List(context.Background(), orders[0].OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].From)
	assert.Equal(t, domain.OrderStatusPending, events[0].To)
	assert.Equal(t, "checkout", events[0].Note)
}

func TestCompose_PartialFailureKeepsCommittedGroups(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	composer := f.newComposer(&failingLedger{OrderLedger: f.ledger, failShop: 2, err: boom})

	cart := []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}
	orders, err := composer.Compose(context.Background(), cart, nil)

	var partial *domain.PartialCheckoutError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.False(t, domain.IsValidationError(err))
	assert.Equal(t, int64(2), partial.FailedShopID)
	require.Len(t, partial.Committed, 1)
	assert.Equal(t, int64(1), partial.Committed[0].ShopID)
	assert.Equal(t, partial.Committed, orders)
	assert.Empty(t, partial.SkippedShopIDs)

	// Заказ первого магазина остался, частичный заказ второго откатан.
	assert.Equal(t, 1, f.ledger.Count())
	assert.Len(t, f.outbox.AllPending(), 1)
}

func TestCompose_PartialFailureNamesSkippedShops(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.catalog.PutShop(domain.Shop{ID: 3, Name: "Tienda Tres", Slug: "tienda-tres"}))
	require.NoError(t, f.catalog.PutProduct(domain.Product{ID: 5, ShopID: 3, Name: "Alfajor", SKU: "ALF-1", Price: money("3.50"), Stock: 9, Active: true}))
	composer := f.newComposer(&failingLedger{OrderLedger: f.ledger, failShop: 2, err: errors.New("connection reset")})

	cart := []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 5, Quantity: 2}}
	_, err := composer.Compose(context.Background(), cart, nil)

	var partial *domain.PartialCheckoutError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, int64(2), partial.FailedShopID)
	assert.Equal(t, []int64{3}, partial.SkippedShopIDs)
	require.Len(t, partial.Committed, 1)
	assert.Equal(t, int64(1), partial.Committed[0].ShopID)
	assert.Contains(t, err.Error(), "1 skipped")

	// Группа третьего магазина не запускалась.
	assert.Equal(t, 1, f.ledger.Count())
}

func TestCompose_FirstGroupFailureIsPersistenceError(t *testing.T) {
	f := newFixture(t)
	composer := f.newComposer(&failingLedger{OrderLedger: f.ledger, failShop: 1, err: errors.New("deadlock detected")})

	orders, err := composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}, nil)

	require.ErrorIs(t, err, domain.ErrPersistence)
	var partial *domain.PartialCheckoutError
	assert.False(t, errors.As(err, &partial))
	assert.Nil(t, orders)
	assert.Zero(t, f.ledger.Count())
}

func TestCompose_CatalogFailure(t *testing.T) {
	f := newFixture(t)
	composer := checkout.NewComposer(brokenCatalog{}, f.ledger, payment.NewRedirector(""), checkout.WithLogger(loggerForTests()))

	_, err := composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 1}}, nil)

	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.False(t, strings.Contains(err.Error(), "Producto"))
	assert.Zero(t, f.ledger.Count())
}

func TestCompose_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	composer := f.newComposer(f.ledger, checkout.WithMetrics(metrics.NewCheckoutMetricsWithRegisterer(reg)))

	_, err := composer.Compose(context.Background(), []domain.CartLine{{ProductID: 1, Quantity: 1}}, nil)
	require.NoError(t, err)
	_, err = composer.Compose(context.Background(), nil, nil)
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			key := family.GetName()
			for _, label := range m.GetLabel() {
				key += "/" + label.GetValue()
			}
			values[key] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(1), values["marketplace_checkout_total/success"])
	assert.Equal(t, float64(1), values["marketplace_checkout_total/validation_error"])
	assert.Equal(t, float64(1), values["marketplace_checkout_validation_failures_total/empty_cart"])
	assert.Equal(t, float64(1), values["marketplace_orders_created_total"])
}

// failingLedger отказывает при записи позиции заказа для заданного магазина.
type failingLedger struct {
	*memory.OrderLedger
	failShop int64
	err      error
}

func (l *failingLedger) WithinShopTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	return l.OrderLedger.WithinShopTx(ctx, func(tx domain.LedgerTx) error {
		return fn(&failingTx{LedgerTx: tx, failShop: l.failShop, err: l.err})
	})
}

type failingTx struct {
	domain.LedgerTx
	failShop int64
	shopID   int64
	err      error
}

func (tx *failingTx) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx.shopID = order.ShopID
	return tx.LedgerTx.CreateOrder(ctx, order)
}

func (tx *failingTx) CreateOrderItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	if tx.shopID == tx.failShop {
		return domain.OrderItem{}, tx.err
	}
	return tx.LedgerTx.CreateOrderItem(ctx, item)
}

type brokenCatalog struct{}

func (brokenCatalog) ProductsByID(context.Context, []int64) (map[int64]domain.Product, error) {
	return nil, errors.New("pq: relation \"products\" does not exist")
}

func (brokenCatalog) ShopsByID(context.Context, []int64) (map[int64]domain.Shop, error) {
	return nil, errors.New("pq: relation \"shops\" does not exist")
}
