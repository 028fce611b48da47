package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	customer := int64(5)
	return domain.Order{
		ID:         1,
		ShopID:     10,
		CustomerID: &customer,
		Status:     domain.OrderStatusPending,
		Total:      decimal.RequireFromString("25.50"),
		Items: []domain.OrderItem{
			{ID: 1, OrderID: 1, ProductID: 100, Price: decimal.RequireFromString("10.25"), Quantity: 2},
			{ID: 2, OrderID: 1, ProductID: 101, Price: decimal.RequireFromString("5.00"), Quantity: 1},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_TrailingZerosAreEqual(t *testing.T) {
	order := makeOrder()
	order.Total = decimal.RequireFromString("25.5")
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no shop",
			mut:  func(o *domain.Order) { o.ShopID = 0 },
			want: domain.ErrShopRequired,
		},
		{
			name: "unknown status",
			mut:  func(o *domain.Order) { o.Status = "lost" },
			want: domain.ErrOrderStatusInvalid,
		},
		{
			name: "negative total",
			mut:  func(o *domain.Order) { o.Total = decimal.NewFromInt(-1) },
			want: domain.ErrAmountNegative,
		},
		{
			name: "no items",
			mut:  func(o *domain.Order) { o.Items = nil },
			want: domain.ErrItemsRequired,
		},
		{
			name: "qty invalid",
			mut:  func(o *domain.Order) { o.Items[0].Quantity = 0 },
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "price invalid",
			mut:  func(o *domain.Order) { o.Items[0].Price = decimal.RequireFromString("-0.01") },
			want: domain.ErrItemPriceInvalid,
		},
		{
			name: "amount mismatch",
			mut:  func(o *domain.Order) { o.Total = decimal.RequireFromString("25.49") },
			want: domain.ErrAmountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusPreparing,
		domain.OrderStatusDispatched, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	} {
		if !s.Valid() {
			t.Fatalf("status %q must be valid", s)
		}
	}
	if domain.OrderStatus("refunded").Valid() {
		t.Fatal("unexpected valid status")
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[string]string{
		"10000":  "10000.00",
		"5.5":    "5.50",
		"0":      "0.00",
		"19.999": "20.00",
	}
	for in, want := range cases {
		if got := domain.MoneyString(decimal.RequireFromString(in)); got != want {
			t.Fatalf("MoneyString(%s) = %s, want %s", in, got, want)
		}
	}
}
