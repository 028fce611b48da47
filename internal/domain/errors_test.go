package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "empty cart", err: ErrEmptyCart, want: true},
		{name: "invalid quantity", err: fmt.Errorf("line 2: %w", ErrInvalidQuantity), want: true},
		{name: "product not found", err: &ProductNotFoundError{ProductID: 7}, want: true},
		{name: "insufficient stock", err: &InsufficientStockError{ProductID: 1, Name: "Mate"}, want: true},
		{name: "persistence", err: ErrPersistence, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.want {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProductNotFoundErrorMessage(t *testing.T) {
	err := error(&ProductNotFoundError{ProductID: 42})
	if err.Error() != "Producto 42 no encontrado" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	var pnf *ProductNotFoundError
	if !errors.As(err, &pnf) || pnf.ProductID != 42 {
		t.Fatalf("expected ProductNotFoundError with id 42, got %v", err)
	}
}

func TestInsufficientStockErrorMessage(t *testing.T) {
	err := &InsufficientStockError{ProductID: 3, Name: "Yerba", Available: 1, Requested: 4}
	if err.Error() != "Stock insuficiente para Yerba" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is to match ErrInsufficientStock")
	}
}

func TestPartialCheckoutErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &PartialCheckoutError{
		Committed:    []ComposedOrder{{OrderID: 1, ShopID: 10, Total: decimal.RequireFromString("5.00")}},
		FailedShopID: 20,
		Err:          cause,
	}

	if !errors.Is(err, ErrPersistence) {
		t.Fatal("expected ErrPersistence in chain")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected original cause in chain")
	}
	if IsValidationError(err) {
		t.Fatal("partial checkout must not be treated as validation error")
	}
}
