package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart: в корзине нет ни одной строки.
	ErrEmptyCart = errors.New("Cart vacío")
	// ErrInvalidQuantity: количество в строке корзины меньше единицы.
	ErrInvalidQuantity = errors.New("Cantidad inválida")
	// ErrProductNotFound: товар отсутствует в каталоге. Детали в ProductNotFoundError.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: остатка не хватает. Детали в InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPersistence: сбой хранилища при фиксации группы магазина.
	ErrPersistence = errors.New("order persistence failed")
	// ErrShopNotFound: товар ссылается на магазин, которого нет в каталоге.
	ErrShopNotFound = errors.New("shop not found")

	// Ошибка отсутствующего магазина у заказа.
	ErrShopRequired = errors.New("shop_id is required")
	// Ошибка неизвестного статуса заказа.
	ErrOrderStatusInvalid = errors.New("order status is invalid")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order total must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ProductNotFoundError сообщает, какой именно товар не найден.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Producto %d no encontrado", e.ProductID)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrProductNotFound).
func (e *ProductNotFoundError) Unwrap() error {
	return ErrProductNotFound
}

// InsufficientStockError описывает нехватку остатка по товару.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Stock insuficiente para %s", e.Name)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// PartialCheckoutError возвращается, когда часть групп уже зафиксирована,
// а фиксация группы FailedShopID не удалась. Зафиксированные заказы не откатываются.
// SkippedShopIDs перечисляет магазины после FailedShopID, до которых checkout не дошёл.
type PartialCheckoutError struct {
	Committed      []ComposedOrder
	FailedShopID   int64
	SkippedShopIDs []int64
	Err            error
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("checkout partially committed: %d order(s) created, shop %d failed, %d skipped: %v",
		len(e.Committed), e.FailedShopID, len(e.SkippedShopIDs), e.Err)
}

func (e *PartialCheckoutError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// IsValidationError сообщает, относится ли ошибка к валидации корзины (до любых записей).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInsufficientStock)
}
