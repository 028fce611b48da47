package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// Composer превращает корзину в заказы по магазинам.
//
// Вся валидация (пустая корзина, количество, существование товаров, остатки) выполняется
// до первой записи. Каждая группа магазина фиксируется отдельной транзакцией ledger;
// уже зафиксированные группы при сбое следующей не откатываются. Остатки только читаются.
type Composer struct {
	catalog    domain.CatalogRepository
	ledger     domain.OrderLedger
	redirector domain.PaymentRedirector
	timeline   domain.TimelineRepository
	metrics    *metrics.CheckoutMetrics
	logger     *log.Entry
	now        func() time.Time
}

// NewComposer создаёт Composer.
func NewComposer(
	catalog domain.CatalogRepository,
	ledger domain.OrderLedger,
	redirector domain.PaymentRedirector,
	opts ...Option,
) *Composer {
	c := &Composer{
		catalog:    catalog,
		ledger:     ledger,
		redirector: redirector,
		logger:     log.WithField("component", "checkout-composer"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose валидирует корзину и создаёт по одному заказу на магазин.
// customer == nil означает анонимный checkout.
func (c *Composer) Compose(ctx context.Context, cart []domain.CartLine, customer *domain.CustomerRef) ([]domain.ComposedOrder, error) {
	started := c.now()
	c.metrics.CheckoutStarted()

	composed, err := c.compose(ctx, cart, customer)
	c.metrics.CheckoutFinished(resultLabel(err), c.now().Sub(started))
	return composed, err
}

func (c *Composer) compose(ctx context.Context, cart []domain.CartLine, customer *domain.CustomerRef) ([]domain.ComposedOrder, error) {
	groups, err := c.plan(ctx, cart)
	if err != nil {
		if domain.IsValidationError(err) {
			c.metrics.RecordValidationFailure(validationReason(err))
		}
		return nil, err
	}

	shops, err := c.catalog.ShopsByID(ctx, groups.shopIDs())
	if err != nil {
		return nil, fmt.Errorf("%w: load shops: %w", domain.ErrPersistence, err)
	}
	for _, id := range groups.shopIDs() {
		if _, ok := shops[id]; !ok {
			return nil, fmt.Errorf("%w: %w: %d", domain.ErrPersistence, domain.ErrShopNotFound, id)
		}
	}

	var customerID *int64
	if customer != nil {
		id := customer.ID
		customerID = &id
	}

	result := make([]domain.ComposedOrder, 0, len(groups.order))
	for i, group := range groups.order {
		order, err := c.commitGroup(ctx, group, customerID)
		if err != nil {
			skipped := make([]int64, 0, len(groups.order)-i-1)
			for _, rest := range groups.order[i+1:] {
				skipped = append(skipped, rest.shopID)
			}
			c.logger.WithError(err).WithFields(log.Fields{
				"shop_id":          group.shopID,
				"committed_orders": len(result),
				"skipped_shops":    skipped,
			}).Error("shop group commit failed")

			if len(result) > 0 {
				return result, &domain.PartialCheckoutError{
					Committed:      result,
					FailedShopID:   group.shopID,
					SkippedShopIDs: skipped,
					Err:            err,
				}
			}
			return nil, fmt.Errorf("%w: shop %d: %w", domain.ErrPersistence, group.shopID, err)
		}

		c.metrics.RecordOutboxEvent()
		c.recordCreated(ctx, order)

		result = append(result, domain.ComposedOrder{
			OrderID:    order.ID,
			ShopID:     order.ShopID,
			ShopName:   shops[order.ShopID].Name,
			Total:      order.Total,
			PaymentURL: c.redirector.RedirectURL(order.ID, order.Total),
		})
	}

	c.metrics.RecordOrdersCreated(len(result))
	c.logger.WithFields(log.Fields{
		"orders":    len(result),
		"anonymous": customer == nil,
	}).Info("checkout composed")
	return result, nil
}

// plan выполняет всю валидацию и группирует строки корзины по магазинам.
func (c *Composer) plan(ctx context.Context, cart []domain.CartLine) (*shopGroups, error) {
	if len(cart) == 0 {
		return nil, domain.ErrEmptyCart
	}

	ids := make([]int64, 0, len(cart))
	requested := make(map[int64]int64, len(cart))
	for i, line := range cart {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("line %d: %w", i+1, domain.ErrInvalidQuantity)
		}
		if _, seen := requested[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		requested[line.ProductID] += int64(line.Quantity)
	}

	products, err := c.catalog.ProductsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load products: %w", domain.ErrPersistence, err)
	}

	for _, id := range ids {
		product, ok := products[id]
		if !ok || !product.Active {
			return nil, &domain.ProductNotFoundError{ProductID: id}
		}
	}
	for _, id := range ids {
		product := products[id]
		if product.Stock < requested[id] {
			return nil, &domain.InsufficientStockError{
				ProductID: id,
				Name:      product.Name,
				Available: product.Stock,
				Requested: requested[id],
			}
		}
	}

	groups := newShopGroups()
	for _, line := range cart {
		groups.add(pricedLine{product: products[line.ProductID], quantity: line.Quantity})
	}
	return groups, nil
}

// commitGroup создаёт заказ группы в одной транзакции ledger.
func (c *Composer) commitGroup(ctx context.Context, group *shopGroup, customerID *int64) (domain.Order, error) {
	var committed domain.Order

	err := c.ledger.WithinShopTx(ctx, func(tx domain.LedgerTx) error {
		order, err := tx.CreateOrder(ctx, domain.Order{
			ShopID:           group.shopID,
			CustomerID:       customerID,
			Total:            decimal.Zero,
			Status:           domain.OrderStatusPending,
			PaymentConfirmed: false,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		total := decimal.Zero
		for _, line := range group.lines {
			item, err := tx.CreateOrderItem(ctx, domain.OrderItem{
				OrderID:   order.ID,
				ProductID: line.product.ID,
				Price:     line.product.Price,
				Quantity:  line.quantity,
			})
			if err != nil {
				return fmt.Errorf("create order item for product %d: %w", line.product.ID, err)
			}
			order.Items = append(order.Items, item)
			total = total.Add(item.Subtotal())
		}

		if err := tx.UpdateOrderTotal(ctx, order.ID, total); err != nil {
			return fmt.Errorf("update order total: %w", err)
		}
		order.Total = total

		msg, err := domain.NewOrderCreatedMessage(order)
		if err != nil {
			return err
		}
		if _, err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order.created: %w", err)
		}

		committed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return committed, nil
}

// recordCreated пишет начальный статус в историю заказа. Ошибка не влияет на результат checkout.
func (c *Composer) recordCreated(ctx context.Context, order domain.Order) {
	if c.timeline == nil {
		return
	}

	event := domain.OrderPlacedEvent(order, c.now())
	if err := c.timeline.Append(ctx, event); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		return
	}
	c.metrics.RecordTimelineEvent()
}

func resultLabel(err error) string {
	var partial *domain.PartialCheckoutError
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.As(err, &partial):
		return metrics.ResultPartialFailure
	case domain.IsValidationError(err):
		return metrics.ResultValidationError
	default:
		return metrics.ResultPersistenceError
	}
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "unknown"
	}
}
