package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// cartLineRequest: строка корзины. product_id и quantity принимаются как синонимы product и qty.
type cartLineRequest struct {
	Product   *int64          `json:"product"`
	ProductID *int64          `json:"product_id"`
	Qty       *int32          `json:"qty"`
	Quantity  *int32          `json:"quantity"`
	Price     json.RawMessage `json:"price,omitempty"`
	Name      string          `json:"name,omitempty"`
}

type checkoutRequest struct {
	Items []cartLineRequest `json:"items"`
	Cart  []cartLineRequest `json:"cart"`
}

var errMalformedCart = errors.New("malformed cart")

// decodeCart принимает {"items":[...]}, {"cart":[...]} или голый массив строк.
func decodeCart(body []byte) ([]domain.CartLine, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", errMalformedCart)
	}

	var lines []cartLineRequest
	if body[0] == '[' {
		if err := json.Unmarshal(body, &lines); err != nil {
			return nil, fmt.Errorf("%w: %w", errMalformedCart, err)
		}
	} else {
		var req checkoutRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("%w: %w", errMalformedCart, err)
		}
		lines = req.Items
		if len(lines) == 0 {
			lines = req.Cart
		}
	}

	cart := make([]domain.CartLine, 0, len(lines))
	for i, line := range lines {
		productID := line.Product
		if productID == nil {
			productID = line.ProductID
		}
		if productID == nil {
			return nil, fmt.Errorf("%w: line %d: product is required", errMalformedCart, i+1)
		}

		quantity := line.Qty
		if quantity == nil {
			quantity = line.Quantity
		}
		cartLine := domain.CartLine{ProductID: *productID}
		if quantity != nil {
			cartLine.Quantity = *quantity
		}
		cartLine.ClientPrice = parseClientPrice(line.Price)
		cart = append(cart, cartLine)
	}
	return cart, nil
}

// parseClientPrice читает цену клиента, если она корректна. Цена клиента не участвует в расчёте.
func parseClientPrice(raw json.RawMessage) *decimal.Decimal {
	if len(raw) == 0 {
		return nil
	}
	var price decimal.Decimal
	if err := price.UnmarshalJSON(raw); err != nil {
		return nil
	}
	return &price
}

type composedOrderResponse struct {
	OrderID    int64  `json:"order_id"`
	ShopID     int64  `json:"shop_id"`
	ShopName   string `json:"shop_name"`
	Total      string `json:"total"`
	PaymentURL string `json:"payment_url"`
}

type composedOrdersResponse struct {
	Orders []composedOrderResponse `json:"orders"`
}

type partialFailureResponse struct {
	Detail         string                  `json:"detail"`
	Orders         []composedOrderResponse `json:"orders"`
	FailedShopID   int64                   `json:"failed_shop_id"`
	SkippedShopIDs []int64                 `json:"skipped_shop_ids"`
}

func toComposedResponses(orders []domain.ComposedOrder) []composedOrderResponse {
	result := make([]composedOrderResponse, 0, len(orders))
	for _, o := range orders {
		result = append(result, composedOrderResponse{
			OrderID:    o.OrderID,
			ShopID:     o.ShopID,
			ShopName:   o.ShopName,
			Total:      domain.MoneyString(o.Total),
			PaymentURL: o.PaymentURL,
		})
	}
	return result
}

// checkoutPayload возвращает один объект для одного магазина и {"orders": [...]} для нескольких.
func checkoutPayload(orders []domain.ComposedOrder) any {
	responses := toComposedResponses(orders)
	if len(responses) == 1 {
		return responses[0]
	}
	return composedOrdersResponse{Orders: responses}
}

type orderItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Price     string `json:"price"`
	Quantity  int32  `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type timelineEventResponse struct {
	From domain.OrderStatus `json:"from,omitempty"`
	To   domain.OrderStatus `json:"to"`
	Note string             `json:"note,omitempty"`
	At   time.Time          `json:"at"`
}

type orderResponse struct {
	ID               int64                   `json:"id"`
	ShopID           int64                   `json:"shop_id"`
	CustomerID       *int64                  `json:"customer_id"`
	Total            string                  `json:"total"`
	Status           domain.OrderStatus      `json:"status"`
	PaymentConfirmed bool                    `json:"payment_confirmed"`
	CreatedAt        time.Time               `json:"created_at"`
	Items            []orderItemResponse     `json:"items"`
	Timeline         []timelineEventResponse `json:"timeline,omitempty"`
}

func toOrderResponse(order domain.Order, events []domain.TimelineEvent) orderResponse {
	resp := orderResponse{
		ID:               order.ID,
		ShopID:           order.ShopID,
		CustomerID:       order.CustomerID,
		Total:            domain.MoneyString(order.Total),
		Status:           order.Status,
		PaymentConfirmed: order.PaymentConfirmed,
		CreatedAt:        order.CreatedAt,
		Items:            make([]orderItemResponse, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Price:     domain.MoneyString(item.Price),
			Quantity:  item.Quantity,
			Subtotal:  domain.MoneyString(item.Subtotal()),
		})
	}
	for _, event := range events {
		resp.Timeline = append(resp.Timeline, timelineEventResponse{
			From: event.From,
			To:   event.To,
			Note: event.Note,
			At:   event.At,
		})
	}
	return resp
}
