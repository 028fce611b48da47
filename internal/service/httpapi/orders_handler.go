package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GetOrder: GET /api/orders/{orderID}. Заказ другого покупателя не раскрывается.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		respondDetail(w, http.StatusBadRequest, "Identificador de pedido inválido")
		return
	}

	order, err := h.ledger.Get(r.Context(), orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		respondDetail(w, http.StatusNotFound, "Pedido no encontrado")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("order_id", orderID).Error("failed to load order")
		respondDetail(w, http.StatusInternalServerError, internalErrorDetail)
		return
	}

	if order.CustomerID != nil {
		customer := CustomerFromContext(r.Context())
		if customer == nil || customer.ID != *order.CustomerID {
			respondDetail(w, http.StatusNotFound, "Pedido no encontrado")
			return
		}
	}

	var events []domain.TimelineEvent
	if h.timeline != nil {
		events, err = h.timeline.List(r.Context(), order.ID)
		if err != nil {
			h.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order timeline")
			events = nil
		}
	}

	respondJSON(w, http.StatusOK, toOrderResponse(order, events))
}

// ListOrders: GET /api/orders для текущего покупателя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customer := CustomerFromContext(r.Context())
	if customer == nil {
		respondDetail(w, http.StatusUnauthorized, "Autenticación requerida")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondDetail(w, http.StatusBadRequest, "Parámetro limit inválido")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	orders, err := h.ledger.ListByCustomer(r.Context(), customer.ID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", customer.ID).Error("failed to list orders")
		respondDetail(w, http.StatusInternalServerError, internalErrorDetail)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order, nil))
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": resp})
}
