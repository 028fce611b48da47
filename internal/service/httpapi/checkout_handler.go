package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

const (
	// IdempotencyKeyHeader: заголовок ключа идемпотентности checkout.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется, когда ответ взят из сохранённой записи.
	IdempotentReplayHeader = "Idempotent-Replayed"

	checkoutOperation = "POST /api/checkout"
)

// Checkout: POST /api/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "No se pudo leer el cuerpo de la solicitud")
		return
	}

	customer := CustomerFromContext(r.Context())
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" || h.guard == nil {
		status, payload := h.checkout(r.Context(), body, customer)
		respondJSON(w, status, payload)
		return
	}

	resp, err := h.guard.Do(r.Context(), key, idempotency.RequestHash(checkoutScope(customer), body), func(ctx context.Context) idempotency.Response {
		status, payload := h.checkout(ctx, body, customer)
		encoded, err := json.Marshal(payload)
		if err != nil {
			h.logger.WithError(err).Error("failed to encode checkout response")
			return idempotency.Response{Status: http.StatusInternalServerError, Body: []byte(`{"detail":"` + internalErrorDetail + `"}`)}
		}
		return idempotency.Response{Status: status, Body: encoded}
	})
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		respondDetail(w, http.StatusConflict, "Idempotency-Key ya fue usada con otra solicitud")
		return
	case errors.Is(err, idempotency.ErrRequestInProgress):
		respondDetail(w, http.StatusConflict, "La solicitud con esta Idempotency-Key aún se está procesando")
		return
	case err != nil:
		h.logger.WithError(err).WithField("idempotency_key", key).Error("idempotency guard failed")
		respondDetail(w, http.StatusInternalServerError, internalErrorDetail)
		return
	}

	if resp.Replayed {
		w.Header().Set(IdempotentReplayHeader, "true")
	}
	writeBody(w, resp.Status, resp.Body)
}

// checkout выполняет checkout и возвращает статус и тело ответа.
func (h *Handler) checkout(ctx context.Context, body []byte, customer *domain.CustomerRef) (int, any) {
	cart, err := decodeCart(body)
	if err != nil {
		return http.StatusBadRequest, detailResponse{Detail: "Formato de carrito inválido"}
	}

	orders, err := h.composer.Compose(ctx, cart, customer)
	if err == nil {
		return http.StatusCreated, checkoutPayload(orders)
	}

	if domain.IsValidationError(err) {
		return http.StatusBadRequest, detailResponse{Detail: validationDetail(err)}
	}

	var partial *domain.PartialCheckoutError
	if errors.As(err, &partial) {
		h.logger.WithError(partial.Err).WithFields(log.Fields{
			"failed_shop_id":   partial.FailedShopID,
			"committed_orders": len(partial.Committed),
			"skipped_shop_ids": partial.SkippedShopIDs,
		}).Error("checkout partially committed")
		skipped := partial.SkippedShopIDs
		if skipped == nil {
			skipped = []int64{}
		}
		return http.StatusInternalServerError, partialFailureResponse{
			Detail:         internalErrorDetail,
			Orders:         toComposedResponses(partial.Committed),
			FailedShopID:   partial.FailedShopID,
			SkippedShopIDs: skipped,
		}
	}

	h.logger.WithError(err).Error("checkout failed")
	return http.StatusInternalServerError, detailResponse{Detail: internalErrorDetail}
}

// validationDetail возвращает короткое сообщение без технического контекста обёрток.
func validationDetail(err error) string {
	var notFound *domain.ProductNotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		return stock.Error()
	}
	for _, sentinel := range []error{domain.ErrEmptyCart, domain.ErrInvalidQuantity} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func checkoutScope(customer *domain.CustomerRef) string {
	if customer == nil {
		return checkoutOperation + " anonymous"
	}
	return checkoutOperation + " customer=" + strconv.FormatInt(customer.ID, 10)
}
