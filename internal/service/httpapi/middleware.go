package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// CustomerHeader передаёт идентификатор покупателя от слоя аутентификации.
const CustomerHeader = "X-Customer-ID"

type customerKey struct{}

// customerIdentity кладёт CustomerRef в контекст. Без заголовка запрос анонимный.
func customerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(CustomerHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondDetail(w, http.StatusUnauthorized, "Cliente inválido")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCustomer(r.Context(), &domain.CustomerRef{ID: id})))
	})
}

// WithCustomer возвращает контекст с покупателем.
func WithCustomer(ctx context.Context, customer *domain.CustomerRef) context.Context {
	return context.WithValue(ctx, customerKey{}, customer)
}

// CustomerFromContext возвращает покупателя или nil для анонимного запроса.
func CustomerFromContext(ctx context.Context) *domain.CustomerRef {
	customer, _ := ctx.Value(customerKey{}).(*domain.CustomerRef)
	return customer
}

// deadline ограничивает контекст запроса requestTimeout. Ответ после истечения срока
// пишет сам обработчик, отдельного 504 нет.
func (h *Handler) deadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe пишет метрики по шаблону маршрута, а не по конкретному URL.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.Observe(r.Method, route, status, time.Since(started))
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		entry := h.logger.WithFields(log.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}
