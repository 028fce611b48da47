package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxRequestBodyBytes   = 1 << 20
)

// CheckoutComposer: то, что HTTP-слою нужно от ядра checkout.
type CheckoutComposer interface {
	Compose(ctx context.Context, cart []domain.CartLine, customer *domain.CustomerRef) ([]domain.ComposedOrder, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTimeline подключает историю заказа к GET /api/orders/{orderID}.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(h *Handler) {
		h.timeline = repo
	}
}

// WithIdempotency включает обработку заголовка Idempotency-Key для checkout.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = guard
	}
}

// WithMetrics подключает HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.requestTimeout = timeout
		}
	}
}

// Handler: HTTP-адаптер checkout и чтения заказов.
type Handler struct {
	composer       CheckoutComposer
	ledger         domain.OrderLedger
	timeline       domain.TimelineRepository
	guard          *idempotency.Guard
	metrics        *metrics.HTTPMetrics
	logger         *log.Entry
	requestTimeout time.Duration
}

// NewHandler создаёт Handler.
func NewHandler(composer CheckoutComposer, ledger domain.OrderLedger, opts ...Option) *Handler {
	h := &Handler{
		composer:       composer,
		ledger:         ledger,
		logger:         log.WithField("component", "http-api"),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes собирает chi-роутер API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)
	r.Use(h.deadline)
	r.Use(customerIdentity)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondDetail(w, http.StatusNotFound, "No encontrado")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondDetail(w, http.StatusMethodNotAllowed, "Método no permitido")
	})

	return r
}
