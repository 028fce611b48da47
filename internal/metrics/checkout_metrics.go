package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты checkout для метки result.
const (
	ResultSuccess          = "success"
	ResultValidationError  = "validation_error"
	ResultPartialFailure   = "partial_failure"
	ResultPersistenceError = "persistence_error"
)

// CheckoutMetrics содержит метрики композиции заказов. Nil-указатель допустим и ничего не пишет.
type CheckoutMetrics struct {
	// Счётчики
	checkouts          *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	ordersCreated      prometheus.Counter
	timelineEvents     prometheus.Counter
	outboxEvents       prometheus.Counter

	// Гистограммы
	checkoutDuration prometheus.Histogram
	shopGroups       prometheus.Histogram

	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_checkout_total",
			Help: "Total number of checkout requests by result",
		}, []string{"result"}),
		validationFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_checkout_validation_failures_total",
			Help: "Total number of carts rejected during validation by reason",
		}, []string{"reason"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "Total number of shop orders committed by checkout",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_outbox_events_enqueued_total",
			Help: "Total number of outbox events enqueued by checkout",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_checkout_duration_seconds",
			Help:    "Duration of checkout composition in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		shopGroups: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_checkout_shop_groups",
			Help:    "Number of shop groups per successful checkout",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_active_checkouts",
			Help: "Number of checkouts currently in progress",
		}),
	}
}

// CheckoutStarted отмечает начало checkout.
func (m *CheckoutMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.activeCheckouts.Inc()
}

// CheckoutFinished фиксирует результат и длительность checkout.
func (m *CheckoutMetrics) CheckoutFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeCheckouts.Dec()
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordValidationFailure увеличивает счётчик отклонённых корзин.
func (m *CheckoutMetrics) RecordValidationFailure(reason string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(reason).Inc()
}

// RecordOrdersCreated учитывает созданные заказы и число групп магазинов.
func (m *CheckoutMetrics) RecordOrdersCreated(count int) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(float64(count))
	m.shopGroups.Observe(float64(count))
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
