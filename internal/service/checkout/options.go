package checkout

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// Option настраивает Composer.
type Option func(*Composer)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics подключает метрики checkout.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Composer) {
		c.metrics = m
	}
}

// WithTimeline включает запись истории статусов созданных заказов.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(c *Composer) {
		c.timeline = repo
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}
