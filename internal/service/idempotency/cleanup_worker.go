package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultMaxBatches ограничивает один проход, чтобы большой хвост не держал базу.
	defaultMaxBatches = 100
)

// ExpiredKeyPurger удаляет просроченные ключи порциями.
type ExpiredKeyPurger interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SweepResult описывает один проход очистки.
type SweepResult struct {
	Cutoff  time.Time
	Batches int
	Deleted int
	// Truncated выставляется, когда проход остановился на лимите порций.
	Truncated bool
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRegisterer регистрирует метрики очистки в переданном registry.
func WithRegisterer(registerer prometheus.Registerer) CleanupOption {
	return func(w *CleanupWorker) { w.registerer = registerer }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxBatches ограничивает число порций за один проход.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

// CleanupWorker периодически освобождает истёкшие ключи Idempotency-Key checkout.
type CleanupWorker struct {
	purger     ExpiredKeyPurger
	logger     *log.Entry
	registerer prometheus.Registerer
	now        func() time.Time
	interval   time.Duration
	batchSize  int
	maxBatches int

	sweeps      *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupWorker создаёт воркер очистки поверх репозитория ключей.
func NewCleanupWorker(purger ExpiredKeyPurger, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		purger:     purger,
		logger:     log.WithField("component", "idempotency-cleanup"),
		now:        func() time.Time { return time.Now().UTC() },
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
	}
	for _, opt := range opts {
		opt(w)
	}

	factory := promauto.With(w.registerer)
	w.sweeps = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup sweeps by result.",
	}, []string{"result"})
	w.deleted = factory.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency keys deleted.",
	})
	w.lastDeleted = factory.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_idempotency_cleanup_last_deleted",
		Help: "Keys deleted by the last sweep.",
	})
	return w
}

// Run делает проход сразу и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.purger == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweepAndReport(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweepAndReport(ctx context.Context) {
	result, err := w.Sweep(ctx, time.Time{})
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.sweeps.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency cleanup sweep failed")
		return
	}

	w.sweeps.WithLabelValues("ok").Inc()
	w.lastDeleted.Set(float64(result.Deleted))
	entry := w.logger.WithFields(log.Fields{"deleted": result.Deleted, "batches": result.Batches})
	switch {
	case result.Truncated:
		entry.Warn("idempotency cleanup hit batch limit, rest is left for the next sweep")
	case result.Deleted > 0:
		entry.Info("idempotency cleanup completed")
	}
}

// Sweep удаляет ключи с ttl_at <= cutoff, пока порции приходят полными.
// Нулевой cutoff заменяется текущим временем.
func (w *CleanupWorker) Sweep(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	if cutoff.IsZero() {
		cutoff = w.now()
	}
	result := SweepResult{Cutoff: cutoff}

	for result.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, err := w.purger.DeleteExpired(ctx, cutoff, w.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += n
		w.deleted.Add(float64(n))
		if n < w.batchSize {
			return result, nil
		}
	}
	result.Truncated = true
	return result, nil
}
