package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher включает отправку в DLQ сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithRegisterer регистрирует метрики воркера. Без него метрики никуда не экспортируются.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(w *Worker) { w.registerer = registerer }
}

// WithPollInterval задаёт паузу между проходами.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт число сообщений за один проход.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(delay, 0) }
}

// Batch: итог одного прохода по outbox.
type Batch struct {
	Pulled       int
	Sent         int
	DeadLettered int
	Failed       int
}

// Worker переносит события order.created из outbox в брокер.
type Worker struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	dlq        domain.OutboxPublisher
	logger     *log.Entry
	registerer prometheus.Registerer
	now        func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration

	attempts      *prometheus.CounterVec
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
}

// NewWorker создаёт воркер поверх outbox-репозитория и основного паблишера.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}

	factory := promauto.With(w.registerer)
	w.attempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result.",
	}, []string{"result"})
	w.pending = factory.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_outbox_pending_records",
		Help: "Outbox records waiting for publication.",
	})
	w.oldestPending = factory.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
	return w
}

// Run обрабатывает outbox сразу и затем раз в pollInterval, пока ctx не отменён.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: repository or publisher is missing")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает до batchSize pending-сообщений и публикует их по порядку.
func (w *Worker) ProcessOnce(ctx context.Context) Batch {
	var batch Batch
	if ctx.Err() != nil {
		return batch
	}

	w.observeBacklog(ctx)
	messages, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return batch
	}
	batch.Pulled = len(messages)

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		w.handle(ctx, msg, &batch)
	}

	if batch.Pulled > 0 {
		w.observeBacklog(ctx)
	}
	return batch
}

func (w *Worker) handle(ctx context.Context, msg domain.OutboxMessage, batch *Batch) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"order_id":   msg.AggregateID,
	})

	publishErr := w.publish(ctx, msg)
	if publishErr == nil {
		batch.Sent++
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("mark outbox message sent")
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	entry.WithError(publishErr).Error("outbox message exhausted publish attempts")
	w.attempts.WithLabelValues("failed").Inc()
	batch.Failed++

	if err := w.deadLetter(ctx, msg, publishErr); err != nil {
		entry.WithError(err).Warn("dead letter not published")
		w.attempts.WithLabelValues("dlq_failed").Inc()
	} else if w.dlq != nil {
		batch.DeadLettered++
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("mark outbox message failed")
	}
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, retryBackoff(w.retryBaseDelay, attempt-1)); err != nil {
				return err
			}
		}

		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil {
			w.attempts.WithLabelValues("sent").Inc()
			return nil
		}
		w.attempts.WithLabelValues("retry_error").Inc()
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	wrapped, err := NewDeadLetter(msg, cause, w.now()).Wrap()
	if err != nil {
		return err
	}
	if err := w.dlq.Publish(ctx, wrapped); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", msg.ID, err)
	}
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("read outbox backlog")
		return
	}

	w.pending.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0)
	}
	w.oldestPending.Set(age)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBackoff возвращает base * 2^(attempt-1), не переполняя Duration.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	const ceiling = time.Duration(1<<63 - 1)
	delay := base
	for range attempt - 1 {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}
