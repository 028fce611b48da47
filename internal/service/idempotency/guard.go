package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// DefaultTTL: время жизни записи Idempotency-Key.
const DefaultTTL = domain.DefaultIdempotencyTTL

// storeTimeout ограничивает запись итога, отвязанную от контекста запроса.
const storeTimeout = 5 * time.Second

var panicResponseBody = []byte(`{"detail":"Error interno al procesar el pedido"}`)

// ErrRequestInProgress: запрос с тем же ключом ещё обрабатывается.
var ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")

// Response: HTTP-ответ, который сохраняется и воспроизводится по ключу.
type Response struct {
	Status int
	Body   []byte
	// Replayed выставляется, если ответ взят из сохранённой записи.
	Replayed bool
}

// Guard выполняет обработчик не более одного раза на Idempotency-Key.
type Guard struct {
	repo   domain.IdempotencyRepository
	logger *log.Entry
	ttl    time.Duration
	now    func() time.Time
}

// NewGuard создаёт Guard поверх репозитория. ttl <= 0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, logger *log.Entry, ttl time.Duration) *Guard {
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		repo:   repo,
		logger: logger,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Do резервирует ключ и вызывает handler. Повтор с тем же телом возвращает сохранённый ответ,
// повтор с другим телом возвращает ErrIdempotencyHashMismatch.
func (g *Guard) Do(ctx context.Context, key, requestHash string, handler func(context.Context) Response) (Response, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{}, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			g.store(ctx, key, Response{Status: http.StatusInternalServerError, Body: panicResponseBody})
			panic(recovered)
		}
	}()

	resp := handler(ctx)
	g.store(ctx, key, resp)
	return resp, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			return Response{Status: status, Body: record.ResponseBody, Replayed: true}, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, ErrRequestInProgress
		default:
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// store пишет итог вне отмены контекста запроса, со своим таймаутом.
func (g *Guard) store(ctx context.Context, key string, resp Response) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	var err error
	if resp.Status >= http.StatusBadRequest {
		err = g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	} else {
		err = g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

// RequestHash строит sha256 от "<operation>:<body>".
func RequestHash(operation string, body []byte) string {
	payload := make([]byte, 0, len(operation)+1+len(body))
	payload = append(payload, operation...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
