package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
)

// offsetClient: подмножество sarama.Client.
type offsetClient interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
}

// saramaConsumer сужает sarama.PartitionConsumer до partitionConsumer.
type saramaConsumer struct {
	sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

// replayer читает DLQ по партициям в порядке их номеров, пока не исчерпан limit.
type replayer struct {
	cfg       config
	offsets   offsetClient
	source    partitionSource
	publisher domain.OutboxPublisher // nil в dry-run
	logger    *log.Entry
	closers   []func() error
}

func newReplayer(cfg config, offsets offsetClient, source partitionSource, publisher domain.OutboxPublisher) *replayer {
	return &replayer{
		cfg:       cfg,
		offsets:   offsets,
		source:    source,
		publisher: publisher,
		logger: log.WithFields(log.Fields{
			"source_topic": cfg.sourceTopic,
			"target_topic": cfg.targetTopic,
			"mode":         cfg.mode(),
		}),
	}
}

// close закрывает ресурсы в обратном порядке открытия.
func (r *replayer) close() {
	for _, c := range slices.Backward(r.closers) {
		_ = c()
	}
}

func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, p := range partitions {
		budget := r.cfg.limit - total.processed
		if budget <= 0 {
			break
		}
		got, err := r.drain(ctx, p, budget)
		total.processed += got.processed
		total.replayed += got.replayed
		total.skipped += got.skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drain читает партицию до конца, снятого в момент старта, до budget сообщений
// или до паузы длиной idleTimeout.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	first, end, err := r.window(partition, budget)
	if err != nil || first >= end {
		return stats, err
	}

	pc, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, first)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// window возвращает [first, end) для чтения партиции.
func (r *replayer) window(partition int32, budget int) (first, end int64, err error) {
	first, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if r.cfg.fromNewest {
		first = max(end-int64(budget), first)
	}
	return first, end, nil
}

// handle возвращает false для сообщений, отсеянных фильтром или нечитаемых.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	event, letter, err := decodeDLQMessage(msg.Value)
	if err != nil {
		entry.WithError(err).Warn("skip unreadable dlq message")
		return false, nil
	}
	if r.cfg.eventType != "" && event.EventType != r.cfg.eventType {
		return false, nil
	}

	entry = entry.WithFields(log.Fields{
		"outbox_id":     event.ID,
		"order_id":      event.AggregateID,
		"event_type":    event.EventType,
		"publish_error": letter.PublishError,
	})
	if !r.cfg.execute {
		entry.Info("would replay")
		return true, nil
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		return false, fmt.Errorf("republish outbox %s: %w", event.ID, err)
	}
	entry.Debug("replayed")
	return true, nil
}

// decodeDLQMessage снимает kafka.Envelope и восстанавливает исходное outbox-сообщение.
// Пустые поля DeadLetter дополняются полями конверта.
func decodeDLQMessage(value []byte) (domain.OutboxMessage, outbox.DeadLetter, error) {
	var env kafka.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return domain.OutboxMessage{}, outbox.DeadLetter{}, fmt.Errorf("%w: %w", outbox.ErrNotDeadLetter, err)
	}
	if len(env.Payload) == 0 {
		return domain.OutboxMessage{}, outbox.DeadLetter{}, fmt.Errorf("%w: envelope has no payload", outbox.ErrNotDeadLetter)
	}

	letter, err := outbox.DecodeDeadLetter(env.Payload)
	if err != nil {
		return domain.OutboxMessage{}, outbox.DeadLetter{}, err
	}

	event := letter.Original()
	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = fallback
		}
	}
	fill(&event.ID, env.ID)
	fill(&event.AggregateType, env.AggregateType)
	fill(&event.AggregateID, env.AggregateID)
	fill(&event.EventType, env.EventType)
	return event, letter, nil
}
