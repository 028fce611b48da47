package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

var errProducerClosed = errors.New("kafka producer is not initialized")

// Record: одно сообщение для отправки.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Delivery: координаты записанного сообщения.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Producer пишет записи в Kafka через синхронный sarama producer.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// producerConfig: идемпотентный producer с подтверждением от всех ISR.
func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, producerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return NewProducerFromSync(sync, nil), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer, например sarama/mocks.
func NewProducerFromSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger, now: time.Now}
}

// Send синхронно отправляет запись. Отменённый ctx отправку не начинает.
func (p *Producer) Send(ctx context.Context, rec Record) (Delivery, error) {
	if p == nil || p.sync == nil {
		return Delivery{}, errProducerClosed
	}
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(rec.Value),
		Timestamp: p.now(),
	}
	for name, value := range rec.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}

	fields := log.Fields{"topic": rec.Topic, "key": rec.Key}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return Delivery{}, fmt.Errorf("send to %s: %w", rec.Topic, err)
	}

	p.logger.WithFields(fields).WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record delivered")
	return Delivery{Partition: partition, Offset: offset}, nil
}

// Close закрывает соединения producer.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
