package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

// kafkaBrokers разбирает MARKETPLACE_KAFKA_BROKERS: адреса через запятую, пустые отбрасываются.
func kafkaBrokers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
}

// dialKafka возвращает nil без ошибки, если брокеры не заданы:
// заказы принимаются, события остаются pending в outbox.
func dialKafka(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := kafkaBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	entry := logger.WithFields(log.Fields{"brokers": brokers, "client_id": cfg.KafkaClientID})
	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID)
	if err != nil {
		entry.WithError(err).Warn("kafka unavailable, outbox events stay pending")
		return nil, err
	}
	entry.Info("kafka producer ready")
	return producer, nil
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("close kafka producer")
		return
	}
	logger.Debug("kafka producer closed")
}
