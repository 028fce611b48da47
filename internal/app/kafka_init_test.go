package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestKafkaBrokers(t *testing.T) {
	tests := map[string][]string{
		"":                              nil,
		" , ":                           nil,
		"kafka:9092":                    {"kafka:9092"},
		" broker1:9092, ,broker2:9092 ": {"broker1:9092", "broker2:9092"},
		"a:9092,b:9092,\tc:9092":        {"a:9092", "b:9092", "c:9092"},
	}
	for raw, want := range tests {
		got := kafkaBrokers(raw)
		if len(want) == 0 {
			assert.Empty(t, got, "%q", raw)
			continue
		}
		assert.Equal(t, want, got, "%q", raw)
	}
}

func TestDialKafka(t *testing.T) {
	logger := log.WithField("test", t.Name())

	t.Run("not configured", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.KafkaBrokers = " , "

		producer, err := dialKafka(cfg, logger)
		assert.NoError(t, err)
		assert.Nil(t, producer)
	})

	t.Run("unreachable brokers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.KafkaBrokers = "127.0.0.1:1, 127.0.0.1:2"

		producer, err := dialKafka(cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, producer)
	})

	closeKafka(nil, logger)
}
