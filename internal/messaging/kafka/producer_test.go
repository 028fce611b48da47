package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestProducer_SendWritesKeyValueAndHeaders(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)
	producer.now = func() time.Time { return sent }

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicOrderEvents, msg.Topic)
		assert.Equal(t, sent, msg.Timestamp)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "42", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"order_id":42}`, string(value))

		assert.Equal(t, map[string]string{HeaderEventType: "order.created", HeaderOutboxID: "ob-1"}, headerMap(msg))
		return nil
	})

	_, err := producer.Send(context.Background(), Record{
		Topic:   TopicOrderEvents,
		Key:     "42",
		Value:   []byte(`{"order_id":42}`),
		Headers: map[string]string{HeaderEventType: "order.created", HeaderOutboxID: "ob-1"},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestProducer_SendFailures(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	_, err := producer.Send(context.Background(), Record{Topic: TopicDeadLetterQueue, Key: "1"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Contains(t, err.Error(), TopicDeadLetterQueue)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = producer.Send(cancelled, Record{Topic: TopicOrderEvents})
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, producer.Close())
}

func TestProducer_NilSafe(t *testing.T) {
	var producer *Producer

	_, err := producer.Send(context.Background(), Record{Topic: TopicOrderEvents})
	assert.ErrorIs(t, err, errProducerClosed)
	assert.NoError(t, producer.Close())
}

func TestProducerConfig(t *testing.T) {
	cfg := producerConfig("checkout-service")

	assert.Equal(t, "checkout-service", cfg.ClientID)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Idempotent)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, sarama.NewConfig().ClientID, producerConfig("").ClientID)
}
