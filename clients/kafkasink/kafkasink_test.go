package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewKafkaSink_Disabled(t *testing.T) {
	assert.Nil(t, NewKafkaSink(nil, &config.Config{}))
	assert.Nil(t, NewKafkaSink(nil, &config.Config{Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}))
}

func TestNewKafkaSink_Enabled(t *testing.T) {
	sink := NewKafkaSink(nil, &config.Config{Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "whale-alerts"}})
	require.NotNil(t, sink)

	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "whale-alerts", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}

func TestPublish(t *testing.T) {
	fw := &fakeWriter{}
	sink := &KafkaSink{logger: zap.NewNop(), writer: fw, topic: "t"}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := notifier.WhaleAlert{
		Platform:  "Polymarket",
		Side:      "BUY",
		WalletID:  "0xabc",
		Value:     decimal.NewFromInt(30000),
		Price:     decimal.RequireFromString("0.5"),
		Size:      decimal.NewFromInt(60000),
		Timestamp: ts,
	}

	require.NoError(t, sink.Publish(context.Background(), alert))
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	assert.Equal(t, "polymarket:0xabc", string(msg.Key))
	assert.True(t, msg.Time.Equal(ts))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "WHALE_ENTRY", payload["alert_type"])
	assert.Equal(t, float64(30000), payload["value"])
}

func TestMessageKey_FallsBackToPosition(t *testing.T) {
	key := messageKey(notifier.WhaleAlert{Platform: "Kalshi", PositionID: "KXBTC-T1:yes"})
	assert.Equal(t, "kalshi:KXBTC-T1:yes", key)
}

func TestSendWhaleAlert_SwallowsErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	sink := &KafkaSink{logger: zap.NewNop(), writer: fw, topic: "t"}

	sink.SendWhaleAlert(notifier.WhaleAlert{Platform: "Kalshi"})
	assert.Empty(t, fw.msgs)

	require.NoError(t, sink.Close())
	assert.True(t, fw.closed)
}
