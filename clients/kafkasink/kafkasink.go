package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

const writeTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alert payloads to a topic, keyed by platform and wallet
// so one actor's alerts stay ordered within a partition.
// Implements notifier.Notifier interface.
type KafkaSink struct {
	logger *zap.Logger
	writer messageWriter
	topic  string
}

// NewKafkaSink returns nil when Kafka is not configured.
func NewKafkaSink(logger *zap.Logger, cfg *config.Config) *KafkaSink {
	if !cfg.Kafka.Enabled() {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info("kafka alert sink enabled",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)

	return &KafkaSink{logger: logger, writer: writer, topic: cfg.Kafka.Topic}
}

func (k *KafkaSink) SendWhaleAlert(alert notifier.WhaleAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := k.Publish(ctx, alert); err != nil {
		k.logger.Warn("kafka publish failed", zap.String("topic", k.topic), zap.Error(err))
	}
}

// Publish writes one alert message.
func (k *KafkaSink) Publish(ctx context.Context, alert notifier.WhaleAlert) error {
	data, err := json.Marshal(notifier.BuildPayload(alert, false))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(messageKey(alert)),
		Value: data,
		Time:  ts,
	})
}

func messageKey(alert notifier.WhaleAlert) string {
	actor := alert.WalletID
	if actor == "" {
		actor = alert.PositionID
	}
	return strings.ToLower(alert.Platform) + ":" + actor
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
