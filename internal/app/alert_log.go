package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"
)

// AlertLog is a notifier that appends every alert to the store as history.
type AlertLog struct {
	logger    *zap.Logger
	store     store.Store
	clock     Clock
	retention time.Duration // zero keeps history forever
	metrics   *metrics.Metrics
	timeout   time.Duration
}

var _ notifier.Notifier = (*AlertLog)(nil)

// NewAlertLog creates the history writer. retentionDays of 0 disables pruning.
func NewAlertLog(logger *zap.Logger, st store.Store, clock Clock, retentionDays int, m *metrics.Metrics) *AlertLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	var retention time.Duration
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return &AlertLog{
		logger:    logger,
		store:     st,
		clock:     clock,
		retention: retention,
		metrics:   m,
		timeout:   5 * time.Second,
	}
}

// SendWhaleAlert stores the alert payload. Failures are logged only.
func (l *AlertLog) SendWhaleAlert(alert notifier.WhaleAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.Append(ctx, alert); err != nil {
		if l.metrics != nil {
			l.metrics.PersistErrors.WithLabelValues("alert").Inc()
		}
		l.logger.Warn("failed to record alert history",
			zap.String("platform", alert.Platform),
			zap.String("trade", alert.TradeID),
			zap.Error(err),
		)
	}
}

// Append writes one alert under a time-ordered key.
func (l *AlertLog) Append(ctx context.Context, alert notifier.WhaleAlert) error {
	data, err := json.Marshal(notifier.BuildPayload(alert, false))
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	now := l.clock.Now()
	key := fmt.Sprintf("%s%d:%s", store.PrefixAlert, now.UnixNano(), uuid.NewString())
	return l.store.Put(ctx, store.Record{Key: key, Data: data, UpdatedAt: now})
}

// Prune deletes history older than the retention period.
func (l *AlertLog) Prune(ctx context.Context) (int64, error) {
	if l.retention <= 0 {
		return 0, nil
	}
	n, err := l.store.DeleteOlderThan(ctx, store.PrefixAlert, l.clock.Now().Add(-l.retention))
	if l.metrics != nil {
		l.metrics.PruneRemoved.WithLabelValues("alerts").Add(float64(n))
	}
	return n, err
}

func (l *AlertLog) Close() error {
	return nil
}
