package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"
)

// Scenario describes how a trade relates to the actor's last trade on the
// same position.
type Scenario string

const (
	ScenarioNewEntry      Scenario = "NEW_ENTRY"
	ScenarioReEntry       Scenario = "RE_ENTRY"
	ScenarioReversal      Scenario = "REVERSAL"
	ScenarioExitAndReturn Scenario = "EXIT_AND_RETURN"
)

// PositionMemoryRecord is the most recent interaction of an actor with a position.
type PositionMemoryRecord struct {
	ActorID      string    `json:"actor_id"`
	PositionID   string    `json:"position_id"`
	LastSide     Side      `json:"last_side"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	MarketLabel  string    `json:"market_label,omitempty"`
	OutcomeLabel string    `json:"outcome_label,omitempty"`
}

// ReturnClassification is the result of ClassifyReturn. Previous is set
// whenever a live record was found.
type ReturnClassification struct {
	Scenario Scenario
	Previous *PositionMemoryRecord
}

// Notifier converts the classification to the alert payload shape.
func (c ReturnClassification) Notifier() *notifier.WhaleReturn {
	r := &notifier.WhaleReturn{Scenario: string(c.Scenario)}
	if c.Previous != nil {
		r.PreviousSide = string(c.Previous.LastSide)
		r.PreviousSeenAt = c.Previous.LastSeenAt
	}
	return r
}

// WhaleReturnClassifier remembers the last side each actor took on each
// position. Only the newest interaction is kept per pair.
type WhaleReturnClassifier struct {
	logger  *zap.Logger
	store   store.Store
	clock   Clock
	horizon time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	records map[string]PositionMemoryRecord
}

// NewWhaleReturnClassifier creates a classifier with the given memory horizon.
func NewWhaleReturnClassifier(logger *zap.Logger, st store.Store, clock Clock, horizon time.Duration, m *metrics.Metrics) *WhaleReturnClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if horizon <= 0 {
		horizon = 12 * time.Hour
	}
	return &WhaleReturnClassifier{
		logger:  logger,
		store:   st,
		clock:   clock,
		horizon: horizon,
		metrics: m,
		records: make(map[string]PositionMemoryRecord),
	}
}

// ClassifyReturn compares side against the stored record for the pair. The
// bool is false when the actor is unknown, in which case no lookup happens.
func (c *WhaleReturnClassifier) ClassifyReturn(ctx context.Context, actor, position string, side Side) (ReturnClassification, bool) {
	if actor == "" {
		return ReturnClassification{}, false
	}

	prev, ok := c.lookup(ctx, positionKey(actor, position))
	if !ok || c.clock.Now().Sub(prev.LastSeenAt) > c.horizon {
		return ReturnClassification{Scenario: ScenarioNewEntry}, true
	}

	scenario := ScenarioReEntry
	switch {
	case prev.LastSide == SideSell && side == SideBuy:
		scenario = ScenarioExitAndReturn
	case prev.LastSide == SideBuy && side == SideSell:
		scenario = ScenarioReversal
	}

	return ReturnClassification{Scenario: scenario, Previous: &prev}, true
}

// Record overwrites the pair's record and writes it through to the store.
func (c *WhaleReturnClassifier) Record(ctx context.Context, rec PositionMemoryRecord) {
	if rec.ActorID == "" {
		return
	}
	key := positionKey(rec.ActorID, rec.PositionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[key] = rec
	c.updateGauge()

	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("failed to encode position memory", zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, store.Record{Key: key, Data: data, UpdatedAt: rec.LastSeenAt}); err != nil {
		if c.metrics != nil {
			c.metrics.PersistErrors.WithLabelValues("position").Inc()
		}
		c.logger.Warn("failed to persist position memory",
			zap.String("actor", shortID(rec.ActorID)),
			zap.String("position", shortID(rec.PositionID)),
			zap.Error(err),
		)
	}
}

// Prune forgets records older than the horizon.
func (c *WhaleReturnClassifier) Prune(ctx context.Context) (int, error) {
	cutoff := c.clock.Now().Add(-c.horizon)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, rec := range c.records {
		if rec.LastSeenAt.Before(cutoff) {
			delete(c.records, key)
			removed++
		}
	}
	c.updateGauge()

	deleted, err := c.store.DeleteOlderThan(ctx, store.PrefixPosition, cutoff)
	if c.metrics != nil {
		c.metrics.PruneRemoved.WithLabelValues("position_records").Add(float64(deleted))
	}
	return removed, err
}

// Size returns the number of records held in memory.
func (c *WhaleReturnClassifier) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *WhaleReturnClassifier) lookup(ctx context.Context, key string) (PositionMemoryRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.records[key]; ok {
		return rec, true
	}

	stored, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("failed to load position memory", zap.String("key", key), zap.Error(err))
		return PositionMemoryRecord{}, false
	}
	if !ok {
		return PositionMemoryRecord{}, false
	}

	var rec PositionMemoryRecord
	if err := json.Unmarshal(stored.Data, &rec); err != nil {
		c.logger.Warn("discarding unreadable position memory", zap.String("key", key), zap.Error(err))
		return PositionMemoryRecord{}, false
	}
	c.records[key] = rec
	c.updateGauge()
	return rec, true
}

func (c *WhaleReturnClassifier) updateGauge() {
	if c.metrics != nil {
		c.metrics.PositionRecords.Set(float64(len(c.records)))
	}
}

func positionKey(actor, position string) string {
	return store.PrefixPosition + actor + ":" + position
}
