package app

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"
)

// ActivityStats is the rolling window view of one actor.
type ActivityStats struct {
	Count1h       int
	Count24h      int
	Value1h       decimal.Decimal
	Value24h      decimal.Decimal
	IsRepeatActor bool
	IsHeavyActor  bool
}

// Notifier converts the stats to the alert payload shape.
func (s ActivityStats) Notifier() *notifier.WalletActivity {
	return &notifier.WalletActivity{
		TransactionsLastHour: s.Count1h,
		TransactionsLastDay:  s.Count24h,
		TotalValueHour:       s.Value1h.InexactFloat64(),
		TotalValueDay:        s.Value24h.InexactFloat64(),
		IsRepeatActor:        s.IsRepeatActor,
		IsHeavyActor:         s.IsHeavyActor,
	}
}

type activityEntry struct {
	At    time.Time       `json:"at"`
	Value decimal.Decimal `json:"value"`
}

// activityRecord is the persisted form of one actor's log.
type activityRecord struct {
	Actor   string          `json:"actor"`
	Entries []activityEntry `json:"entries"`
}

// WalletActivityTracker keeps a time-ordered log of qualifying trades per
// actor and answers 1h/24h window queries from it. Every update is written
// through to the store; an actor's log is loaded from the store the first
// time it is referenced.
type WalletActivityTracker struct {
	logger  *zap.Logger
	store   store.Store
	clock   Clock
	cfg     config.ActivityConfig
	metrics *metrics.Metrics

	mu     sync.Mutex
	logs   map[string][]activityEntry
	loaded map[string]struct{}
}

// NewWalletActivityTracker creates a tracker backed by st.
func NewWalletActivityTracker(logger *zap.Logger, st store.Store, clock Clock, cfg config.ActivityConfig, m *metrics.Metrics) *WalletActivityTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = time.Hour
	}
	if cfg.HeavyWindow <= 0 {
		cfg.HeavyWindow = 24 * time.Hour
	}
	if cfg.RepeatMinCount <= 0 {
		cfg.RepeatMinCount = 2
	}
	if cfg.HeavyMinCount <= 0 {
		cfg.HeavyMinCount = 5
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}

	return &WalletActivityTracker{
		logger:  logger,
		store:   st,
		clock:   clock,
		cfg:     cfg,
		metrics: m,
		logs:    make(map[string][]activityEntry),
		loaded:  make(map[string]struct{}),
	}
}

// retention is the largest tracked window.
func (t *WalletActivityTracker) retention() time.Duration {
	if t.cfg.RepeatWindow > t.cfg.HeavyWindow {
		return t.cfg.RepeatWindow
	}
	return t.cfg.HeavyWindow
}

// Record appends a trade to the actor's log and persists it. A store
// failure is logged; the in-memory log keeps the entry. While the actor's
// stored log cannot be read the entry is kept in memory only, so the
// durable record is never replaced by a partial one.
func (t *WalletActivityTracker) Record(ctx context.Context, actor string, value decimal.Decimal, at time.Time) {
	if actor == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	loaded := t.ensureLoaded(ctx, actor)

	entries := t.logs[actor]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].At.After(at) })
	entries = append(entries, activityEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = activityEntry{At: at, Value: value}

	if over := len(entries) - t.cfg.MaxEntries; over > 0 {
		entries = append([]activityEntry(nil), entries[over:]...)
	}
	t.logs[actor] = entries

	if loaded {
		t.persist(ctx, actor, entries)
	}
	t.updateGauge()
}

// Classify computes both windows from the tracker's clock. An unknown actor
// yields zero stats.
func (t *WalletActivityTracker) Classify(ctx context.Context, actor string) ActivityStats {
	stats := ActivityStats{Value1h: decimal.Zero, Value24h: decimal.Zero}
	if actor == "" {
		return stats
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensureLoaded(ctx, actor)

	now := t.clock.Now()
	repeatFrom := now.Add(-t.cfg.RepeatWindow)
	heavyFrom := now.Add(-t.cfg.HeavyWindow)

	for _, e := range t.logs[actor] {
		if e.At.After(repeatFrom) {
			stats.Count1h++
			stats.Value1h = stats.Value1h.Add(e.Value)
		}
		if e.At.After(heavyFrom) {
			stats.Count24h++
			stats.Value24h = stats.Value24h.Add(e.Value)
		}
	}

	stats.IsRepeatActor = stats.Count1h >= t.cfg.RepeatMinCount
	stats.IsHeavyActor = stats.Count24h >= t.cfg.HeavyMinCount
	return stats
}

// Prune drops entries older than the largest window. The cutoff is taken
// once at the start so entries recorded while the pass runs are kept.
// Stored logs are not rewritten here: expired entries are filtered on load
// and replaced by the actor's next Record, and records whose newest entry
// has expired are deleted outright.
func (t *WalletActivityTracker) Prune(ctx context.Context) (int, error) {
	cutoff := t.clock.Now().Add(-t.retention())

	t.mu.Lock()
	removed := 0
	for actor, entries := range t.logs {
		i := sort.Search(len(entries), func(i int) bool { return entries[i].At.After(cutoff) })
		if i == 0 {
			continue
		}
		removed += i

		if i == len(entries) {
			delete(t.logs, actor)
			delete(t.loaded, actor)
			continue
		}
		t.logs[actor] = append([]activityEntry(nil), entries[i:]...)
	}
	actors := len(t.logs)
	t.updateGauge()
	t.mu.Unlock()

	// Records are stamped with their newest entry, so anything older than
	// the cutoff has nothing left inside either window.
	deleted, err := t.store.DeleteOlderThan(ctx, store.PrefixActivity, cutoff)
	if t.metrics != nil {
		t.metrics.PruneRemoved.WithLabelValues("activity_entries").Add(float64(removed))
		t.metrics.PruneRemoved.WithLabelValues("activity_records").Add(float64(deleted))
	}
	if err != nil {
		return removed, err
	}

	t.logger.Debug("pruned activity tracker",
		zap.Int("entries", removed),
		zap.Int64("records", deleted),
		zap.Int("actors", actors),
	)
	return removed, nil
}

// Size returns the number of actors held in memory.
func (t *WalletActivityTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.logs)
}

// ensureLoaded pulls the actor's log from the store on first reference and
// reports whether the stored log is reflected in memory. A failed read is
// retried on the next reference. Caller holds t.mu.
func (t *WalletActivityTracker) ensureLoaded(ctx context.Context, actor string) bool {
	if _, ok := t.loaded[actor]; ok {
		return true
	}

	rec, ok, err := t.store.Get(ctx, activityKey(actor))
	if err != nil {
		if t.metrics != nil {
			t.metrics.PersistErrors.WithLabelValues("activity_load").Inc()
		}
		t.logger.Warn("failed to load actor activity",
			zap.String("actor", shortID(actor)),
			zap.Error(err),
		)
		return false
	}
	t.loaded[actor] = struct{}{}
	if !ok {
		return true
	}

	var stored activityRecord
	if err := json.Unmarshal(rec.Data, &stored); err != nil {
		t.logger.Warn("discarding unreadable actor activity",
			zap.String("actor", shortID(actor)),
			zap.Error(err),
		)
		return true
	}

	cutoff := t.clock.Now().Add(-t.retention())
	entries := make([]activityEntry, 0, len(stored.Entries))
	for _, e := range stored.Entries {
		if e.At.After(cutoff) {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return true
	}

	// Entries recorded while earlier reads failed are merged in.
	entries = append(entries, t.logs[actor]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	if over := len(entries) - t.cfg.MaxEntries; over > 0 {
		entries = entries[over:]
	}
	t.logs[actor] = entries
	return true
}

// persist writes the actor's log. Caller holds t.mu.
func (t *WalletActivityTracker) persist(ctx context.Context, actor string, entries []activityEntry) {
	if len(entries) == 0 {
		return
	}

	data, err := json.Marshal(activityRecord{Actor: actor, Entries: entries})
	if err != nil {
		t.logger.Warn("failed to encode actor activity", zap.Error(err))
		return
	}

	err = t.store.Put(ctx, store.Record{
		Key:       activityKey(actor),
		Data:      data,
		UpdatedAt: entries[len(entries)-1].At,
	})
	if err != nil {
		if t.metrics != nil {
			t.metrics.PersistErrors.WithLabelValues("activity").Inc()
		}
		t.logger.Warn("failed to persist actor activity",
			zap.String("actor", shortID(actor)),
			zap.Error(err),
		)
	}
}

func (t *WalletActivityTracker) updateGauge() {
	if t.metrics != nil {
		t.metrics.TrackedActors.Set(float64(len(t.logs)))
	}
}

func activityKey(actor string) string {
	return store.PrefixActivity + actor
}
