package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"
)

// CoordinatorConfig holds the ingestion loop settings.
type CoordinatorConfig struct {
	Threshold        decimal.Decimal // Minimum trade value to alert on
	TickInterval     time.Duration
	QuietPeriod      time.Duration // Stream silence before the poll path resumes
	PruneEveryTicks  int
	RecentIDCapacity int

	MaxOdds   float64 // Skip markets where either side is priced above this
	MinSpread float64 // Skip markets with a tighter spread; 0 disables

	MarketContext bool
	OrderBook     bool
	TopHolders    int // 0 disables
}

// CoordinatorConfigFrom maps the watch and enrichment sections of the config.
func CoordinatorConfigFrom(w config.WatchConfig, e config.EnrichmentConfig) CoordinatorConfig {
	return CoordinatorConfig{
		Threshold:        decimal.NewFromFloat(w.Threshold),
		TickInterval:     w.TickInterval,
		QuietPeriod:      w.QuietPeriod(),
		PruneEveryTicks:  w.PruneEveryTicks,
		RecentIDCapacity: w.RecentIDCapacity,
		MaxOdds:          w.MaxOdds,
		MinSpread:        w.MinSpread,
		MarketContext:    e.MarketContext,
		OrderBook:        e.OrderBook,
		TopHolders:       e.TopHolders,
	}
}

// CoordinatorDeps are the collaborators shared across feeds. Profiles,
// Alerts and Metrics are optional.
type CoordinatorDeps struct {
	Tracker  *WalletActivityTracker
	Returns  *WhaleReturnClassifier
	Profiles *ProfileCache
	Alerts   *AlertLog
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics
	Clock    Clock
}

// FeedStatus is a point in time view of one platform feed.
type FeedStatus struct {
	Platform        string    `json:"platform"`
	Cursor          string    `json:"cursor,omitempty"`
	HasStream       bool      `json:"has_stream"`
	StreamLive      bool      `json:"stream_live"`
	LastStreamEvent time.Time `json:"last_stream_event,omitempty"`
	LastPollAt      time.Time `json:"last_poll_at,omitempty"`
	RecentIDs       int       `json:"recent_ids"`
}

// CoordinatorStats are cumulative pipeline counters.
type CoordinatorStats struct {
	Ticks       int64        `json:"ticks"`
	Ingested    int64        `json:"ingested"`
	Filtered    int64        `json:"filtered"`
	Duplicates  int64        `json:"duplicates"`
	Skipped     int64        `json:"skipped"`
	Dispatched  int64        `json:"dispatched"`
	FetchErrors int64        `json:"fetch_errors"`
	ParseErrors int64        `json:"parse_errors"`
	PruneRuns   int64        `json:"prune_runs"`
	Feeds       []FeedStatus `json:"feeds"`
}

// platformFeed is the per-platform ingestion state. Everything except
// status is touched only from the tick goroutine.
type platformFeed struct {
	name      string
	source    EventSource
	stream    <-chan TradeEvent
	describer MarketDescriber
	profiles  ProfileSource
	linker    WalletLinker
	context   MarketContextSource
	book      OrderBookSource
	holders   HolderSource

	cursor          string
	recent          *recentIDs
	streamSeen      bool
	lastStreamEvent time.Time // clock reading at drain time, not the event's own timestamp
	streamLive      bool

	statusMu sync.Mutex
	status   FeedStatus
}

// Coordinator drives the fetch, dedup, filter, enrich and dispatch pipeline
// one tick at a time.
type Coordinator struct {
	logger   *zap.Logger
	cfg      CoordinatorConfig
	clock    Clock
	tracker  *WalletActivityTracker
	returns  *WhaleReturnClassifier
	profiles *ProfileCache
	alerts   *AlertLog
	notifier notifier.Notifier
	metrics  *metrics.Metrics

	feeds []*platformFeed

	ticks       atomic.Int64
	ingested    atomic.Int64
	filtered    atomic.Int64
	duplicates  atomic.Int64
	skipped     atomic.Int64
	dispatched  atomic.Int64
	fetchErrors atomic.Int64
	parseErrors atomic.Int64
	pruneRuns   atomic.Int64

	pruning atomic.Bool
	pruneWG sync.WaitGroup
}

// NewCoordinator creates a coordinator without feeds.
func NewCoordinator(logger *zap.Logger, cfg CoordinatorConfig, deps CoordinatorDeps) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewMultiNotifier()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}

	return &Coordinator{
		logger:   logger,
		cfg:      cfg,
		clock:    deps.Clock,
		tracker:  deps.Tracker,
		returns:  deps.Returns,
		profiles: deps.Profiles,
		alerts:   deps.Alerts,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
	}
}

// AddFeed registers a platform. stream may be nil for pull-only platforms.
// Optional capabilities (labels, profiles, wallet links, market data) are
// discovered from the source.
func (c *Coordinator) AddFeed(source EventSource, stream <-chan TradeEvent) {
	f := &platformFeed{
		name:   source.Platform(),
		source: source,
		stream: stream,
		recent: newRecentIDs(c.cfg.RecentIDCapacity),
	}
	if d, ok := source.(MarketDescriber); ok {
		f.describer = d
	}
	if p, ok := source.(ProfileSource); ok {
		f.profiles = p
	}
	if l, ok := source.(WalletLinker); ok {
		f.linker = l
	}
	if m, ok := source.(MarketContextSource); ok && c.cfg.MarketContext {
		f.context = m
	}
	if b, ok := source.(OrderBookSource); ok && c.cfg.OrderBook {
		f.book = b
	}
	if h, ok := source.(HolderSource); ok && c.cfg.TopHolders > 0 {
		f.holders = h
	}
	f.status = FeedStatus{Platform: f.name, HasStream: stream != nil}

	c.feeds = append(c.feeds, f)
	c.logger.Info("feed registered",
		zap.String("platform", f.name),
		zap.Bool("stream", stream != nil),
	)
}

// Run ticks until ctx is done. Ticks never overlap.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("ingestion coordinator started",
		zap.String("threshold", c.cfg.Threshold.String()),
		zap.Duration("tickInterval", c.cfg.TickInterval),
		zap.Duration("quietPeriod", c.cfg.QuietPeriod),
		zap.Int("feeds", len(c.feeds)),
	)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			c.pruneWG.Wait()
			c.logger.Info("ingestion coordinator shutting down")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick processes one batch per feed and schedules pruning every
// PruneEveryTicks ticks.
func (c *Coordinator) Tick(ctx context.Context) {
	start := time.Now()
	n := c.ticks.Add(1)

	for _, f := range c.feeds {
		if ctx.Err() != nil {
			return
		}
		c.tickFeed(ctx, f)
	}

	if c.metrics != nil {
		c.metrics.Ticks.Inc()
		c.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}

	if c.cfg.PruneEveryTicks > 0 && n%int64(c.cfg.PruneEveryTicks) == 0 {
		c.startPrune(ctx)
	}
}

func (c *Coordinator) tickFeed(ctx context.Context, f *platformFeed) {
	now := c.clock.Now()
	var batch []TradeEvent

	if f.stream != nil {
		streamed := drain(f.stream)
		if len(streamed) > 0 {
			f.streamSeen = true
			f.lastStreamEvent = now
			c.countIngested(f.name, "stream", len(streamed))
			reverseEvents(streamed)
			batch = append(batch, streamed...)
		}
		c.updateStreamLive(f, now)
	}

	var polledAt time.Time
	if f.stream == nil || !f.streamLive {
		polledAt = now
		polled, err := f.source.Poll(ctx)
		switch {
		case err == nil:
			c.countIngested(f.name, "poll", len(polled))
			batch = append(batch, polled...)
		case errors.Is(err, ErrParse):
			c.parseErrors.Add(1)
			if c.metrics != nil {
				c.metrics.ParseErrors.WithLabelValues(f.name).Inc()
			}
			c.logger.Warn("unexpected response shape, skipping batch",
				zap.String("platform", f.name),
				zap.Error(err),
			)
		case ctx.Err() != nil:
			return
		default:
			c.fetchErrors.Add(1)
			if c.metrics != nil {
				c.metrics.FetchErrors.WithLabelValues(f.name, "poll").Inc()
			}
			c.logger.Warn("failed to fetch trades",
				zap.String("platform", f.name),
				zap.Error(err),
			)
		}
	}

	c.scan(ctx, f, batch, now)

	f.statusMu.Lock()
	f.status.Cursor = f.cursor
	f.status.StreamLive = f.streamLive
	f.status.RecentIDs = f.recent.Len()
	if f.streamSeen {
		f.status.LastStreamEvent = f.lastStreamEvent
	}
	if !polledAt.IsZero() {
		f.status.LastPollAt = polledAt
	}
	f.statusMu.Unlock()
}

// updateStreamLive decides whether the poll path is needed. A stream that
// has never produced an event counts as quiet.
func (c *Coordinator) updateStreamLive(f *platformFeed, now time.Time) {
	live := f.streamSeen && now.Sub(f.lastStreamEvent) < c.cfg.QuietPeriod
	if live != f.streamLive {
		if live {
			c.logger.Info("stream live, pausing poll path", zap.String("platform", f.name))
		} else {
			c.logger.Warn("stream quiet, falling back to polling",
				zap.String("platform", f.name),
				zap.Duration("quietPeriod", c.cfg.QuietPeriod),
			)
		}
	}
	f.streamLive = live
	if c.metrics != nil {
		c.metrics.SetStreamLive(f.name, live)
	}
}

// scan walks a newest-first batch. It stops at the cursor, filters by value,
// skips ids already processed and dispatches the rest. The cursor then moves
// to the newest id whether or not anything qualified.
func (c *Coordinator) scan(ctx context.Context, f *platformFeed, batch []TradeEvent, now time.Time) {
	if len(batch) == 0 {
		return
	}
	newest := batch[0].ID

	for _, ev := range batch {
		if f.cursor != "" && ev.ID == f.cursor {
			break
		}
		if ev.Value().LessThan(c.cfg.Threshold) {
			c.filtered.Add(1)
			if c.metrics != nil {
				c.metrics.EventsFiltered.WithLabelValues(f.name).Inc()
			}
			continue
		}
		if !f.recent.Add(ev.ID) {
			c.duplicates.Add(1)
			if c.metrics != nil {
				c.metrics.EventsDuplicate.WithLabelValues(f.name).Inc()
			}
			continue
		}
		if ev.ObservedAt.IsZero() {
			ev.ObservedAt = now
		}
		c.process(ctx, f, ev)
	}

	f.cursor = newest
}

// process enriches a qualifying event, hands it to the notifier and then
// records the position memory. Trades in near-certain or dead markets are
// dropped before any actor state is touched.
func (c *Coordinator) process(ctx context.Context, f *platformFeed, ev TradeEvent) {
	if f.describer != nil {
		f.describer.Describe(ctx, &ev)
	}

	var marketCtx *notifier.MarketContext
	if f.context != nil {
		mc, err := f.context.MarketContext(ctx, ev)
		if err != nil {
			c.logger.Debug("market context unavailable",
				zap.String("platform", f.name),
				zap.String("market", ev.MarketID),
				zap.Error(err),
			)
		} else {
			marketCtx = mc
		}
	}
	if reason := SkipReason(marketCtx, c.cfg.MaxOdds, c.cfg.MinSpread); reason != "" {
		c.skipped.Add(1)
		if c.metrics != nil {
			c.metrics.EventsSkipped.WithLabelValues(f.name, reason).Inc()
		}
		c.logger.Debug("skipping trade",
			zap.String("platform", f.name),
			zap.String("trade", ev.ID),
			zap.String("reason", reason),
		)
		return
	}

	value := ev.Value()
	alert := notifier.WhaleAlert{
		Platform:    ev.Platform,
		TradeID:     ev.ID,
		Side:        string(ev.Side),
		Size:        ev.Size,
		Price:       ev.Price,
		Value:       value,
		MarketTitle: ev.MarketLabel,
		Outcome:     ev.OutcomeLabel,
		PositionID:  ev.PositionID,
		WalletID:    ev.ActorID,
		Timestamp:   ev.Timestamp(),

		MarketContext: marketCtx,
	}
	c.enrichMarket(ctx, f, ev, &alert)

	var activity *ActivityStats
	if ev.ActorID != "" {
		c.tracker.Record(ctx, ev.ActorID, value, ev.ObservedAt)
		stats := c.tracker.Classify(ctx, ev.ActorID)
		activity = &stats
		alert.Activity = stats.Notifier()

		if rc, ok := c.returns.ClassifyReturn(ctx, ev.ActorID, ev.PositionID, ev.Side); ok {
			alert.Return = rc.Notifier()
		}
		if f.linker != nil {
			alert.WalletURL = f.linker.WalletURL(ev.ActorID)
		}
		if f.profiles != nil && c.profiles != nil {
			profile, err := c.profiles.GetOrFetch(ctx, ev.ActorID, f.profiles.FetchProfile)
			if err != nil {
				c.logger.Debug("whale profile unavailable",
					zap.String("actor", shortID(ev.ActorID)),
					zap.Error(err),
				)
			} else {
				alert.Profile = profile
			}
		}
	}
	alert.Anomalies = DetectAnomalies(ev, activity)

	c.notifier.SendWhaleAlert(alert)
	c.dispatched.Add(1)
	if c.metrics != nil {
		c.metrics.AlertsSent.WithLabelValues(f.name).Inc()
	}

	if ev.ActorID != "" {
		c.returns.Record(ctx, PositionMemoryRecord{
			ActorID:      ev.ActorID,
			PositionID:   ev.PositionID,
			LastSide:     ev.Side,
			LastSeenAt:   ev.ObservedAt,
			MarketLabel:  ev.MarketLabel,
			OutcomeLabel: ev.OutcomeLabel,
		})
	}
}

// enrichMarket attaches the order book and top holders. Failures leave the
// blocks empty.
func (c *Coordinator) enrichMarket(ctx context.Context, f *platformFeed, ev TradeEvent, alert *notifier.WhaleAlert) {
	if f.book != nil {
		ob, err := f.book.OrderBook(ctx, ev)
		if err != nil {
			c.logger.Debug("order book unavailable",
				zap.String("platform", f.name),
				zap.String("market", ev.MarketID),
				zap.Error(err),
			)
		} else {
			alert.OrderBook = ob
		}
	}
	if f.holders != nil {
		holders, err := f.holders.TopHolders(ctx, ev, c.cfg.TopHolders)
		if err != nil {
			c.logger.Debug("top holders unavailable",
				zap.String("platform", f.name),
				zap.String("market", ev.MarketID),
				zap.Error(err),
			)
		} else {
			alert.TopHolders = holders
		}
	}
}

func (c *Coordinator) startPrune(ctx context.Context) {
	if !c.pruning.CompareAndSwap(false, true) {
		c.logger.Debug("previous prune still running, skipping")
		return
	}
	c.pruneWG.Add(1)
	go func() {
		defer c.pruneWG.Done()
		defer c.pruning.Store(false)
		c.Prune(ctx)
	}()
}

// Prune runs one retention pass over every tracker and cache.
func (c *Coordinator) Prune(ctx context.Context) {
	start := time.Now()
	fields := []zap.Field{}

	if c.tracker != nil {
		n, err := c.tracker.Prune(ctx)
		if err != nil {
			c.logger.Warn("activity prune failed", zap.Error(err))
		}
		fields = append(fields, zap.Int("activityEntries", n))
	}
	if c.returns != nil {
		n, err := c.returns.Prune(ctx)
		if err != nil {
			c.logger.Warn("position memory prune failed", zap.Error(err))
		}
		fields = append(fields, zap.Int("positionRecords", n))
	}
	if c.profiles != nil {
		fields = append(fields, zap.Int("profiles", c.profiles.Prune()))
	}
	if c.alerts != nil {
		n, err := c.alerts.Prune(ctx)
		if err != nil {
			c.logger.Warn("alert history prune failed", zap.Error(err))
		}
		fields = append(fields, zap.Int64("alerts", n))
	}

	c.pruneRuns.Add(1)
	if c.metrics != nil {
		c.metrics.PruneRuns.Inc()
	}
	fields = append(fields, zap.Duration("took", time.Since(start)))
	c.logger.Info("prune pass complete", fields...)
}

// Stats returns the cumulative counters and per-feed state.
func (c *Coordinator) Stats() CoordinatorStats {
	stats := CoordinatorStats{
		Ticks:       c.ticks.Load(),
		Ingested:    c.ingested.Load(),
		Filtered:    c.filtered.Load(),
		Duplicates:  c.duplicates.Load(),
		Skipped:     c.skipped.Load(),
		Dispatched:  c.dispatched.Load(),
		FetchErrors: c.fetchErrors.Load(),
		ParseErrors: c.parseErrors.Load(),
		PruneRuns:   c.pruneRuns.Load(),
	}
	for _, f := range c.feeds {
		f.statusMu.Lock()
		stats.Feeds = append(stats.Feeds, f.status)
		f.statusMu.Unlock()
	}
	return stats
}

func (c *Coordinator) countIngested(platform, path string, n int) {
	if n == 0 {
		return
	}
	c.ingested.Add(int64(n))
	if c.metrics != nil {
		c.metrics.EventsIngested.WithLabelValues(platform, path).Add(float64(n))
	}
}

// drain empties the stream queue without blocking. It reads at most one
// queue's worth so a fast producer cannot stall the tick.
func drain(ch <-chan TradeEvent) []TradeEvent {
	max := cap(ch)
	if max == 0 {
		max = 1024
	}

	var out []TradeEvent
	for i := 0; i < max; i++ {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}
