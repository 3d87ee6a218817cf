package app

import (
	"context"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	clts "whalewatch/clients"
	"whalewatch/clients/kalshievents"
	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// streamClient is the control side of the Kalshi websocket client.
type streamClient interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Stats() kalshievents.WSStats
	Errors() <-chan error
}

type Runner struct {
	cfg     *config.Config
	clients *clts.Clients
	store   store.Store
	metrics *metrics.Metrics
	clock   Clock

	tracker     *WalletActivityTracker
	returns     *WhaleReturnClassifier
	profiles    *ProfileCache
	alertLog    *AlertLog
	notifier    notifier.Notifier
	coordinator *Coordinator

	stream         streamClient
	kalshiStream   *KalshiStream
	reconnectEvery time.Duration
	reconnectDelay time.Duration

	healthServer *http.Server
	startTime    time.Time
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Pipeline CoordinatorStats `json:"pipeline"`

	// Kalshi websocket stats
	Stream struct {
		Enabled        bool   `json:"enabled"`
		Connected      bool   `json:"connected"`
		MessageCount   uint64 `json:"message_count"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
		Trades         uint64 `json:"trades"`
		Dropped        uint64 `json:"dropped"`
	} `json:"stream"`

	// Cache stats
	Caches struct {
		TrackedActors   int `json:"tracked_actors"`
		PositionRecords int `json:"position_records"`
		Profiles        int `json:"profiles"`
	} `json:"caches"`

	Store struct {
		Driver        string `json:"driver"`
		RetentionDays int    `json:"retention_days"`
	} `json:"store"`
}

// NewRunner wires the core around already constructed clients and store.
func NewRunner(cfg *config.Config, clients *clts.Clients, st store.Store, m *metrics.Metrics) *Runner {
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
		clients.Logger = logger
	}
	clock := RealClock()

	r := &Runner{
		cfg:            cfg,
		clients:        clients,
		store:          st,
		metrics:        m,
		clock:          clock,
		reconnectEvery: 30 * time.Second,
		reconnectDelay: 5 * time.Second,
	}

	r.tracker = NewWalletActivityTracker(logger, st, clock, cfg.Activity, m)
	r.returns = NewWhaleReturnClassifier(logger, st, clock, cfg.WhaleMemory.Horizon, m)
	if cfg.ProfileCache.Enabled {
		r.profiles = NewProfileCache(cfg.ProfileCache.TTL, clock, m)
	}
	r.alertLog = NewAlertLog(logger, st, clock, cfg.Store.RetentionDays, m)
	r.notifier = notifier.NewMultiNotifier(clients.Notifier, r.alertLog)

	r.coordinator = NewCoordinator(logger, CoordinatorConfigFrom(cfg.Watch, cfg.Enrichment), CoordinatorDeps{
		Tracker:  r.tracker,
		Returns:  r.returns,
		Profiles: r.profiles,
		Alerts:   r.alertLog,
		Notifier: r.notifier,
		Metrics:  m,
		Clock:    clock,
	})

	if cfg.Watch.WatchesPlatform(config.PlatformPolymarket) {
		r.coordinator.AddFeed(NewPolymarketSource(logger, clients.Polymarket, cfg.Watch.PollLimit, cfg.Enrichment.HolderTTL, clock), nil)
	}

	if cfg.Watch.WatchesPlatform(config.PlatformKalshi) {
		var events <-chan TradeEvent
		if clients.KalshiEvents != nil {
			r.stream = clients.KalshiEvents
			r.kalshiStream = NewKalshiStream(logger, clients.KalshiEvents, cfg.Watch.StreamQueueSize, clock, m)
			events = r.kalshiStream.Events()
		}
		r.coordinator.AddFeed(NewKalshiSource(logger, clients.Kalshi, cfg.Watch.PollLimit, clock), events)
	}

	return r
}

// Coordinator exposes the ingestion loop, mainly for tests.
func (r *Runner) Coordinator() *Coordinator {
	return r.coordinator
}

// Run starts the background loops and blocks in the coordinator until ctx
// is done.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger

	logger.Info("starting whale watcher",
		zap.Float64("threshold", r.cfg.Watch.Threshold),
		zap.Duration("tickInterval", r.cfg.Watch.TickInterval),
		zap.Strings("platforms", r.cfg.Watch.Platforms),
		zap.String("store", r.cfg.Store.Driver),
		zap.Bool("kalshiStream", r.stream != nil),
	)

	if r.stream != nil {
		go r.kalshiStream.Run(ctx)
		if err := r.stream.Connect(ctx); err != nil {
			logger.Warn("kalshi stream unavailable, polling until reconnect", zap.Error(err))
		} else {
			logger.Info("kalshi stream connected")
		}
		go r.runWSReconnector(ctx)
	}

	if r.cfg.HealthServer.Enabled {
		r.startHealthServer(r.cfg.HealthServer.Port)
	}

	r.coordinator.Run(ctx)

	logger.Info("runner shutting down")

	if r.stream != nil {
		_ = r.stream.Close()
	}
	if err := r.notifier.Close(); err != nil {
		logger.Warn("failed to close notifiers", zap.Error(err))
	}

	// Shutdown health server
	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// runWSReconnector monitors the stream and reconnects after read errors or
// prolonged silence.
func (r *Runner) runWSReconnector(ctx context.Context) {
	logger := r.clients.Logger
	ticker := time.NewTicker(r.reconnectEvery)
	defer ticker.Stop()

	staleAfter := r.cfg.Watch.QuietPeriod()
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-r.stream.Errors():
			logger.Warn("kalshi stream error", zap.Error(err))
		case <-ticker.C:
			if !r.stream.IsConnected() {
				logger.Warn("kalshi stream disconnected, attempting reconnect")
				r.attemptReconnect(ctx)
				continue
			}

			stats := r.stream.Stats()
			if stats.MessageCount > 0 && time.Since(stats.LastMessageAt) > staleAfter {
				logger.Warn("kalshi stream appears stale, attempting reconnect",
					zap.Duration("timeSinceLastMessage", time.Since(stats.LastMessageAt)),
				)
				r.attemptReconnect(ctx)
			}
		}
	}
}

// attemptReconnect closes and redials the stream.
func (r *Runner) attemptReconnect(ctx context.Context) {
	_ = r.stream.Close()

	select {
	case <-ctx.Done():
		return
	case <-time.After(r.reconnectDelay):
	}

	if err := r.stream.Connect(ctx); err != nil {
		r.clients.Logger.Error("failed to reconnect kalshi stream", zap.Error(err))
		return
	}
	r.clients.Logger.Info("kalshi stream reconnected")
}

// GetStats collects the service snapshot served on /api/stats.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	if !r.startTime.IsZero() {
		stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
		uptime := time.Since(r.startTime)
		stats.Uptime = uptime.Round(time.Second).String()
		stats.UptimeSec = int64(uptime.Seconds())
	}

	stats.Pipeline = r.coordinator.Stats()

	stats.Stream.Enabled = r.stream != nil
	if r.stream != nil {
		wsStats := r.stream.Stats()
		stats.Stream.Connected = r.stream.IsConnected()
		stats.Stream.MessageCount = wsStats.MessageCount
		if !wsStats.LastMessageAt.IsZero() {
			stats.Stream.LastMessageAt = wsStats.LastMessageAt.UTC().Format(time.RFC3339)
			stats.Stream.LastMessageAgo = time.Since(wsStats.LastMessageAt).Round(time.Second).String()
		}
	}
	if r.kalshiStream != nil {
		stats.Stream.Trades = r.kalshiStream.Received()
		stats.Stream.Dropped = r.kalshiStream.Dropped()
	}

	stats.Caches.TrackedActors = r.tracker.Size()
	stats.Caches.PositionRecords = r.returns.Size()
	if r.profiles != nil {
		stats.Caches.Profiles = r.profiles.Size()
	}

	stats.Store.Driver = r.cfg.Store.Driver
	stats.Store.RetentionDays = r.cfg.Store.RetentionDays

	return stats
}
