package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"whalewatch/clients/kalshiapi"
	"whalewatch/clients/kalshievents"
	"whalewatch/clients/notifier"
	"whalewatch/clients/polymarketapi"
	"whalewatch/internal/metrics"
)

// EventSource fetches a batch of trades, newest first.
type EventSource interface {
	Platform() string
	Poll(ctx context.Context) ([]TradeEvent, error)
}

// MarketDescriber fills in market labels that are too expensive to fetch for
// every trade. It is only called for events that pass the threshold.
type MarketDescriber interface {
	Describe(ctx context.Context, ev *TradeEvent)
}

// ProfileSource fetches the trading history of an actor.
type ProfileSource interface {
	FetchProfile(ctx context.Context, actor string) (*notifier.WhaleProfile, error)
}

// WalletLinker builds a public profile URL for an actor.
type WalletLinker interface {
	WalletURL(actor string) string
}

// polymarketAPI is the subset of the Polymarket data API client the source uses.
type polymarketAPI interface {
	GetRecentTrades(ctx context.Context, limit int) ([]polymarketapi.Trade, error)
	GetUserActivity(ctx context.Context, wallet string, limit int) ([]polymarketapi.Activity, error)
	GetClosedPositions(ctx context.Context, wallet string, limit int, offset int) ([]polymarketapi.ClosedPosition, error)
	GetPositions(ctx context.Context, wallet string, limit int) ([]polymarketapi.Position, error)
	GetMarketByConditionID(ctx context.Context, conditionID string) (*polymarketapi.GammaMarket, error)
	GetOrderBook(ctx context.Context, tokenID string) (*polymarketapi.OrderBook, error)
	GetMarketTrades(ctx context.Context, conditionID string, limit int, offset int) ([]polymarketapi.Trade, error)
}

type polymarketSource struct {
	logger    *zap.Logger
	api       polymarketAPI
	limit     int
	clock     Clock
	holderTTL time.Duration

	holdersMu sync.Mutex
	holders   map[string]holdersEntry
}

// NewPolymarketSource polls the public trade feed. Top holders are cached per
// market for holderTTL.
func NewPolymarketSource(logger *zap.Logger, api polymarketAPI, limit int, holderTTL time.Duration, clock Clock) EventSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if limit <= 0 {
		limit = 100
	}
	if holderTTL <= 0 {
		holderTTL = 5 * time.Minute
	}
	return &polymarketSource{
		logger:    logger,
		api:       api,
		limit:     limit,
		clock:     clock,
		holderTTL: holderTTL,
		holders:   make(map[string]holdersEntry),
	}
}

func (s *polymarketSource) Platform() string { return PlatformPolymarket }

func (s *polymarketSource) Poll(ctx context.Context) ([]TradeEvent, error) {
	trades, err := s.api.GetRecentTrades(ctx, s.limit)
	if err != nil {
		if errors.Is(err, polymarketapi.ErrUnexpectedShape) {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return nil, err
	}

	now := s.clock.Now()
	events := make([]TradeEvent, 0, len(trades))
	for _, t := range trades {
		events = append(events, polymarketEvent(t, now))
	}
	return events, nil
}

func polymarketEvent(t polymarketapi.Trade, observed time.Time) TradeEvent {
	actor := strings.TrimSpace(t.User)
	if actor == "" {
		actor = strings.TrimSpace(t.Maker)
	}
	if actor == "" {
		actor = strings.TrimSpace(t.ProxyWallet)
	}

	position := t.Asset
	if position == "" {
		position = t.ConditionID + ":" + t.Outcome
	}

	var traded time.Time
	if t.Timestamp > 0 {
		traded = time.Unix(t.Timestamp, 0).UTC()
	}

	return TradeEvent{
		Platform:     PlatformPolymarket,
		ID:           t.Key(),
		ActorID:      actor,
		ActorName:    nz(t.Name, t.Pseudonym),
		PositionID:   position,
		Side:         ParseSide(t.Side),
		Size:         decimal.NewFromFloat(t.Size),
		Price:        decimal.NewFromFloat(t.Price),
		MarketLabel:  t.Title,
		OutcomeLabel: t.Outcome,
		MarketRef:    t.Slug,
		MarketID:     t.ConditionID,
		TokenID:      t.Asset,
		TradedAt:     traded,
		ObservedAt:   observed,
	}
}

func (s *polymarketSource) WalletURL(actor string) string {
	if !strings.HasPrefix(actor, "0x") {
		return ""
	}
	return "https://polymarket.com/profile/" + actor
}

// FetchProfile summarizes a wallet's markets, record and open book.
func (s *polymarketSource) FetchProfile(ctx context.Context, wallet string) (*notifier.WhaleProfile, error) {
	activity, err := s.api.GetUserActivity(ctx, wallet, 500)
	if err != nil {
		return nil, err
	}

	profile := &notifier.WhaleProfile{}
	marketsSeen := make(map[string]struct{})
	for _, a := range activity {
		if a.ConditionID != "" {
			marketsSeen[a.ConditionID] = struct{}{}
		}
		if strings.EqualFold(a.Type, "TRADE") {
			profile.TotalTrades++
		}
	}
	profile.UniqueMarkets = len(marketsSeen)

	// API limits closed positions to 50 per request
	closed, err := s.api.GetClosedPositions(ctx, wallet, 50, 0)
	if err != nil {
		s.logger.Warn("failed to fetch closed positions, win rate unavailable",
			zap.String("wallet", shortID(wallet)),
			zap.Error(err),
		)
		closed = nil
	}
	if len(closed) == 50 {
		more, err := s.api.GetClosedPositions(ctx, wallet, 50, 50)
		if err != nil {
			s.logger.Warn("failed to fetch second batch of closed positions",
				zap.String("wallet", shortID(wallet)),
				zap.Error(err),
			)
		} else {
			closed = append(closed, more...)
		}
	}
	for _, p := range closed {
		switch {
		case p.RealizedPnl > 0:
			profile.WinCount++
		case p.RealizedPnl < 0:
			profile.LossCount++
		}
	}
	if resolved := profile.WinCount + profile.LossCount; resolved > 0 {
		profile.WinRate = float64(profile.WinCount) / float64(resolved)
	}

	open, err := s.api.GetPositions(ctx, wallet, 100)
	if err != nil {
		s.logger.Warn("failed to fetch open positions",
			zap.String("wallet", shortID(wallet)),
			zap.Error(err),
		)
		return profile, nil
	}
	for _, p := range open {
		if p.Size <= 0 {
			continue
		}
		profile.OpenPositions++
		profile.PortfolioValue += p.CurrentValue
	}

	return profile, nil
}

// kalshiAPI is the subset of the Kalshi REST client the source uses.
type kalshiAPI interface {
	GetRecentTrades(ctx context.Context, limit int) ([]kalshiapi.Trade, error)
	GetMarket(ctx context.Context, ticker string) (*kalshiapi.Market, error)
	GetOrderBook(ctx context.Context, ticker string) (*kalshiapi.OrderBook, error)
}

const maxMarketTitles = 5000

type kalshiSource struct {
	logger *zap.Logger
	api    kalshiAPI
	limit  int
	clock  Clock

	titlesMu sync.Mutex
	titles   map[string]string
}

// NewKalshiSource polls public Kalshi trades. Kalshi never exposes the
// counterparty, so events carry no actor.
func NewKalshiSource(logger *zap.Logger, api kalshiAPI, limit int, clock Clock) EventSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if limit <= 0 {
		limit = 100
	}
	return &kalshiSource{
		logger: logger,
		api:    api,
		limit:  limit,
		clock:  clock,
		titles: make(map[string]string),
	}
}

func (s *kalshiSource) Platform() string { return PlatformKalshi }

func (s *kalshiSource) Poll(ctx context.Context) ([]TradeEvent, error) {
	trades, err := s.api.GetRecentTrades(ctx, s.limit)
	if err != nil {
		if errors.Is(err, kalshiapi.ErrUnexpectedShape) {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return nil, err
	}

	now := s.clock.Now()
	events := make([]TradeEvent, 0, len(trades))
	for _, t := range trades {
		events = append(events, kalshiEvent(t.TradeID, t.Ticker, t.TakerSide, t.Count, t.YesDollars(), t.CreatedAt(), now))
	}
	return events, nil
}

// Describe looks up the market title once per ticker.
func (s *kalshiSource) Describe(ctx context.Context, ev *TradeEvent) {
	if ev.MarketLabel != "" || ev.MarketRef == "" {
		return
	}

	s.titlesMu.Lock()
	title, ok := s.titles[ev.MarketRef]
	s.titlesMu.Unlock()
	if ok {
		ev.MarketLabel = title
		return
	}

	market, err := s.api.GetMarket(ctx, ev.MarketRef)
	if err != nil {
		s.logger.Debug("failed to fetch kalshi market",
			zap.String("ticker", ev.MarketRef),
			zap.Error(err),
		)
		return
	}

	title = market.Title
	if market.Subtitle != "" {
		title += " (" + market.Subtitle + ")"
	}

	s.titlesMu.Lock()
	if len(s.titles) >= maxMarketTitles {
		s.titles = make(map[string]string)
	}
	s.titles[ev.MarketRef] = title
	s.titlesMu.Unlock()

	ev.MarketLabel = title
}

// kalshiEvent values the fill at its yes price. The taker side only selects
// the position and outcome label.
func kalshiEvent(id, ticker, takerSide string, count int64, price decimal.Decimal, traded, observed time.Time) TradeEvent {
	outcome := "Yes"
	side := "yes"
	if strings.EqualFold(takerSide, "no") {
		outcome = "No"
		side = "no"
	}

	return TradeEvent{
		Platform:     PlatformKalshi,
		ID:           id,
		PositionID:   ticker + ":" + side,
		Side:         SideBuy,
		Size:         decimal.NewFromInt(count),
		Price:        price,
		OutcomeLabel: outcome,
		MarketRef:    ticker,
		MarketID:     ticker,
		TradedAt:     traded,
		ObservedAt:   observed,
	}
}

// streamMessages is the read side of the Kalshi websocket client.
type streamMessages interface {
	Messages() <-chan json.RawMessage
}

// KalshiStream turns websocket trade frames into TradeEvents on a bounded
// queue. When the coordinator falls behind, new events are dropped and
// counted rather than blocking the socket reader.
type KalshiStream struct {
	logger  *zap.Logger
	client  streamMessages
	clock   Clock
	metrics *metrics.Metrics
	queue   chan TradeEvent

	dropped  atomic.Uint64
	received atomic.Uint64
}

// NewKalshiStream creates the pump with a queue of the given size.
func NewKalshiStream(logger *zap.Logger, client streamMessages, queueSize int, clock Clock, m *metrics.Metrics) *KalshiStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &KalshiStream{
		logger:  logger,
		client:  client,
		clock:   clock,
		metrics: m,
		queue:   make(chan TradeEvent, queueSize),
	}
}

// Events is drained by the coordinator.
func (s *KalshiStream) Events() <-chan TradeEvent {
	return s.queue
}

// Run pumps frames until ctx is done.
func (s *KalshiStream) Run(ctx context.Context) {
	msgCh := s.client.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgCh:
			s.handle(msg)
		}
	}
}

func (s *KalshiStream) handle(msg json.RawMessage) {
	t := kalshievents.ParseTrade(msg)
	if t == nil {
		return
	}
	s.received.Add(1)

	price := kalshiapi.PriceDollars(t.YesPriceDollars, t.YesPrice)
	ev := kalshiEvent(t.TradeID, t.Ticker, t.TakerSide, t.Count, price, t.Time(), s.clock.Now())

	select {
	case s.queue <- ev:
	default:
		n := s.dropped.Add(1)
		if s.metrics != nil {
			s.metrics.StreamDropped.WithLabelValues(PlatformKalshi).Inc()
		}
		if n == 1 || n%100 == 0 {
			s.logger.Warn("kalshi stream queue full, dropping events",
				zap.Uint64("dropped", n),
			)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *KalshiStream) Dropped() uint64 {
	return s.dropped.Load()
}

// Received returns how many trade frames were parsed.
func (s *KalshiStream) Received() uint64 {
	return s.received.Load()
}
