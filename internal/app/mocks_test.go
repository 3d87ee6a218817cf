package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"whalewatch/clients/kalshievents"
	"whalewatch/clients/notifier"
	"whalewatch/internal/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// countingStore wraps a MemoryStore, counts calls and can fail on demand.
type countingStore struct {
	*store.MemoryStore

	mu      sync.Mutex
	gets    int
	puts    int
	deletes int
	putErr  error
	getErr  error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) Put(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	s.puts++
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, rec)
}

func (s *countingStore) Get(ctx context.Context, key string) (store.Record, bool, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return store.Record{}, false, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *countingStore) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.MemoryStore.DeleteOlderThan(ctx, prefix, cutoff)
}

func (s *countingStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *countingStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *countingStore) SetPutError(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

func (s *countingStore) SetGetError(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// recordingNotifier captures dispatched alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notifier.WhaleAlert
	closed bool
}

func (n *recordingNotifier) SendWhaleAlert(alert notifier.WhaleAlert) {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
}

func (n *recordingNotifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Alerts() []notifier.WhaleAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifier.WhaleAlert, len(n.alerts))
	copy(out, n.alerts)
	return out
}

func (n *recordingNotifier) IDs() []string {
	var ids []string
	for _, a := range n.Alerts() {
		ids = append(ids, a.TradeID)
	}
	return ids
}

// fakeSource returns scripted batches. When the script runs out the last
// batch is repeated, like an endpoint that has nothing new.
type fakeSource struct {
	platform string

	mu      sync.Mutex
	batches [][]TradeEvent
	errs    []error
	polls   int
}

func newFakeSource(platform string) *fakeSource {
	return &fakeSource{platform: platform}
}

func (s *fakeSource) Platform() string { return s.platform }

func (s *fakeSource) Push(batch []TradeEvent, err error) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *fakeSource) Poll(ctx context.Context) ([]TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	if len(s.batches) == 0 {
		return nil, nil
	}

	i := s.polls - 1
	if i >= len(s.batches) {
		i = len(s.batches) - 1
	}
	if s.errs[i] != nil {
		return nil, s.errs[i]
	}
	out := make([]TradeEvent, len(s.batches[i]))
	copy(out, s.batches[i])
	return out, nil
}

func (s *fakeSource) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// profiledSource adds ProfileSource and WalletLinker to fakeSource.
type profiledSource struct {
	*fakeSource

	mu      sync.Mutex
	fetches int
	profile *notifier.WhaleProfile
	err     error
}

func (s *profiledSource) FetchProfile(_ context.Context, _ string) (*notifier.WhaleProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.profile, s.err
}

func (s *profiledSource) WalletURL(actor string) string {
	return "https://example.com/" + actor
}

// marketSource adds the market data capabilities to fakeSource.
type marketSource struct {
	*fakeSource

	mu         sync.Mutex
	context    *notifier.MarketContext
	contextErr error
	book       *notifier.OrderBook
	bookErr    error
	holders    []notifier.Holder
	holdersN   int
	calls      int
}

func (s *marketSource) MarketContext(context.Context, TradeEvent) (*notifier.MarketContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.context, s.contextErr
}

func (s *marketSource) OrderBook(context.Context, TradeEvent) (*notifier.OrderBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.book, s.bookErr
}

func (s *marketSource) TopHolders(_ context.Context, _ TradeEvent, n int) ([]notifier.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.holdersN = n
	return s.holders, nil
}

func (s *marketSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeStreamClient implements streamClient and streamMessages.
type fakeStreamClient struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	closes     int
	connectErr error
	stats      kalshievents.WSStats
	msgCh      chan json.RawMessage
	errCh      chan error
}

func newFakeStreamClient() *fakeStreamClient {
	return &fakeStreamClient{
		msgCh: make(chan json.RawMessage, 16),
		errCh: make(chan error, 4),
	}
}

func (f *fakeStreamClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeStreamClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeStreamClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStreamClient) Stats() kalshievents.WSStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeStreamClient) Errors() <-chan error { return f.errCh }

func (f *fakeStreamClient) Messages() <-chan json.RawMessage { return f.msgCh }

func (f *fakeStreamClient) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// trade builds a test event worth size × price.
func trade(id, actor, position string, side Side, size, price string) TradeEvent {
	platform := PlatformPolymarket
	if actor == "" {
		platform = PlatformKalshi
	}
	return TradeEvent{
		Platform:   platform,
		ID:         id,
		ActorID:    actor,
		PositionID: position,
		Side:       side,
		Size:       decimal.RequireFromString(size),
		Price:      decimal.RequireFromString(price),
		TradedAt:   testEpoch,
	}
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
