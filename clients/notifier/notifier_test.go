package notifier

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockNotifier is a test helper that implements Notifier interface
type mockNotifier struct {
	alerts      []WhaleAlert
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendWhaleAlert(alert WhaleAlert) {
	m.alerts = append(m.alerts, alert)
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func testAlert() WhaleAlert {
	return WhaleAlert{
		Platform:    "Polymarket",
		TradeID:     "t1",
		Side:        "buy",
		Size:        decimal.NewFromInt(60000),
		Price:       decimal.RequireFromString("0.655"),
		Value:       decimal.NewFromInt(39300),
		MarketTitle: "Will [X] win?",
		Outcome:     "Yes",
		WalletID:    "0xabc",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mn := NewMultiNotifier(&mockNotifier{}, nil, &mockNotifier{}, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_Empty(t *testing.T) {
	mn := NewMultiNotifier()

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}
	// Should not panic
	mn.SendWhaleAlert(testAlert())
}

func TestMultiNotifier_SendWhaleAlert(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)
	mn.SendWhaleAlert(testAlert())

	if len(mock1.alerts) != 1 || len(mock2.alerts) != 1 {
		t.Fatalf("expected one alert per notifier, got %d and %d", len(mock1.alerts), len(mock2.alerts))
	}
	if mock1.alerts[0].WalletID != "0xabc" {
		t.Errorf("unexpected wallet: %s", mock1.alerts[0].WalletID)
	}
}

func TestMultiNotifier_Close_WithError(t *testing.T) {
	expectedErr := errors.New("close error")
	mock1 := &mockNotifier{closeErr: expectedErr}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	if err := mn.Close(); err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("expected every notifier to be closed")
	}
}

func TestWhaleAlert_Type(t *testing.T) {
	a := testAlert()
	if a.Type() != AlertTypeEntry {
		t.Errorf("expected entry, got %s", a.Type())
	}
	a.Side = "SELL"
	if a.Type() != AlertTypeExit {
		t.Errorf("expected exit, got %s", a.Type())
	}
}

func TestBuildPayload(t *testing.T) {
	a := testAlert()
	a.Activity = &WalletActivity{TransactionsLastHour: 2, TransactionsLastDay: 3, IsRepeatActor: true}

	p := BuildPayload(a, true)

	if p.AlertType != AlertTypeEntry || p.Action != "BUY" {
		t.Errorf("unexpected type/action: %s %s", p.AlertType, p.Action)
	}
	if p.PricePercent != 66 {
		t.Errorf("expected price percent 66, got %d", p.PricePercent)
	}
	if p.Value != 39300 {
		t.Errorf("unexpected value: %f", p.Value)
	}
	if p.MarketTitle == nil || *p.MarketTitle != "Will (X) win?" {
		t.Errorf("unexpected escaped title: %v", p.MarketTitle)
	}
	if p.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected timestamp: %s", p.Timestamp)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	activity, ok := m["wallet_activity"].(map[string]any)
	if !ok {
		t.Fatalf("expected wallet_activity block, got %s", raw)
	}
	if activity["transactions_last_hour"] != float64(2) || activity["is_repeat_actor"] != true {
		t.Errorf("unexpected wallet_activity: %v", activity)
	}
	if _, ok := m["whale_profile"]; ok {
		t.Error("absent profile must be omitted")
	}
}

func TestBuildPayload_MarketBlocks(t *testing.T) {
	a := testAlert()
	a.MarketContext = &MarketContext{YesPrice: 0.66, NoPrice: 0.34, Spread: 0.01, Volume24h: 120000}
	a.OrderBook = &OrderBook{BestBid: 0.65, BestAsk: 0.66, BidDepth: 5000, AskDepth: 7000, BidLevels: 3, AskLevels: 4}
	a.TopHolders = []Holder{{Wallet: "0xtop", Outcome: "Yes", Size: 90000, AvgPrice: 0.4}}

	raw, err := json.Marshal(BuildPayload(a, false))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}

	ctx, ok := m["market_context"].(map[string]any)
	if !ok || ctx["spread"] != 0.01 || ctx["volume_24h"] != float64(120000) {
		t.Errorf("unexpected market_context block in %s", raw)
	}
	book, ok := m["order_book"].(map[string]any)
	if !ok || book["ask_depth"] != float64(7000) || book["bid_levels"] != float64(3) {
		t.Errorf("unexpected order_book block in %s", raw)
	}
	holders, ok := m["top_holders"].([]any)
	if !ok || len(holders) != 1 || holders[0].(map[string]any)["wallet"] != "0xtop" {
		t.Errorf("unexpected top_holders block in %s", raw)
	}

	bare, _ := json.Marshal(BuildPayload(testAlert(), false))
	for _, key := range []string{"market_context", "order_book", "top_holders"} {
		if strings.Contains(string(bare), key) {
			t.Errorf("expected %s omitted when absent", key)
		}
	}
}

func TestBuildPayload_NoTextFields(t *testing.T) {
	a := testAlert()
	a.MarketTitle = ""
	a.Outcome = ""
	a.WalletID = ""

	raw, err := json.Marshal(BuildPayload(a, false))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if v, ok := m["market_title"]; !ok || v != nil {
		t.Errorf("expected explicit null market_title, got %v", v)
	}
	if _, ok := m["wallet_id"]; ok {
		t.Error("wallet_id must be omitted when unknown")
	}
}

func TestEscapeSpecialChars(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Will BTC hit $100k?", "Will BTC hit 100k?"},
		{"Fed [March] {cut}", "Fed (March) (cut)"},
		{"a*b_c  d", "a b c d"},
		{"  Über-team  ", "ber team"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := EscapeSpecialChars(tt.in); got != tt.want {
			t.Errorf("EscapeSpecialChars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	a := testAlert()
	a.Anomalies = []string{"Major capital deployment"}
	n.SendWhaleAlert(a)

	entries := logs.FilterMessage("whale alert").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["wallet"] != "0xabc" || fields["type"] != "WHALE_ENTRY" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestLogNotifier_MarketData(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	a := testAlert()
	a.MarketContext = &MarketContext{YesPrice: 0.62, NoPrice: 0.38, Spread: 0.02}
	a.OrderBook = &OrderBook{BidDepth: 9050, AskDepth: 1910}
	a.TopHolders = []Holder{{Wallet: "0xholder", Size: 52000}}
	n.SendWhaleAlert(a)

	fields := logs.FilterMessage("whale alert").All()[0].ContextMap()
	if fields["yesPrice"] != 0.62 || fields["bidDepth"] != 9050.0 || fields["topHolder"] != "0xholder" {
		t.Errorf("unexpected fields: %v", fields)
	}
}
