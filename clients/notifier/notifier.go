package notifier

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType is derived from the trade side.
type AlertType string

const (
	AlertTypeEntry AlertType = "WHALE_ENTRY"
	AlertTypeExit  AlertType = "WHALE_EXIT"
)

// WalletActivity is the rolling window summary of the trading actor.
type WalletActivity struct {
	TransactionsLastHour int     `json:"transactions_last_hour"`
	TransactionsLastDay  int     `json:"transactions_last_day"`
	TotalValueHour       float64 `json:"total_value_hour"`
	TotalValueDay        float64 `json:"total_value_day"`
	IsRepeatActor        bool    `json:"is_repeat_actor"`
	IsHeavyActor         bool    `json:"is_heavy_actor"`
}

// WhaleReturn describes an actor coming back to a position it held recently.
type WhaleReturn struct {
	Scenario       string    `json:"scenario"` // NEW_ENTRY, RE_ENTRY, REVERSAL, EXIT_AND_RETURN
	PreviousSide   string    `json:"previous_side,omitempty"`
	PreviousSeenAt time.Time `json:"previous_seen_at,omitempty"`
}

// WhaleProfile is the externally fetched trading history of a wallet.
type WhaleProfile struct {
	UniqueMarkets  int     `json:"unique_markets"`
	TotalTrades    int     `json:"total_trades"`
	WinCount       int     `json:"win_count"`
	LossCount      int     `json:"loss_count"`
	WinRate        float64 `json:"win_rate"`
	OpenPositions  int     `json:"open_positions"`
	PortfolioValue float64 `json:"portfolio_value"`
}

// MarketContext is the live pricing of the traded market. Prices are in
// dollars per share (0..1).
type MarketContext struct {
	YesPrice  float64 `json:"yes_price"`
	NoPrice   float64 `json:"no_price"`
	Spread    float64 `json:"spread"`
	Volume24h float64 `json:"volume_24h"`
	Liquidity float64 `json:"liquidity,omitempty"`
}

// OrderBook summarizes resting depth on the traded book. Depth is the dollar
// value of all resting orders on that side.
type OrderBook struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	BidDepth  float64 `json:"bid_depth"`
	AskDepth  float64 `json:"ask_depth"`
	BidLevels int     `json:"bid_levels"`
	AskLevels int     `json:"ask_levels"`
}

// Holder is one of the largest net positions in the traded market.
type Holder struct {
	Wallet   string  `json:"wallet"`
	Outcome  string  `json:"outcome"`
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avg_price"`
}

// WhaleAlert contains everything the sinks need for one qualifying trade.
type WhaleAlert struct {
	Platform string
	TradeID  string

	// Trade info
	Side  string // BUY or SELL
	Size  decimal.Decimal
	Price decimal.Decimal
	Value decimal.Decimal

	// Market info
	MarketTitle string
	Outcome     string
	PositionID  string

	// Wallet info, empty when the platform hides counterparties
	WalletID  string
	WalletURL string

	Activity *WalletActivity
	Return   *WhaleReturn
	Profile  *WhaleProfile

	MarketContext *MarketContext
	OrderBook     *OrderBook
	TopHolders    []Holder

	Anomalies []string
	Timestamp time.Time
}

// IsSell reports whether the trade reduced a position.
func (a WhaleAlert) IsSell() bool {
	return strings.EqualFold(a.Side, "SELL")
}

// Type returns WHALE_EXIT for sells and WHALE_ENTRY otherwise.
func (a WhaleAlert) Type() AlertType {
	if a.IsSell() {
		return AlertTypeExit
	}
	return AlertTypeEntry
}

// Notifier is the interface for sending whale alerts to various channels.
type Notifier interface {
	// SendWhaleAlert delivers the alert. Delivery is best effort and never retried.
	SendWhaleAlert(alert WhaleAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendWhaleAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendWhaleAlert(alert WhaleAlert) {
	for _, n := range m.notifiers {
		n.SendWhaleAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
