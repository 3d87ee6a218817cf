package app

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Platform display names.
const (
	PlatformPolymarket = "Polymarket"
	PlatformKalshi     = "Kalshi"
)

// ErrParse marks a batch whose response shape was not understood. The
// coordinator treats it as an empty batch.
var ErrParse = errors.New("unparseable batch")

// Side is the direction of a trade relative to the actor.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps platform side strings onto Side. Anything that is not a
// sell counts as a buy.
func ParseSide(s string) Side {
	if strings.EqualFold(strings.TrimSpace(s), string(SideSell)) {
		return SideSell
	}
	return SideBuy
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// TradeEvent is one trade from a platform, normalized for the pipeline.
type TradeEvent struct {
	Platform string
	ID       string

	// ActorID is empty when the platform does not expose counterparties.
	ActorID    string
	ActorName  string
	PositionID string

	Side  Side
	Size  decimal.Decimal
	Price decimal.Decimal

	MarketLabel  string
	OutcomeLabel string
	MarketRef    string // platform market key used for lazy label lookup
	MarketID     string // Polymarket condition id, Kalshi ticker
	TokenID      string // Polymarket outcome token, empty on Kalshi

	TradedAt   time.Time // platform timestamp, not trusted for windows
	ObservedAt time.Time // watcher clock when the event was received
}

// Value is size × price.
func (e TradeEvent) Value() decimal.Decimal {
	return e.Size.Mul(e.Price)
}

// Timestamp prefers the platform time and falls back to the observation time.
func (e TradeEvent) Timestamp() time.Time {
	if !e.TradedAt.IsZero() {
		return e.TradedAt
	}
	return e.ObservedAt
}

// Clock abstracts time so the trackers and caches can be driven from tests.
// Readings from the real clock carry the monotonic component, so durations
// between them are immune to wall clock steps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the process clock.
func RealClock() Clock { return realClock{} }
