package notifier

import (
	"strings"
	"time"
)

// Payload is the JSON document shared by the webhook sink, the Kafka sink
// and the alert history.
type Payload struct {
	Platform       string          `json:"platform"`
	AlertType      AlertType       `json:"alert_type"`
	Action         string          `json:"action"`
	Value          float64         `json:"value"`
	Price          float64         `json:"price"`
	PricePercent   int             `json:"price_percent"`
	Size           float64         `json:"size"`
	Timestamp      string          `json:"timestamp"`
	MarketTitle    *string         `json:"market_title"`
	Outcome        *string         `json:"outcome"`
	TradeID        string          `json:"trade_id,omitempty"`
	WalletID       string          `json:"wallet_id,omitempty"`
	WalletActivity *WalletActivity `json:"wallet_activity,omitempty"`
	WhaleReturn    *WhaleReturn    `json:"whale_return,omitempty"`
	WhaleProfile   *WhaleProfile   `json:"whale_profile,omitempty"`
	MarketContext  *MarketContext  `json:"market_context,omitempty"`
	OrderBook      *OrderBook      `json:"order_book,omitempty"`
	TopHolders     []Holder        `json:"top_holders,omitempty"`
	Anomalies      []string        `json:"anomalies,omitempty"`
}

// BuildPayload flattens an alert. With escapeText set, free-text market
// fields are reduced to a character set safe for chat markup.
func BuildPayload(a WhaleAlert, escapeText bool) Payload {
	price := a.Price.InexactFloat64()

	p := Payload{
		Platform:       a.Platform,
		AlertType:      a.Type(),
		Action:         strings.ToUpper(a.Side),
		Value:          a.Value.InexactFloat64(),
		Price:          price,
		PricePercent:   int(a.Price.Shift(2).Round(0).IntPart()),
		Size:           a.Size.InexactFloat64(),
		Timestamp:      a.Timestamp.UTC().Format(time.RFC3339),
		TradeID:        a.TradeID,
		WalletID:       a.WalletID,
		WalletActivity: a.Activity,
		WhaleReturn:    a.Return,
		WhaleProfile:   a.Profile,
		MarketContext:  a.MarketContext,
		OrderBook:      a.OrderBook,
		TopHolders:     a.TopHolders,
		Anomalies:      a.Anomalies,
	}

	if a.MarketTitle != "" {
		s := a.MarketTitle
		if escapeText {
			s = EscapeSpecialChars(s)
		}
		p.MarketTitle = &s
	}
	if a.Outcome != "" {
		s := a.Outcome
		if escapeText {
			s = EscapeSpecialChars(s)
		}
		p.Outcome = &s
	}

	return p
}

// EscapeSpecialChars keeps ASCII letters, digits and a few punctuation marks,
// folds brackets to parentheses and collapses everything else to single spaces.
func EscapeSpecialChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == ',' || r == ':' || r == '?' || r == '.':
			b.WriteRune(r)
		case r == '(' || r == '[' || r == '{':
			b.WriteByte('(')
		case r == ')' || r == ']' || r == '}':
			b.WriteByte(')')
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
