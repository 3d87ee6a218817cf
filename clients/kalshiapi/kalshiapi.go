package kalshiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"whalewatch/clients/kalshievents"
	"whalewatch/config"
)

// ErrUnexpectedShape is returned when a 2xx response body cannot be decoded.
var ErrUnexpectedShape = errors.New("unexpected response shape")

var hundred = decimal.NewFromInt(100)

type KalshiApiClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	creds      *kalshievents.Credentials // optional, requests are signed when set
}

func NewKalshiApiClient(logger *zap.Logger, cfg *config.Config, creds *kalshievents.Credentials) *KalshiApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KalshiApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.Kalshi.RestURL, "/"),
		creds:   creds,
	}
}

// Trade is a public fill from GET /markets/trades.
type Trade struct {
	TradeID         string `json:"trade_id"`
	Ticker          string `json:"ticker"`
	Count           int64  `json:"count"`
	YesPrice        int64  `json:"yes_price"` // cents
	NoPrice         int64  `json:"no_price"`  // cents
	YesPriceDollars string `json:"yes_price_dollars"`
	NoPriceDollars  string `json:"no_price_dollars"`
	TakerSide       string `json:"taker_side"` // yes or no
	CreatedTime     string `json:"created_time"`
}

type tradesResponse struct {
	Trades *[]Trade `json:"trades"`
	Cursor string   `json:"cursor"`
}

// Market is the subset of GET /markets/{ticker} used for labels and pricing.
// Prices are in cents.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Status      string `json:"status"`
	Category    string `json:"category"`

	YesBid    int64 `json:"yes_bid"`
	YesAsk    int64 `json:"yes_ask"`
	NoBid     int64 `json:"no_bid"`
	NoAsk     int64 `json:"no_ask"`
	LastPrice int64 `json:"last_price"`
	Volume24h int64 `json:"volume_24h"`
	Liquidity int64 `json:"liquidity"` // cents
}

type marketResponse struct {
	Market Market `json:"market"`
}

// OrderBook holds resting bids for both sides as [price_cents, count]
// pairs. Kalshi only lists bids; a no bid at p is a yes offer at 100-p.
type OrderBook struct {
	Yes [][2]int64 `json:"yes"`
	No  [][2]int64 `json:"no"`
}

type orderBookResponse struct {
	OrderBook *OrderBook `json:"orderbook"`
}

// YesDollars returns the yes price of the fill in dollars. Fills are valued
// at the yes price whichever side the taker was on.
func (t Trade) YesDollars() decimal.Decimal {
	return PriceDollars(t.YesPriceDollars, t.YesPrice)
}

// CreatedAt parses CreatedTime, returning the zero time when it is missing.
func (t Trade) CreatedAt() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, t.CreatedTime)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// PriceDollars prefers the sub-penny dollar string and falls back to cents.
func PriceDollars(dollars string, cents int64) decimal.Decimal {
	if dollars != "" {
		if d, err := decimal.NewFromString(dollars); err == nil {
			return d
		}
	}
	return decimal.NewFromInt(cents).Div(hundred)
}

// GetRecentTrades fetches the newest public trades across all markets, newest first.
func (c *KalshiApiClient) GetRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/markets/trades", query)
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}

	var resp tradesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("kalshi trades response not understood", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if resp.Trades == nil {
		return nil, fmt.Errorf("%w: missing trades field", ErrUnexpectedShape)
	}

	return *resp.Trades, nil
}

// GetMarket fetches a single market by ticker.
func (c *KalshiApiClient) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is empty")
	}

	body, err := c.get(ctx, "/markets/"+url.PathEscape(ticker), nil)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", ticker, err)
	}

	var resp marketResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("get market %s: %w: %v", ticker, ErrUnexpectedShape, err)
	}

	return &resp.Market, nil
}

// GetOrderBook fetches the resting book for a market.
func (c *KalshiApiClient) GetOrderBook(ctx context.Context, ticker string) (*OrderBook, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is empty")
	}

	body, err := c.get(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", nil)
	if err != nil {
		return nil, fmt.Errorf("get order book %s: %w", ticker, err)
	}

	var resp orderBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("get order book %s: %w: %v", ticker, ErrUnexpectedShape, err)
	}
	if resp.OrderBook == nil {
		return nil, fmt.Errorf("get order book %s: %w: missing orderbook field", ticker, ErrUnexpectedShape)
	}

	return resp.OrderBook, nil
}

func (c *KalshiApiClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.creds != nil {
		// Kalshi signs the path without the query string.
		headers, err := c.creds.SignRequest(http.MethodGet, u.Path)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}
