package polymarketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"whalewatch/config"
)

// ErrUnexpectedShape is returned when a 2xx response body cannot be decoded
// into the expected structure.
var ErrUnexpectedShape = errors.New("unexpected response shape")

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	dataBaseURL  string
	gammaBaseURL string
	clobBaseURL  string
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dataBaseURL:  cfg.Polymarket.DataAPIURL,
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
		clobBaseURL:  cfg.Polymarket.ClobAPIURL,
	}
}

// ---- Gamma API types ----

// GammaMarket is the subset of a Gamma market used for pricing context.
type GammaMarket struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Question    string `json:"question"`
	ConditionID string `json:"conditionId"`

	// Outcome prices arrive either as an array or as a JSON-encoded string.
	OutcomePrices json.RawMessage `json:"outcomePrices"`

	BestBid      float64 `json:"bestBid"`
	BestAsk      float64 `json:"bestAsk"`
	Spread       float64 `json:"spread"`
	Volume24hr   float64 `json:"volume24hr"`
	LiquidityNum float64 `json:"liquidityNum"`

	Active bool `json:"active"`
	Closed bool `json:"closed"`
}

// GetOutcomePrices parses the OutcomePrices field and returns prices.
func (m *GammaMarket) GetOutcomePrices() []float64 {
	if len(m.OutcomePrices) == 0 {
		return nil
	}

	parseStrings := func(strs []string) []float64 {
		prices := make([]float64, len(strs))
		for i, s := range strs {
			fmt.Sscanf(s, "%f", &prices[i])
		}
		return prices
	}

	var prices []float64
	if err := json.Unmarshal(m.OutcomePrices, &prices); err == nil {
		return prices
	}

	var priceStrs []string
	if err := json.Unmarshal(m.OutcomePrices, &priceStrs); err == nil {
		return parseStrings(priceStrs)
	}

	// A JSON string containing an array, e.g. "[\"0.6\", \"0.4\"]"
	var jsonStr string
	if err := json.Unmarshal(m.OutcomePrices, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &prices); err == nil {
			return prices
		}
		if err := json.Unmarshal([]byte(jsonStr), &priceStrs); err == nil {
			return parseStrings(priceStrs)
		}
	}

	return nil
}

// ---- CLOB types ----

// BookLevel is one price level of the CLOB book. Both fields are decimal strings.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBook is the CLOB book of one outcome token.
type OrderBook struct {
	Market  string      `json:"market"`
	AssetID string      `json:"asset_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
}

// ---- Data API types (minimal; add fields as you need) ----

// Trade is one fill from the public /trades feed.
type Trade struct {
	ID              string  `json:"id"`
	ProxyWallet     string  `json:"proxyWallet"`
	User            string  `json:"user"`
	Maker           string  `json:"maker"`
	Side            string  `json:"side"` // BUY or SELL
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"`
	TransactionHash string  `json:"transactionHash"`

	// Market metadata
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Outcome string `json:"outcome"`

	// Trader profile
	Name      string `json:"name"`
	Pseudonym string `json:"pseudonym"`
}

// Key returns a stable identifier for the trade. The feed does not always
// carry an id, so fall back to the fill's distinguishing fields.
func (t Trade) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return fmt.Sprintf("%s:%s:%s:%g:%g", t.TransactionHash, t.Asset, t.Side, t.Size, t.Price)
}

// Activity is a wallet activity row.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // TRADE, SPLIT, MERGE, REDEEM, REWARD, CONVERSION
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Side            string  `json:"side"`
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
}

// ClosedPosition is a resolved or exited position of a wallet.
type ClosedPosition struct {
	ProxyWallet string  `json:"proxyWallet"`
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	AvgPrice    float64 `json:"avgPrice"`
	TotalBought float64 `json:"totalBought"`
	RealizedPnl float64 `json:"realizedPnl"`
	Timestamp   int64   `json:"timestamp"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// Position is an open position of a wallet.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
}

// GetRecentTrades fetches the newest trades across all markets, newest first.
// The endpoint has answered both with a bare array and with {"data": [...]};
// anything else yields ErrUnexpectedShape.
func (c *PolymarketApiClient) GetRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	body, err := c.doGet(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}

	trades, err := decodeTrades(body)
	if err != nil {
		c.logger.Warn("polymarket trades response not understood",
			zap.Int("bytes", len(body)),
			zap.Error(err),
		)
		return nil, err
	}

	return trades, nil
}

func decodeTrades(body []byte) ([]Trade, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedShape)
	}

	switch trimmed[0] {
	case '[':
		var trades []Trade
		if err := json.Unmarshal(trimmed, &trades); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return trades, nil
	case '{':
		var wrapped struct {
			Data *[]Trade `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		if wrapped.Data == nil {
			return nil, fmt.Errorf("%w: object without data field", ErrUnexpectedShape)
		}
		return *wrapped.Data, nil
	}

	return nil, fmt.Errorf("%w: leading byte %q", ErrUnexpectedShape, trimmed[0])
}

// GetMarketByConditionID fetches a specific market by its condition ID.
func (c *PolymarketApiClient) GetMarketByConditionID(
	ctx context.Context,
	conditionID string,
) (*GammaMarket, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("condition_ids", conditionID)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var markets []GammaMarket
	if err := c.getJSON(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}

	return &markets[0], nil
}

// GetOrderBook fetches the CLOB book for an outcome token.
func (c *PolymarketApiClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, fmt.Errorf("tokenID is empty")
	}

	u, err := url.Parse(c.clobBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid clobBaseURL: %w", err)
	}
	u.Path = "/book"

	q := u.Query()
	q.Set("token_id", tokenID)
	u.RawQuery = q.Encode()

	var book OrderBook
	if err := c.getJSON(ctx, u.String(), &book); err != nil {
		return nil, fmt.Errorf("get order book: %w", err)
	}

	return &book, nil
}

// GetMarketTrades fetches one page of trades for a single market, newest first.
func (c *PolymarketApiClient) GetMarketTrades(
	ctx context.Context,
	conditionID string,
	limit int,
	offset int,
) ([]Trade, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	if limit <= 0 {
		limit = 500
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("market", conditionID)
	q.Set("limit", fmt.Sprintf("%d", limit))
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}
	u.RawQuery = q.Encode()

	body, err := c.doGet(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("get market trades: %w", err)
	}

	return decodeTrades(body)
}

// GetUserActivity fetches activity for a specific wallet address.
func (c *PolymarketApiClient) GetUserActivity(
	ctx context.Context,
	wallet string,
	limit int,
) ([]Activity, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := c.walletURL("/activity", wallet)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var activity []Activity
	if err := c.getJSON(ctx, u.String(), &activity); err != nil {
		return nil, fmt.Errorf("get user activity: %w", err)
	}

	return activity, nil
}

// GetClosedPositions fetches closed positions for a specific wallet address.
func (c *PolymarketApiClient) GetClosedPositions(
	ctx context.Context,
	wallet string,
	limit int,
	offset int,
) ([]ClosedPosition, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := c.walletURL("/closed-positions", wallet)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}
	u.RawQuery = q.Encode()

	var positions []ClosedPosition
	if err := c.getJSON(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get closed positions: %w", err)
	}

	return positions, nil
}

// GetPositions fetches open positions for a specific wallet address.
func (c *PolymarketApiClient) GetPositions(
	ctx context.Context,
	wallet string,
	limit int,
) ([]Position, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := c.walletURL("/positions", wallet)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	// Include positions of any size
	q.Set("sizeThreshold", "0")
	u.RawQuery = q.Encode()

	var positions []Position
	if err := c.getJSON(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	return positions, nil
}

func (c *PolymarketApiClient) walletURL(path, wallet string) (*url.URL, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = path
	q := u.Query()
	q.Set("user", wallet)
	u.RawQuery = q.Encode()
	return u, nil
}

// getJSON performs a GET and decodes the JSON response into dest.
func (c *PolymarketApiClient) getJSON(ctx context.Context, url string, dest any) error {
	body, err := c.doGet(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

// doGet performs a GET request and returns the body of a 2xx response.
func (c *PolymarketApiClient) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

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
