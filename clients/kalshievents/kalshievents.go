package kalshievents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type KalshiEventsClient struct {
	logger *zap.Logger

	wsURL        string
	creds        *Credentials
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan json.RawMessage
	errCh   chan error
	closeCh chan struct{}

	cmdID           int64
	msgCount        uint64
	lastMsgUnixNano int64
}

func NewKalshiEventsClient(logger *zap.Logger, wsURL string, creds *Credentials) *KalshiEventsClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KalshiEventsClient{
		logger:       logger,
		wsURL:        wsURL,
		creds:        creds,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingInterval: 10 * time.Second,

		msgCh:   make(chan json.RawMessage, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the trade-api websocket with signed handshake headers and
// subscribes to the public trade channel for every market.
func (c *KalshiEventsClient) Connect(ctx context.Context) error {
	if c.creds == nil {
		return fmt.Errorf("kalshi websocket requires api credentials")
	}

	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	header, err := c.creds.handshakeHeader()
	if err != nil {
		return fmt.Errorf("sign handshake: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial kalshi ws: %w", err)
	}

	c.logger.Info("kalshi ws dialed", zap.String("url", c.wsURL))

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn(
			"kalshi ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	closeCh := c.closeCh
	c.connMu.Unlock()

	if err := c.SubscribeTrades(nil); err != nil {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("send initial subscription: %w", err)
	}

	go c.readLoop()
	go c.pingLoop(closeCh)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-closeCh:
		}
	}()

	return nil
}

// SubscribeTrades subscribes to the trade channel. An empty ticker list
// subscribes to all markets.
func (c *KalshiEventsClient) SubscribeTrades(tickers []string) error {
	params := map[string]any{
		"channels": []string{"trade"},
	}
	if len(tickers) > 0 {
		params["market_tickers"] = tickers
	}

	cmd := map[string]any{
		"id":     atomic.AddInt64(&c.cmdID, 1),
		"cmd":    "subscribe",
		"params": params,
	}

	c.logger.Info("kalshi ws subscribing", zap.Any("payload", cmd))
	return c.writeJSON(cmd)
}

func (c *KalshiEventsClient) Messages() <-chan json.RawMessage {
	return c.msgCh
}

func (c *KalshiEventsClient) Errors() <-chan error {
	return c.errCh
}

// IsConnected reports whether a connection is currently open.
func (c *KalshiEventsClient) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

type WSStats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *KalshiEventsClient) Stats() WSStats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

func (c *KalshiEventsClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	// Fresh channel so the reconnector can call Connect again.
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *KalshiEventsClient) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *KalshiEventsClient) pingLoop(closeCh <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn != nil {
				c.writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.writeMu.Unlock()
			}

		case <-closeCh:
			return
		}
	}
}

func (c *KalshiEventsClient) readLoop() {
	c.logger.Info("kalshi ws read loop started")

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.logger.Info("kalshi ws read loop exiting: conn is nil")
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("kalshi ws read loop exiting: read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.emitFrame(b)
	}
}

func (c *KalshiEventsClient) emitFrame(b []byte) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return
	}

	switch MessageType(trimmed) {
	case "error":
		c.logger.Warn("kalshi ws error frame", zap.ByteString("frame", trimmed))
		return
	case "subscribed":
		c.logger.Info("kalshi ws subscription confirmed", zap.ByteString("frame", trimmed))
		return
	}

	c.forward(json.RawMessage(append([]byte(nil), trimmed...)))
}

func (c *KalshiEventsClient) forward(msg json.RawMessage) {
	select {
	case c.msgCh <- msg:
	default:
		c.logger.Warn("dropping ws message: msgCh full")
	}
}

// Trade is the payload of a "trade" channel message.
type Trade struct {
	Ticker          string `json:"market_ticker"`
	TradeID         string `json:"trade_id"`
	Count           int64  `json:"count"`
	YesPrice        int64  `json:"yes_price"` // cents
	NoPrice         int64  `json:"no_price"`  // cents
	YesPriceDollars string `json:"yes_price_dollars"`
	NoPriceDollars  string `json:"no_price_dollars"`
	TakerSide       string `json:"taker_side"`
	Ts              int64  `json:"ts"`
}

type envelope struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// MessageType extracts the envelope type, or "unknown" when the frame is not JSON.
func MessageType(data []byte) string {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "unknown"
	}
	if m.Type == "" {
		return "empty"
	}
	return m.Type
}

// ParseTrade decodes a trade frame. It returns nil for any other message.
func ParseTrade(data json.RawMessage) *Trade {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Type != "trade" || len(env.Msg) == 0 {
		return nil
	}

	var tr Trade
	if err := json.Unmarshal(env.Msg, &tr); err != nil {
		return nil
	}
	if tr.TradeID == "" {
		return nil
	}
	return &tr
}

// Time converts the exchange timestamp, which is sent in seconds.
func (t *Trade) Time() time.Time {
	switch {
	case t.Ts <= 0:
		return time.Time{}
	case t.Ts > 1e15:
		return time.UnixMicro(t.Ts)
	case t.Ts > 1e12:
		return time.UnixMilli(t.Ts)
	default:
		return time.Unix(t.Ts, 0)
	}
}
