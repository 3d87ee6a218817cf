package kalshievents

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func TestSignRequest_VerifiesWithPublicKey(t *testing.T) {
	key := testKey(t)
	fixed := time.UnixMilli(1700000000123)
	creds := &Credentials{KeyID: "key-1", PrivateKey: key, now: func() time.Time { return fixed }}

	headers, err := creds.SignRequest("GET", WebSocketPath)
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if headers["KALSHI-ACCESS-KEY"] != "key-1" {
		t.Errorf("unexpected key header: %q", headers["KALSHI-ACCESS-KEY"])
	}
	if headers["KALSHI-ACCESS-TIMESTAMP"] != "1700000000123" {
		t.Errorf("unexpected timestamp header: %q", headers["KALSHI-ACCESS-TIMESTAMP"])
	}

	sig, err := base64.StdEncoding.DecodeString(headers["KALSHI-ACCESS-SIGNATURE"])
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	hashed := sha256.Sum256([]byte("1700000000123GET" + WebSocketPath))
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hashed[:], sig,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestParsePrivateKey_Formats(t *testing.T) {
	key := testKey(t)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if _, err := ParsePrivateKey(pkcs1); err != nil {
		t.Errorf("pkcs1: %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if _, err := ParsePrivateKey(pkcs8); err != nil {
		t.Errorf("pkcs8: %v", err)
	}

	if _, err := ParsePrivateKey([]byte("not pem")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestLoadCredentials(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "kalshi.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	creds, err := LoadCredentials("key-1", path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.KeyID != "key-1" || creds.PrivateKey == nil {
		t.Errorf("unexpected credentials: %+v", creds)
	}

	if _, err := LoadCredentials("", path); err == nil {
		t.Error("expected error for missing key id")
	}
	if _, err := LoadCredentials("key-1", filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewKalshiEventsClient(t *testing.T) {
	client := NewKalshiEventsClient(nil, "wss://example.com/trade-api/ws/v2", nil)

	if client.logger == nil {
		t.Error("expected logger to be set")
	}
	if client.msgCh == nil || client.errCh == nil || client.closeCh == nil {
		t.Error("expected channels to be initialized")
	}
	if client.IsConnected() {
		t.Error("new client must not report connected")
	}
}

func TestConnect_RequiresCredentials(t *testing.T) {
	client := NewKalshiEventsClient(nil, "wss://example.com", nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestClose_NoConnection(t *testing.T) {
	client := NewKalshiEventsClient(nil, "", nil)
	if err := client.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
}

func TestSubscribeTrades_NotConnected(t *testing.T) {
	client := NewKalshiEventsClient(nil, "", nil)
	if err := client.SubscribeTrades([]string{"KXBTC"}); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestParseTrade(t *testing.T) {
	frame := `{"type":"trade","sid":11,"seq":3,"msg":{"market_ticker":"KXHIGHNY-24DEC-T63","trade_id":"abc","count":500,"yes_price":36,"no_price":64,"yes_price_dollars":"0.36","no_price_dollars":"0.64","taker_side":"no","ts":1700000000}}`

	tr := ParseTrade(json.RawMessage(frame))
	if tr == nil {
		t.Fatal("expected trade to parse")
	}
	if tr.Ticker != "KXHIGHNY-24DEC-T63" || tr.TradeID != "abc" || tr.Count != 500 {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.NoPriceDollars != "0.64" || tr.TakerSide != "no" {
		t.Errorf("unexpected prices: %+v", tr)
	}
	if !tr.Time().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected time: %v", tr.Time())
	}
}

func TestParseTrade_NotATrade(t *testing.T) {
	cases := []string{
		`{"type":"ticker","msg":{"market_ticker":"X"}}`,
		`{"type":"trade","msg":{"market_ticker":"X"}}`,
		`{"type":"trade"}`,
		`not json`,
	}
	for _, c := range cases {
		if tr := ParseTrade(json.RawMessage(c)); tr != nil {
			t.Errorf("expected nil for %s, got %+v", c, tr)
		}
	}
}

func TestTradeTime_Units(t *testing.T) {
	sec := int64(1700000000)
	for _, ts := range []int64{sec, sec * 1000, sec * 1000000} {
		tr := &Trade{Ts: ts}
		if !tr.Time().Equal(time.Unix(sec, 0)) {
			t.Errorf("ts=%d: got %v", ts, tr.Time())
		}
	}
	if !(&Trade{}).Time().IsZero() {
		t.Error("zero ts should give zero time")
	}
}

func TestMessageType(t *testing.T) {
	if got := MessageType([]byte(`{"type":"subscribed"}`)); got != "subscribed" {
		t.Errorf("got %s", got)
	}
	if got := MessageType([]byte(`{}`)); got != "empty" {
		t.Errorf("got %s", got)
	}
	if got := MessageType([]byte(`nope`)); got != "unknown" {
		t.Errorf("got %s", got)
	}
}

func TestEmitFrame_FiltersControlMessages(t *testing.T) {
	client := NewKalshiEventsClient(nil, "", nil)

	client.emitFrame([]byte("  "))
	client.emitFrame([]byte(`{"type":"subscribed","msg":{"channel":"trade","sid":1}}`))
	client.emitFrame([]byte(`{"type":"error","msg":{"code":6,"msg":"Already subscribed"}}`))
	client.emitFrame([]byte("\n{\"type\":\"trade\",\"msg\":{\"trade_id\":\"t1\"}}"))

	if len(client.msgCh) != 1 {
		t.Fatalf("expected 1 forwarded message, got %d", len(client.msgCh))
	}
	msg := <-client.msgCh
	if !strings.HasPrefix(string(msg), "{") {
		t.Errorf("expected trimmed frame, got %q", msg)
	}
}

func TestForward_ChannelFull(t *testing.T) {
	client := NewKalshiEventsClient(nil, "", nil)
	client.msgCh = make(chan json.RawMessage, 1)

	client.forward(json.RawMessage(`{"a":1}`))
	client.forward(json.RawMessage(`{"a":2}`))

	if len(client.msgCh) != 1 {
		t.Errorf("expected full channel to drop, got %d", len(client.msgCh))
	}
}

func TestConnect_SignsHandshakeAndStreamsTrades(t *testing.T) {
	key := testKey(t)
	creds := &Credentials{KeyID: "key-1", PrivateKey: key}

	subscribed := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("KALSHI-ACCESS-KEY") != "key-1" || r.Header.Get("KALSHI-ACCESS-SIGNATURE") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd map[string]any
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed","id":1,"msg":{"channel":"trade","sid":1}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","sid":1,"seq":1,"msg":{"market_ticker":"KXBTC","trade_id":"t1","count":10,"yes_price_dollars":"0.50","no_price_dollars":"0.50","taker_side":"yes","ts":1700000000}}`))

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewKalshiEventsClient(nil, "ws"+strings.TrimPrefix(server.URL, "http"), creds)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case cmd := <-subscribed:
		if cmd["cmd"] != "subscribe" {
			t.Errorf("unexpected command: %v", cmd)
		}
		params, _ := cmd["params"].(map[string]any)
		channels, _ := params["channels"].([]any)
		if len(channels) != 1 || channels[0] != "trade" {
			t.Errorf("unexpected channels: %v", params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}

	select {
	case msg := <-client.Messages():
		tr := ParseTrade(msg)
		if tr == nil || tr.TradeID != "t1" {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for trade")
	}

	if client.Stats().MessageCount < 2 {
		t.Errorf("expected at least 2 frames counted, got %d", client.Stats().MessageCount)
	}
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	if err := client.Connect(ctx); err == nil {
		t.Error("expected error when already connected")
	}
}
