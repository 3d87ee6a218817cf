package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

func testAlert() notifier.WhaleAlert {
	return notifier.WhaleAlert{
		Platform:    "Polymarket",
		Side:        "SELL",
		Size:        decimal.NewFromInt(50000),
		Price:       decimal.RequireFromString("0.9"),
		Value:       decimal.NewFromInt(45000),
		MarketTitle: "Fed cuts <50bps>",
		WalletID:    "0xabc",
		Activity:    &notifier.WalletActivity{TransactionsLastHour: 1, TransactionsLastDay: 5, IsHeavyActor: true},
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewWebhookClient_Disabled(t *testing.T) {
	if c := NewWebhookClient(nil, &config.Config{}); c != nil {
		t.Error("expected nil client without URL")
	}
}

func TestNewWebhookClient_DefaultTimeout(t *testing.T) {
	c := NewWebhookClient(nil, &config.Config{Webhook: config.WebhookConfig{URL: "http://example.com"}})
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout: %v", c.httpClient.Timeout)
	}
}

func TestPost_Payload(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}
		var m map[string]any
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Errorf("bad json: %v", err)
		}
		received <- m
	}))
	defer server.Close()

	c := NewWebhookClient(nil, &config.Config{Webhook: config.WebhookConfig{URL: server.URL}})
	if err := c.Post(context.Background(), testAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := <-received
	if m["alert_type"] != "WHALE_EXIT" || m["action"] != "SELL" {
		t.Errorf("unexpected type/action: %v %v", m["alert_type"], m["action"])
	}
	if m["market_title"] != "Fed cuts 50bps" {
		t.Errorf("expected escaped title, got %v", m["market_title"])
	}
	if m["price_percent"] != float64(90) {
		t.Errorf("unexpected price_percent: %v", m["price_percent"])
	}
	activity, ok := m["wallet_activity"].(map[string]any)
	if !ok || activity["is_heavy_actor"] != true {
		t.Errorf("unexpected wallet_activity: %v", m["wallet_activity"])
	}
}

func TestPost_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewWebhookClient(nil, &config.Config{Webhook: config.WebhookConfig{URL: server.URL}})
	if err := c.Post(context.Background(), testAlert()); err == nil {
		t.Error("expected error for 500")
	}

	// SendWhaleAlert swallows the error.
	c.SendWhaleAlert(testAlert())
}

func TestPost_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewWebhookClient(nil, &config.Config{Webhook: config.WebhookConfig{URL: server.URL, Timeout: 20 * time.Millisecond}})
	if err := c.Post(context.Background(), testAlert()); err == nil {
		t.Error("expected timeout error")
	}
}
