package telegram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

func testAlert() notifier.WhaleAlert {
	return notifier.WhaleAlert{
		Platform:    "Polymarket",
		Side:        "BUY",
		Size:        decimal.RequireFromString("40000"),
		Price:       decimal.RequireFromString("0.62"),
		Value:       decimal.RequireFromString("24800"),
		MarketTitle: "Will it_rain?",
		Outcome:     "Yes",
		WalletID:    "0x1234567890abcdef1234567890abcdef12345678",
		WalletURL:   "https://polymarket.com/profile/0x1234567890abcdef1234567890abcdef12345678",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewTelegramClient_NoToken(t *testing.T) {
	cfg := &config.Config{
		IsProd: false,
		Telegram: config.TelegramConfig{
			ProdChatID: "prod-chat",
			BetaChatID: "beta-chat",
		},
	}

	client := NewTelegramClient(zap.NewNop(), cfg)

	if client.Enabled() {
		t.Error("expected client disabled without a token")
	}
	if client.chatID != "beta-chat" {
		t.Errorf("expected beta chat, got: %s", client.chatID)
	}
	if client.apiURL != defaultAPIURL {
		t.Errorf("expected default api url, got: %s", client.apiURL)
	}
}

func TestNewTelegramClient_ProdChat(t *testing.T) {
	cfg := &config.Config{
		IsProd: true,
		Telegram: config.TelegramConfig{
			BotToken:   "token",
			ProdChatID: "prod-chat",
			BetaChatID: "beta-chat",
		},
	}

	client := NewTelegramClient(nil, cfg)

	if client.chatID != "prod-chat" {
		t.Errorf("expected prod chat, got: %s", client.chatID)
	}
	if !client.Enabled() || !client.isProd {
		t.Error("expected enabled prod client")
	}
}

func TestSendWhaleAlert_NotConfigured(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewTelegramClient(nil, &config.Config{Telegram: config.TelegramConfig{
		BotToken: "token",
		APIURL:   server.URL,
	}})

	client.SendWhaleAlert(testAlert())

	if calls.Load() != 0 {
		t.Error("expected no request without a chat id")
	}
}

func TestSendWhaleAlert_Success(t *testing.T) {
	var got map[string]any
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewTelegramClient(zap.NewNop(), &config.Config{Telegram: config.TelegramConfig{
		BotToken:   "test-token",
		BetaChatID: "test-chat",
		APIURL:     server.URL + "/",
	}})

	client.SendWhaleAlert(testAlert())

	if path != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %q", path)
	}
	if got["chat_id"] != "test-chat" || got["parse_mode"] != "Markdown" {
		t.Errorf("unexpected payload %v", got)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "Whale Entry") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiURL:   server.URL,
		botToken: "test-token",
		chatID:   "test-chat",
		client:   server.Client(),
	}

	err := client.sendMessage("hello")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestBuildAlertMessage_FullAlert(t *testing.T) {
	alert := testAlert()
	alert.Activity = &notifier.WalletActivity{TransactionsLastHour: 2, TransactionsLastDay: 3, TotalValueDay: 61000, IsRepeatActor: true}
	alert.Return = &notifier.WhaleReturn{Scenario: "EXIT_AND_RETURN", PreviousSide: "SELL"}
	alert.Profile = &notifier.WhaleProfile{WinCount: 7, LossCount: 3, WinRate: 0.7}
	alert.Anomalies = []string{"Repeat actor: 2 transactions in last hour"}

	msg := buildAlertMessage(alert)

	for _, want := range []string{
		"*🔁 Whale Returns After Exit*",
		"*Market:* Will it\\_rain?",
		"*Outcome:* Yes",
		"[0x1234…345678](https://polymarket.com/profile/",
		"*Side:* 🟢 BUY",
		"*Trade:* 40000.00 @ $0.620",
		"*Value:* $24800.00",
		"*Activity:* 2 txns / 1h, 3 txns / 24h ($61000)",
		"*Position Memory:* EXIT\\_AND\\_RETURN (last SELL)",
		"*Win Rate:* 70.0% (7-3)",
		"- Repeat actor: 2 transactions in last hour",
		"_whalewatch • Polymarket • 2026-03-01 12:00:00 UTC_",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message:\n%s", want, msg)
		}
	}
}

func TestBuildAlertMessage_HiddenWallet(t *testing.T) {
	alert := testAlert()
	alert.Platform = "Kalshi"
	alert.WalletID = ""
	alert.WalletURL = ""
	alert.MarketTitle = ""
	alert.PositionID = "KXBTC:yes"

	msg := buildAlertMessage(alert)

	if strings.Contains(msg, "*Wallet:*") {
		t.Error("expected no wallet line for anonymous trades")
	}
	if !strings.Contains(msg, "*Market:* KXBTC:yes") {
		t.Errorf("expected position id as market fallback:\n%s", msg)
	}
}

func TestAlertTitle(t *testing.T) {
	sell := testAlert()
	sell.Side = "SELL"

	heavy := testAlert()
	heavy.Activity = &notifier.WalletActivity{IsHeavyActor: true, IsRepeatActor: true}

	reversal := testAlert()
	reversal.Activity = heavy.Activity
	reversal.Return = &notifier.WhaleReturn{Scenario: "REVERSAL"}

	tests := []struct {
		name  string
		alert notifier.WhaleAlert
		want  string
	}{
		{"entry", testAlert(), "🐋 Whale Entry"},
		{"exit", sell, "🐋 Whale Exit"},
		{"heavy", heavy, "🐋 Heavy Actor"},
		{"reversal wins", reversal, "🔄 Whale Reversal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alertTitle(tt.alert); got != tt.want {
				t.Errorf("alertTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234…345678"},
		{"0x123456789012", "0x123456789012"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := shortAddress(tt.input); result != tt.expected {
				t.Errorf("shortAddress(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"hello_world", "hello\\_world"},
		{"*bold*", "\\*bold\\*"},
		{"[link]", "\\[link\\]"},
		{"`code`", "\\`code\\`"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := escapeMarkdown(tt.input); result != tt.expected {
				t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestBuildAlertMessage_MarketData(t *testing.T) {
	alert := testAlert()
	alert.MarketContext = &notifier.MarketContext{YesPrice: 0.62, NoPrice: 0.38, Spread: 0.02, Volume24h: 125000}
	alert.OrderBook = &notifier.OrderBook{BestBid: 0.61, BestAsk: 0.63, BidDepth: 9050, AskDepth: 1910}
	alert.TopHolders = []notifier.Holder{
		{Wallet: "0xabcdef0123456789abcdef0123456789abcdef01", Outcome: "Yes", Size: 52000, AvgPrice: 0.41},
	}

	msg := buildAlertMessage(alert)

	for _, want := range []string{
		"*Odds:* Yes 62% / No 38% (spread 2.0%)",
		"*24h Volume:* $125000",
		"*Book:* bid 0.610 ($9050) / ask 0.630 ($1910)",
		"*Top holders*",
		"- 0xabcd…cdef01 Yes: 52000 @ 0.410",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message:\n%s", want, msg)
		}
	}
}
