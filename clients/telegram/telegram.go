package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

const defaultAPIURL = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	apiURL   string
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	apiURL := strings.TrimRight(cfg.Telegram.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Info("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			apiURL: apiURL,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		apiURL:   apiURL,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a token and chat are configured.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendWhaleAlert sends a whale alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendWhaleAlert(alert notifier.WhaleAlert) {
	if !tc.Enabled() {
		return
	}

	if err := tc.sendMessage(buildAlertMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Debug("sent telegram whale alert",
		zap.String("platform", alert.Platform),
		zap.String("market", alert.MarketTitle),
	)
}

func buildAlertMessage(alert notifier.WhaleAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(alertTitle(alert))))

	// Market info
	title := alert.MarketTitle
	if title == "" {
		title = alert.PositionID
	}
	sb.WriteString(fmt.Sprintf("*Market:* %s\n", escapeMarkdown(title)))
	if alert.Outcome != "" {
		sb.WriteString(fmt.Sprintf("*Outcome:* %s\n", escapeMarkdown(alert.Outcome)))
	}
	sb.WriteString("\n")

	// Wallet info
	if alert.WalletID != "" {
		wallet := shortAddress(alert.WalletID)
		if alert.WalletURL != "" {
			sb.WriteString(fmt.Sprintf("*Wallet:* [%s](%s)\n", escapeMarkdown(wallet), alert.WalletURL))
		} else {
			sb.WriteString(fmt.Sprintf("*Wallet:* %s\n", escapeMarkdown(wallet)))
		}
	}

	// Trade details
	sideEmoji := "🟢"
	if alert.IsSell() {
		sideEmoji = "🔴"
	}
	sb.WriteString(fmt.Sprintf("*Side:* %s %s\n", sideEmoji, strings.ToUpper(alert.Side)))
	sb.WriteString(fmt.Sprintf("*Trade:* %s @ $%s\n", alert.Size.StringFixed(2), alert.Price.StringFixed(3)))
	sb.WriteString(fmt.Sprintf("*Value:* $%s\n", alert.Value.StringFixed(2)))

	if a := alert.Activity; a != nil {
		sb.WriteString(fmt.Sprintf("*Activity:* %d txns / 1h, %d txns / 24h ($%.0f)\n",
			a.TransactionsLastHour, a.TransactionsLastDay, a.TotalValueDay))
	}
	if r := alert.Return; r != nil && r.Scenario != "NEW_ENTRY" {
		sb.WriteString(fmt.Sprintf("*Position Memory:* %s (last %s)\n", escapeMarkdown(r.Scenario), r.PreviousSide))
	}
	if p := alert.Profile; p != nil && p.WinCount+p.LossCount > 0 {
		sb.WriteString(fmt.Sprintf("*Win Rate:* %.1f%% (%d-%d)\n", p.WinRate*100, p.WinCount, p.LossCount))
	}

	if mc := alert.MarketContext; mc != nil {
		sb.WriteString(fmt.Sprintf("\n*Odds:* Yes %.0f%% / No %.0f%% (spread %.1f%%)\n", mc.YesPrice*100, mc.NoPrice*100, mc.Spread*100))
		sb.WriteString(fmt.Sprintf("*24h Volume:* $%.0f\n", mc.Volume24h))
	}
	if ob := alert.OrderBook; ob != nil {
		sb.WriteString(fmt.Sprintf("*Book:* bid %.3f ($%.0f) / ask %.3f ($%.0f)\n", ob.BestBid, ob.BidDepth, ob.BestAsk, ob.AskDepth))
	}
	if len(alert.TopHolders) > 0 {
		sb.WriteString("\n*Top holders*\n")
		for _, h := range alert.TopHolders {
			sb.WriteString(fmt.Sprintf("- %s %s: %.0f @ %.3f\n",
				escapeMarkdown(shortAddress(h.Wallet)), escapeMarkdown(h.Outcome), h.Size, h.AvgPrice))
		}
	}

	if len(alert.Anomalies) > 0 {
		sb.WriteString("\n*Anomaly indicators*\n")
		for _, a := range alert.Anomalies {
			sb.WriteString("- " + escapeMarkdown(a) + "\n")
		}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_whalewatch • %s • %s_", alert.Platform, ts.UTC().Format("2006-01-02 15:04:05 MST")))

	return sb.String()
}

func alertTitle(alert notifier.WhaleAlert) string {
	if alert.Return != nil {
		switch alert.Return.Scenario {
		case "EXIT_AND_RETURN":
			return "🔁 Whale Returns After Exit"
		case "REVERSAL":
			return "🔄 Whale Reversal"
		}
	}
	if alert.Activity != nil && alert.Activity.IsHeavyActor {
		return "🐋 Heavy Actor"
	}
	if alert.Activity != nil && alert.Activity.IsRepeatActor {
		return "⚡ Repeat Actor"
	}
	if alert.IsSell() {
		return "🐋 Whale Exit"
	}
	return "🐋 Whale Entry"
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiURL, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":                  tc.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
