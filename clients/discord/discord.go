package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	client := &DiscordClient{
		logger:    logger,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Info("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return client
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return client
	}
	client.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return client
}

// Enabled reports whether a session exists.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil
}

// SendWhaleAlert sends a rich embedded whale alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendWhaleAlert(alert notifier.WhaleAlert) {
	if dc.session == nil {
		return
	}

	embed := dc.buildWhaleEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Debug("sent discord whale alert",
		zap.String("platform", alert.Platform),
		zap.String("market", alert.MarketTitle),
	)
}

func (dc *DiscordClient) buildWhaleEmbed(alert notifier.WhaleAlert) *discordgo.MessageEmbed {
	color := 0x2ECC71 // Green for entries
	sideEmoji := "🟢"
	if alert.IsSell() {
		color = 0xE74C3C
		sideEmoji = "🔴"
	}

	walletDisplay := "hidden"
	if alert.WalletID != "" {
		walletDisplay = shortAddress(alert.WalletID)
		if alert.WalletURL != "" {
			walletDisplay = fmt.Sprintf("[%s](%s)", walletDisplay, alert.WalletURL)
		}
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Wallet",
			Value:  walletDisplay,
			Inline: true,
		},
		{
			Name:   "Side",
			Value:  fmt.Sprintf("%s %s", sideEmoji, strings.ToUpper(alert.Side)),
			Inline: true,
		},
		{
			Name:   "Trade",
			Value:  fmt.Sprintf("%s @ $%s", alert.Size.StringFixed(2), alert.Price.StringFixed(3)),
			Inline: true,
		},
		{
			Name:   "Value",
			Value:  "$" + alert.Value.StringFixed(2),
			Inline: true,
		},
		{
			Name:   "Activity (1h / 24h)",
			Value:  activityString(alert.Activity),
			Inline: true,
		},
		{
			Name:   "Win Rate (resolved)",
			Value:  winRateString(alert.Profile),
			Inline: true,
		},
	}

	if alert.Return != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Position Memory",
			Value:  returnString(alert.Return),
			Inline: false,
		})
	}

	if mc := alert.MarketContext; mc != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Odds (Yes / No)",
			Value:  fmt.Sprintf("%.0f%% / %.0f%%\nspread %.1f%%", mc.YesPrice*100, mc.NoPrice*100, mc.Spread*100),
			Inline: true,
		})
	}
	if ob := alert.OrderBook; ob != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Order Book",
			Value:  fmt.Sprintf("bid %.3f ($%.0f)\nask %.3f ($%.0f)", ob.BestBid, ob.BidDepth, ob.BestAsk, ob.AskDepth),
			Inline: true,
		})
	}
	if len(alert.TopHolders) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Top Holders",
			Value:  holdersString(alert.TopHolders),
			Inline: false,
		})
	}

	title := alert.MarketTitle
	if title == "" {
		title = alert.PositionID
	}
	description := fmt.Sprintf("**%s**", title)
	if alert.Outcome != "" {
		description += fmt.Sprintf("\nOutcome: %s", alert.Outcome)
	}
	if len(alert.Anomalies) > 0 {
		description += "\n\n**Anomaly indicators**"
		for _, a := range alert.Anomalies {
			description += "\n- " + a
		}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	footerText := fmt.Sprintf("whalewatch * %s * %s", alert.Platform, ts.UTC().Format("2006-01-02 15:04:05 MST"))

	return &discordgo.MessageEmbed{
		Title:       buildAlertTitle(alert),
		URL:         alert.WalletURL,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func buildAlertTitle(alert notifier.WhaleAlert) string {
	heavy := alert.Activity != nil && alert.Activity.IsHeavyActor
	repeat := alert.Activity != nil && alert.Activity.IsRepeatActor && !heavy
	scenario := ""
	if alert.Return != nil && alert.Return.Scenario != "NEW_ENTRY" {
		scenario = alert.Return.Scenario
	}

	count := 0
	for _, b := range []bool{heavy, repeat, scenario != "", len(alert.Anomalies) >= 3} {
		if b {
			count++
		}
	}
	if count >= 3 {
		return "🚨 Multiple Alert Triggers"
	}

	switch scenario {
	case "EXIT_AND_RETURN":
		return "🔁 Whale Returns After Exit"
	case "REVERSAL":
		return "🔄 Whale Reversal"
	case "RE_ENTRY":
		if heavy {
			return "🐋 Heavy Actor Re-Entry"
		}
		return "➕ Whale Re-Entry"
	}

	if heavy {
		return "🐋 Heavy Actor"
	}
	if repeat {
		return "⚡ Repeat Actor"
	}
	if alert.IsSell() {
		return "🐋 Whale Exit"
	}
	return "🐋 Whale Entry"
}

func activityString(a *notifier.WalletActivity) string {
	if a == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d / %d txns\n$%.0f / $%.0f", a.TransactionsLastHour, a.TransactionsLastDay, a.TotalValueHour, a.TotalValueDay)
}

func winRateString(p *notifier.WhaleProfile) string {
	if p == nil || p.WinCount+p.LossCount == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%% (%d-%d)", p.WinRate*100, p.WinCount, p.LossCount)
}

func holdersString(holders []notifier.Holder) string {
	lines := make([]string, 0, len(holders))
	for _, h := range holders {
		lines = append(lines, fmt.Sprintf("%s %s: %.0f @ %.3f", shortAddress(h.Wallet), h.Outcome, h.Size, h.AvgPrice))
	}
	return strings.Join(lines, "\n")
}

func returnString(r *notifier.WhaleReturn) string {
	if r.PreviousSide == "" {
		return r.Scenario
	}
	ago := time.Since(r.PreviousSeenAt).Truncate(time.Minute)
	return fmt.Sprintf("%s (last %s %s ago)", r.Scenario, r.PreviousSide, ago)
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
