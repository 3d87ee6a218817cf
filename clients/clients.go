package clients

import (
	"go.uber.org/zap"

	"whalewatch/clients/discord"
	"whalewatch/clients/kafkasink"
	"whalewatch/clients/kalshiapi"
	"whalewatch/clients/kalshievents"
	"whalewatch/clients/notifier"
	"whalewatch/clients/polymarketapi"
	"whalewatch/clients/telegram"
	"whalewatch/clients/webhook"
	"whalewatch/config"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Webhook  *webhook.WebhookClient
	Kafka    *kafkasink.KafkaSink
	Notifier notifier.Notifier // Combined notifier for all channels

	Polymarket   *polymarketapi.PolymarketApiClient
	Kalshi       *kalshiapi.KalshiApiClient
	KalshiEvents *kalshievents.KalshiEventsClient // nil unless the stream is configured
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)
	webhookClient := webhook.NewWebhookClient(logger, cfg)
	kafkaSink := kafkasink.NewKafkaSink(logger, cfg)

	// Typed nil pointers must not reach NewMultiNotifier as non-nil interfaces.
	sinks := []notifier.Notifier{notifier.NewLogNotifier(logger)}
	if discordClient.Enabled() {
		sinks = append(sinks, discordClient)
	}
	if telegramClient.Enabled() {
		sinks = append(sinks, telegramClient)
	}
	if webhookClient != nil {
		sinks = append(sinks, webhookClient)
	}
	if kafkaSink != nil {
		sinks = append(sinks, kafkaSink)
	}

	var creds *kalshievents.Credentials
	if cfg.Kalshi.APIKeyID != "" && cfg.Kalshi.PrivateKeyPath != "" {
		var err error
		creds, err = kalshievents.LoadCredentials(cfg.Kalshi.APIKeyID, cfg.Kalshi.PrivateKeyPath)
		if err != nil && logger != nil {
			logger.Warn("kalshi credentials unusable, falling back to public polling", zap.Error(err))
		}
	}

	c := &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Webhook:    webhookClient,
		Kafka:      kafkaSink,
		Notifier:   notifier.NewMultiNotifier(sinks...),
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
		Kalshi:     kalshiapi.NewKalshiApiClient(logger, cfg, creds),
	}

	// Only create the WebSocket client if configured to use it
	if cfg.Kalshi.StreamConfigured() && creds != nil {
		c.KalshiEvents = kalshievents.NewKalshiEventsClient(logger, cfg.Kalshi.WSURL, creds)
	}

	return c
}
