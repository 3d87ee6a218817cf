package notifier

import (
	"go.uber.org/zap"
)

// LogNotifier writes each alert as a structured log line. It stands in for
// a console presenter and is always enabled.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendWhaleAlert(alert WhaleAlert) {
	fields := []zap.Field{
		zap.String("platform", alert.Platform),
		zap.String("type", string(alert.Type())),
		zap.String("side", alert.Side),
		zap.String("value", alert.Value.StringFixed(2)),
		zap.String("price", alert.Price.String()),
		zap.String("size", alert.Size.String()),
		zap.String("market", alert.MarketTitle),
		zap.String("outcome", alert.Outcome),
	}
	if alert.WalletID != "" {
		fields = append(fields, zap.String("wallet", alert.WalletID))
	}
	if alert.Activity != nil {
		fields = append(fields,
			zap.Int("txns1h", alert.Activity.TransactionsLastHour),
			zap.Int("txns24h", alert.Activity.TransactionsLastDay),
			zap.Bool("repeat", alert.Activity.IsRepeatActor),
			zap.Bool("heavy", alert.Activity.IsHeavyActor),
		)
	}
	if alert.Return != nil {
		fields = append(fields, zap.String("scenario", alert.Return.Scenario))
	}
	if alert.Profile != nil {
		fields = append(fields,
			zap.Int("uniqueMarkets", alert.Profile.UniqueMarkets),
			zap.Float64("winRate", alert.Profile.WinRate),
		)
	}
	if mc := alert.MarketContext; mc != nil {
		fields = append(fields,
			zap.Float64("yesPrice", mc.YesPrice),
			zap.Float64("noPrice", mc.NoPrice),
			zap.Float64("spread", mc.Spread),
		)
	}
	if ob := alert.OrderBook; ob != nil {
		fields = append(fields,
			zap.Float64("bidDepth", ob.BidDepth),
			zap.Float64("askDepth", ob.AskDepth),
		)
	}
	if len(alert.TopHolders) > 0 {
		fields = append(fields, zap.String("topHolder", alert.TopHolders[0].Wallet))
	}
	if len(alert.Anomalies) > 0 {
		fields = append(fields, zap.Strings("anomalies", alert.Anomalies))
	}

	n.logger.Info("whale alert", fields...)
}

func (n *LogNotifier) Close() error {
	return nil
}
