package app

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	coordinatedHourValue = decimal.NewFromInt(200000)
	extremeHighPrice     = decimal.RequireFromString("0.95")
	extremeLowPrice      = decimal.RequireFromString("0.05")
	largePositionSize    = decimal.NewFromInt(100000)
	majorCapitalValue    = decimal.NewFromInt(100000)
	convictionPrice      = decimal.RequireFromString("0.90")
	convictionSize       = decimal.NewFromInt(50000)
	unlikelyPrice        = decimal.RequireFromString("0.20")
	unlikelyValue        = decimal.NewFromInt(50000)
)

// DetectAnomalies lists human readable indicators for a qualifying trade.
// activity is nil when the platform hides the actor.
func DetectAnomalies(ev TradeEvent, activity *ActivityStats) []string {
	var out []string

	if activity != nil {
		if activity.IsHeavyActor {
			out = append(out, fmt.Sprintf("HEAVY ACTOR: %d transactions worth $%s in last 24h",
				activity.Count24h, activity.Value24h.StringFixed(2)))
		}
		if activity.IsRepeatActor && !activity.IsHeavyActor {
			out = append(out, fmt.Sprintf("Repeat actor: %d transactions in last hour", activity.Count1h))
		}
		if activity.Value1h.GreaterThan(coordinatedHourValue) {
			out = append(out, fmt.Sprintf("Coordinated activity: $%s volume in past hour",
				activity.Value1h.StringFixed(0)))
		}
	}

	price, size, value := ev.Price, ev.Size, ev.Value()
	percent := price.Shift(2).StringFixed(1)

	switch {
	case price.GreaterThan(extremeHighPrice):
		out = append(out, fmt.Sprintf("Extreme confidence bet (%s%% probability)", percent))
	case price.LessThan(extremeLowPrice):
		out = append(out, fmt.Sprintf("Contrarian position (%s%% probability)", percent))
	}

	if size.GreaterThan(largePositionSize) {
		out = append(out, "Exceptionally large position size")
	}
	if value.GreaterThan(majorCapitalValue) {
		out = append(out, fmt.Sprintf("Major capital deployment: $%s", value.StringFixed(0)))
	}
	if price.GreaterThan(convictionPrice) && size.GreaterThan(convictionSize) {
		out = append(out, "High conviction in likely outcome")
	}
	if price.LessThan(unlikelyPrice) && value.GreaterThan(unlikelyValue) {
		out = append(out, "Significant bet on unlikely outcome - possible hedge or information asymmetry")
	}

	return out
}
