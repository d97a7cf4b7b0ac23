package order

import (
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/model"
)

// Triggered is the single directional rule for every conditional order:
// a buy fires once price <= threshold, a sell once price >= threshold.
// Stop-loss orders invert the direction (a protective sell fires when price
// falls to the stop, a buy-stop when price rises to it).
func Triggered(side model.Side, kind model.OrderKind, threshold, price decimal.Decimal) bool {
	buyDirection := side == model.SideBuy
	if kind == model.KindStopLoss {
		buyDirection = !buyDirection
	}
	if buyDirection {
		return price.LessThanOrEqual(threshold)
	}
	return price.GreaterThanOrEqual(threshold)
}

// Threshold is the price an order is evaluated against: the trigger price
// for stop-loss orders, the limit price for everything else.
func Threshold(o model.ActiveOrder) decimal.Decimal {
	if o.Type == model.KindStopLoss {
		if o.TriggerPrice != nil {
			return *o.TriggerPrice
		}
		return decimal.Zero
	}
	if o.LimitPrice != nil {
		return *o.LimitPrice
	}
	return decimal.Zero
}
