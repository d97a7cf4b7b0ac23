package order

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/model"
)

func newParams() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

// Property 4: within an OCO pair at most one leg triggers, and once one does
// the other is cancelled, for any tick sequence.
func TestProperty_OCOAtMostOneLegTriggers(t *testing.T) {
	properties := gopter.NewProperties(newParams())

	properties.Property("oco legs are mutually exclusive", prop.ForAll(
		func(limitCents, stopCents int64, sell bool, ticks []int64) bool {
			f := newFixture(t, 1_000_000)
			f.ledger.ExecuteTrade(assetID, model.SideBuy, d(5), d(50))

			side := model.SideBuy
			if sell {
				side = model.SideSell
			}
			limit := decimal.New(limitCents, -2)
			stop := decimal.New(stopCents, -2)
			pl, err := f.engine.Place(model.OrderSpec{
				AssetID: assetID, Type: model.KindOCO, Side: side,
				Quantity: d(1), LimitPrice: &limit, TriggerPrice: &stop,
			})
			if err != nil || len(pl.Orders) != 2 {
				return false
			}

			for _, c := range ticks {
				f.engine.OnPriceTick(assetID, decimal.New(c, -2))
			}

			triggered, cancelled := 0, 0
			for _, o := range f.engine.History() {
				switch o.Status {
				case model.OrderTriggered:
					triggered++
				case model.OrderCancelled:
					cancelled++
				}
			}
			if triggered > 1 {
				return false
			}
			if triggered == 1 {
				return cancelled == 1 && len(f.engine.Active()) == 0
			}
			return cancelled == 0 && len(f.engine.Active()) == 2
		},
		gen.Int64Range(100, 10_000),
		gen.Int64Range(100, 10_000),
		gen.Bool(),
		gen.SliceOf(gen.Int64Range(1, 12_000)),
	))

	properties.TestingRun(t)
}
