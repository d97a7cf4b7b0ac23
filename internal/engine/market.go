package engine

import (
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// AssetView is a catalog listing with its latest price and the move since the
// reference price. Volume counts executed buys and sells in the journal.
type AssetView struct {
	credit.Asset
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Change         decimal.Decimal `json:"change"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
	Volume         decimal.Decimal `json:"volume"`
}

// Market returns the market index summary.
func (e *Engine) Market() model.MarketSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market()
}

// view must be called with e.mu held.
func (e *Engine) view(a credit.Asset, volume map[string]decimal.Decimal) AssetView {
	ref := a.Price
	if p, ok := e.prices[a.ID]; ok {
		a.Price = p
	}
	vol, ok := volume[a.ID]
	if !ok {
		vol = decimal.Zero
	}
	return AssetView{
		Asset:          a,
		ReferencePrice: ref,
		Change:         a.Price.Sub(ref),
		ChangePercent:  percentChange(a.Price, ref),
		Volume:         vol,
	}
}

// market must be called with e.mu held.
func (e *Engine) market() model.MarketSummary {
	assets := e.catalog.List()
	last, ref, volume := decimal.Zero, decimal.Zero, decimal.Zero
	for _, a := range assets {
		ref = ref.Add(a.Price)
		if p, ok := e.prices[a.ID]; ok {
			last = last.Add(p)
		} else {
			last = last.Add(a.Price)
		}
	}
	for _, v := range e.journal.TradedVolume() {
		volume = volume.Add(v)
	}

	m := model.MarketSummary{
		Index:          decimal.Zero,
		ReferenceIndex: decimal.Zero,
		Change:         decimal.Zero,
		ChangePercent:  decimal.Zero,
		Volume:         volume,
		Assets:         len(assets),
	}
	if len(assets) == 0 {
		return m
	}
	n := decimal.NewFromInt(int64(len(assets)))
	m.Index = last.Div(n).Round(2)
	m.ReferenceIndex = ref.Div(n).Round(2)
	m.Change = m.Index.Sub(m.ReferenceIndex)
	m.ChangePercent = percentChange(last, ref)
	return m
}

// percentChange is (last-ref)/ref in percent, rounded to two places.
func percentChange(last, ref decimal.Decimal) decimal.Decimal {
	if ref.IsZero() {
		return decimal.Zero
	}
	return last.Sub(ref).Div(ref).Mul(hundred).Round(2)
}
