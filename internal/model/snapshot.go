package model

import (
	"github.com/shopspring/decimal"
)

// HoldingView is a holding marked to the latest price.
type HoldingView struct {
	Holding
	LastPrice     decimal.Decimal `json:"last_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// MarketSummary is the equal-weighted index over every listed asset, compared
// against the catalog reference prices.
type MarketSummary struct {
	Index          decimal.Decimal `json:"index"`
	ReferenceIndex decimal.Decimal `json:"reference_index"`
	Change         decimal.Decimal `json:"change"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
	Volume         decimal.Decimal `json:"volume"`
	Assets         int             `json:"assets"`
}

// Snapshot is the full read model handed to the UI layer.
type Snapshot struct {
	Owner         string                     `json:"owner"`
	Balance       decimal.Decimal            `json:"balance"`
	Holdings      []HoldingView              `json:"holdings"`
	Equity        decimal.Decimal            `json:"equity"`
	Transactions  []Transaction              `json:"transactions"`
	ActiveOrders  []ActiveOrder              `json:"active_orders"`
	Alerts        []PriceAlert               `json:"alerts"`
	Notifications []Notification             `json:"notifications"`
	UnreadCount   int                        `json:"unread_count"`
	Certificates  []Certificate              `json:"certificates"`
	Watchlist     []string                   `json:"watchlist"`
	ImpactTonnes  decimal.Decimal            `json:"impact_tonnes"`
	Prices        map[string]decimal.Decimal `json:"prices"`
	Market        MarketSummary              `json:"market"`
}
