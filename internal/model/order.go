package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the closed set of order types.
type OrderKind string

const (
	KindMarket     OrderKind = "market"
	KindLimit      OrderKind = "limit"
	KindStopLoss   OrderKind = "stop-loss"
	KindTakeProfit OrderKind = "take-profit"
	KindOCO        OrderKind = "oco"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case KindMarket, KindLimit, KindStopLoss, KindTakeProfit, KindOCO:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of a conditional order.
type OrderStatus string

const (
	OrderActive    OrderStatus = "active"
	OrderTriggered OrderStatus = "triggered"
	OrderCancelled OrderStatus = "cancelled"
)

// ActiveOrder is a standing conditional order. OCO legs reference each
// other by id through LinkedOrderID.
type ActiveOrder struct {
	ID            string           `json:"id"`
	AssetID       string           `json:"asset_id"`
	AssetTicker   string           `json:"asset_ticker"`
	Type          OrderKind        `json:"type"`
	Side          Side             `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	TriggerPrice  *decimal.Decimal `json:"trigger_price,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	Status        OrderStatus      `json:"status"`
	LinkedOrderID string           `json:"linked_order_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

// OrderSpec is a placement request.
type OrderSpec struct {
	AssetID      string           `json:"asset_id" yaml:"asset_id"`
	Type         OrderKind        `json:"type" yaml:"type"`
	Side         Side             `json:"side" yaml:"side"`
	Quantity     decimal.Decimal  `json:"quantity" yaml:"quantity"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty" yaml:"trigger_price,omitempty"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty" yaml:"limit_price,omitempty"`
}

// AlertCondition is the direction a price alert watches for.
type AlertCondition string

const (
	AlertAbove AlertCondition = "above"
	AlertBelow AlertCondition = "below"
)

// Valid reports whether c is a known condition.
func (c AlertCondition) Valid() bool {
	return c == AlertAbove || c == AlertBelow
}

// PriceAlert fires once when its condition is first satisfied.
type PriceAlert struct {
	ID          string          `json:"id"`
	AssetID     string          `json:"asset_id"`
	AssetTicker string          `json:"asset_ticker"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Condition   AlertCondition  `json:"condition"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty"`
}

// AlertSpec is a request to create a price alert.
type AlertSpec struct {
	AssetID     string          `json:"asset_id" yaml:"asset_id"`
	TargetPrice decimal.Decimal `json:"target_price" yaml:"target_price"`
	Condition   AlertCondition  `json:"condition" yaml:"condition"`
}

// NotificationKind is the severity shown by the UI.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyInfo    NotificationKind = "info"
	NotifyError   NotificationKind = "error"
	NotifyWarning NotificationKind = "warning"
)

// Notification is a user-facing event.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationKind `json:"type"`
	Read      bool             `json:"read"`
	Timestamp time.Time        `json:"timestamp"`
}
