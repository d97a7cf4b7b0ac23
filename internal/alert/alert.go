// Package alert evaluates one-shot price alerts against incoming ticks.
package alert

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/model"
)

var (
	ErrAlertNotFound = errors.New("alert: alert not found")
	ErrInvalidAlert  = errors.New("alert: invalid alert")
)

// Assets resolves asset ids to catalog entries.
type Assets interface {
	Get(id string) (credit.Asset, error)
}

// Notifier receives user-facing events.
type Notifier interface {
	Notify(kind model.NotificationKind, title, message string) model.Notification
}

// Engine holds alerts in creation order. Not safe for concurrent use.
type Engine struct {
	alerts   []*model.PriceAlert
	assets   Assets
	notifier Notifier
	now      func() time.Time
}

func NewEngine(assets Assets, notifier Notifier) *Engine {
	return &Engine{
		assets:   assets,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Add registers an active alert.
func (e *Engine) Add(spec model.AlertSpec) (model.PriceAlert, error) {
	asset, err := e.assets.Get(spec.AssetID)
	if err != nil {
		return model.PriceAlert{}, fmt.Errorf("%w: %w", ErrInvalidAlert, err)
	}
	if !spec.Condition.Valid() {
		return model.PriceAlert{}, fmt.Errorf("%w: unknown condition %q", ErrInvalidAlert, spec.Condition)
	}
	if !spec.TargetPrice.IsPositive() {
		return model.PriceAlert{}, fmt.Errorf("%w: target price must be positive", ErrInvalidAlert)
	}

	a := &model.PriceAlert{
		ID:          uuid.New().String(),
		AssetID:     asset.ID,
		AssetTicker: asset.Ticker,
		TargetPrice: spec.TargetPrice,
		Condition:   spec.Condition,
		Active:      true,
		CreatedAt:   e.now(),
	}
	e.alerts = append(e.alerts, a)

	slog.Info("alert added", "alert_id", a.ID, "asset", a.AssetTicker, "condition", a.Condition, "target", a.TargetPrice.String())
	return *a, nil
}

// Remove deletes an alert, fired or not.
func (e *Engine) Remove(id string) error {
	for i, a := range e.alerts {
		if a.ID == id {
			e.alerts = append(e.alerts[:i], e.alerts[i+1:]...)
			slog.Info("alert removed", "alert_id", id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// OnPriceTick fires every active alert on assetID whose condition holds at
// price. A fired alert is deactivated and never fires again.
func (e *Engine) OnPriceTick(assetID string, price decimal.Decimal) []model.PriceAlert {
	var fired []model.PriceAlert
	for _, a := range e.alerts {
		if !a.Active || a.AssetID != assetID || !reached(a.Condition, a.TargetPrice, price) {
			continue
		}
		at := e.now()
		a.Active = false
		a.TriggeredAt = &at
		fired = append(fired, *a)

		slog.Info("alert fired", "alert_id", a.ID, "asset", a.AssetTicker, "price", price.String())
		if e.notifier != nil {
			e.notifier.Notify(model.NotifyInfo, "Price Alert",
				fmt.Sprintf("%s is %s $%s (now $%s)", a.AssetTicker, a.Condition, a.TargetPrice.StringFixed(2), price.StringFixed(2)))
		}
	}
	return fired
}

func reached(cond model.AlertCondition, target, price decimal.Decimal) bool {
	if cond == model.AlertAbove {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// List returns all alerts in creation order.
func (e *Engine) List() []model.PriceAlert {
	out := make([]model.PriceAlert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, *a)
	}
	return out
}
