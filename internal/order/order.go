// Package order implements the conditional-order engine: placement,
// cancellation, and trigger evaluation on every price tick.
//
// Lifecycle per order: active → triggered, or active → cancelled. Both are
// terminal; a terminal order leaves the active set and moves to history.
package order

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/ledger"
	"github.com/credo/carbon-engine/internal/model"
)

var (
	ErrInvalidOrderSpec = errors.New("order: invalid order spec")
	ErrOrderNotFound    = errors.New("order: order not found")
)

// Executor applies a trade to the account.
type Executor interface {
	ExecuteTrade(assetID string, side model.Side, quantity, price decimal.Decimal) (ledger.TradeResult, error)
}

// Quotes returns the latest known price of an asset.
type Quotes interface {
	Quote(assetID string) (decimal.Decimal, bool)
}

// Assets resolves asset ids to catalog entries.
type Assets interface {
	Get(id string) (credit.Asset, error)
}

// Notifier receives user-facing events.
type Notifier interface {
	Notify(kind model.NotificationKind, title, message string) model.Notification
}

// Placement is the result of Place. Market orders carry Trade and no Orders;
// conditional orders carry one order, or two linked legs for OCO.
type Placement struct {
	Orders []model.ActiveOrder `json:"orders,omitempty"`
	Trade  *ledger.TradeResult `json:"trade,omitempty"`
}

// Fill describes one order that triggered on a tick.
type Fill struct {
	Order     model.ActiveOrder  `json:"order"`
	Trade     ledger.TradeResult `json:"trade"`
	Err       error              `json:"-"`                   // execution failure; the order is still consumed
	Cancelled *model.ActiveOrder `json:"cancelled,omitempty"` // OCO sibling cancelled by this fill
}

// Engine is not safe for concurrent use; the owning engine serializes access.
type Engine struct {
	active  []*model.ActiveOrder
	index   map[string]*model.ActiveOrder
	history []model.ActiveOrder

	exec     Executor
	quotes   Quotes
	assets   Assets
	notifier Notifier
	now      func() time.Time
}

// NewEngine creates an order engine. notifier may be nil.
func NewEngine(exec Executor, quotes Quotes, assets Assets, notifier Notifier) *Engine {
	return &Engine{
		index:    make(map[string]*model.ActiveOrder),
		exec:     exec,
		quotes:   quotes,
		assets:   assets,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Place validates spec and either executes it immediately (market) or adds
// it to the active set. OCO creates both legs or neither.
func (e *Engine) Place(spec model.OrderSpec) (Placement, error) {
	asset, err := e.validate(spec)
	if err != nil {
		return Placement{}, err
	}

	if spec.Type == model.KindMarket {
		return e.executeMarket(asset, spec)
	}

	created := e.now()
	base := model.ActiveOrder{
		AssetID:     asset.ID,
		AssetTicker: asset.Ticker,
		Side:        spec.Side,
		Quantity:    spec.Quantity,
		Status:      model.OrderActive,
		CreatedAt:   created,
	}

	var orders []*model.ActiveOrder
	if spec.Type == model.KindOCO {
		limitLeg := base
		limitLeg.ID = uuid.New().String()
		limitLeg.Type = model.KindLimit
		limitLeg.LimitPrice = copyPrice(spec.LimitPrice)

		stopLeg := base
		stopLeg.ID = uuid.New().String()
		stopLeg.Type = model.KindStopLoss
		stopLeg.TriggerPrice = copyPrice(spec.TriggerPrice)

		limitLeg.LinkedOrderID = stopLeg.ID
		stopLeg.LinkedOrderID = limitLeg.ID
		orders = []*model.ActiveOrder{&limitLeg, &stopLeg}
	} else {
		o := base
		o.ID = uuid.New().String()
		o.Type = spec.Type
		o.LimitPrice = copyPrice(spec.LimitPrice)
		o.TriggerPrice = copyPrice(spec.TriggerPrice)
		orders = []*model.ActiveOrder{&o}
	}

	out := make([]model.ActiveOrder, 0, len(orders))
	for _, o := range orders {
		e.active = append(e.active, o)
		e.index[o.ID] = o
		out = append(out, *o)

		slog.Info("order placed",
			"order_id", o.ID,
			"asset", o.AssetTicker,
			"type", o.Type,
			"side", o.Side,
			"qty", o.Quantity.String(),
			"threshold", Threshold(*o).String(),
			"linked", o.LinkedOrderID,
		)
	}
	e.notify(model.NotifyInfo, "Order Placed", fmt.Sprintf("%s %s %s %s",
		spec.Type, spec.Side, spec.Quantity.String(), asset.Ticker))
	return Placement{Orders: out}, nil
}

func (e *Engine) validate(spec model.OrderSpec) (credit.Asset, error) {
	asset, err := e.assets.Get(spec.AssetID)
	if err != nil {
		return credit.Asset{}, fmt.Errorf("%w: %w", ErrInvalidOrderSpec, err)
	}
	if !spec.Type.Valid() {
		return credit.Asset{}, fmt.Errorf("%w: unknown type %q", ErrInvalidOrderSpec, spec.Type)
	}
	if !spec.Side.Valid() {
		return credit.Asset{}, fmt.Errorf("%w: unknown side %q", ErrInvalidOrderSpec, spec.Side)
	}
	if !spec.Quantity.IsPositive() {
		return credit.Asset{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrderSpec)
	}

	needLimit := spec.Type == model.KindLimit || spec.Type == model.KindTakeProfit || spec.Type == model.KindOCO
	needTrigger := spec.Type == model.KindStopLoss || spec.Type == model.KindOCO
	if needLimit && !positive(spec.LimitPrice) {
		return credit.Asset{}, fmt.Errorf("%w: %s requires a positive limit price", ErrInvalidOrderSpec, spec.Type)
	}
	if needTrigger && !positive(spec.TriggerPrice) {
		return credit.Asset{}, fmt.Errorf("%w: %s requires a positive trigger price", ErrInvalidOrderSpec, spec.Type)
	}
	return asset, nil
}

func (e *Engine) executeMarket(asset credit.Asset, spec model.OrderSpec) (Placement, error) {
	price, ok := e.quotes.Quote(asset.ID)
	if !ok {
		return Placement{}, fmt.Errorf("%w: no quote for %s", ErrInvalidOrderSpec, asset.Ticker)
	}
	res, err := e.exec.ExecuteTrade(asset.ID, spec.Side, spec.Quantity, price)
	if res.Transaction.ID == "" {
		return Placement{}, err
	}
	return Placement{Trade: &res}, err
}

// Cancel cancels an active order. Cancelling one OCO leg cancels its sibling.
// A missing or already-terminal order yields ErrOrderNotFound.
func (e *Engine) Cancel(id string) ([]model.ActiveOrder, error) {
	o, ok := e.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	cancelled := []model.ActiveOrder{e.close(o, model.OrderCancelled)}
	if sib, ok := e.index[o.LinkedOrderID]; ok {
		cancelled = append(cancelled, e.close(sib, model.OrderCancelled))
	}

	for _, c := range cancelled {
		slog.Info("order cancelled", "order_id", c.ID, "asset", c.AssetTicker, "type", c.Type)
	}
	e.notify(model.NotifyInfo, "Order Cancelled",
		fmt.Sprintf("%s %s %s %s cancelled", o.Type, o.Side, o.Quantity.String(), o.AssetTicker))
	return cancelled, nil
}

// OnPriceTick evaluates every active order on assetID in placement order.
// A triggered order executes at price; its OCO sibling is cancelled before
// the next order is evaluated.
func (e *Engine) OnPriceTick(assetID string, price decimal.Decimal) []Fill {
	candidates := make([]*model.ActiveOrder, 0, len(e.active))
	for _, o := range e.active {
		if o.AssetID == assetID {
			candidates = append(candidates, o)
		}
	}

	var fills []Fill
	for _, o := range candidates {
		if o.Status != model.OrderActive {
			continue
		}
		if !Triggered(o.Side, o.Type, Threshold(*o), price) {
			continue
		}

		res, err := e.exec.ExecuteTrade(o.AssetID, o.Side, o.Quantity, price)
		fill := Fill{
			Order: e.close(o, model.OrderTriggered),
			Trade: res,
			Err:   err,
		}
		if sib, ok := e.index[o.LinkedOrderID]; ok {
			c := e.close(sib, model.OrderCancelled)
			fill.Cancelled = &c
		}
		fills = append(fills, fill)
		e.announce(fill, price)
	}
	return fills
}

func (e *Engine) announce(f Fill, price decimal.Decimal) {
	o := f.Order
	attrs := []any{
		"order_id", o.ID,
		"asset", o.AssetTicker,
		"type", o.Type,
		"side", o.Side,
		"qty", o.Quantity.String(),
		"price", price.String(),
	}
	if f.Err != nil {
		slog.Warn("order triggered but execution failed", append(attrs, "err", f.Err)...)
		e.notify(model.NotifyError, "Order Failed", fmt.Sprintf("%s %s %s %s at $%s could not execute: %v",
			o.Type, o.Side, o.Quantity.String(), o.AssetTicker, price.StringFixed(2), f.Err))
	} else {
		slog.Info("order triggered", attrs...)
		e.notify(model.NotifyInfo, "Order Triggered", fmt.Sprintf("%s %s %s %s triggered at $%s",
			o.Type, o.Side, o.Quantity.String(), o.AssetTicker, price.StringFixed(2)))
	}
	if f.Cancelled != nil {
		slog.Info("oco sibling cancelled", "order_id", f.Cancelled.ID, "by", o.ID)
	}
}

// close moves o out of the active set with the given terminal status.
func (e *Engine) close(o *model.ActiveOrder, status model.OrderStatus) model.ActiveOrder {
	at := e.now()
	o.Status = status
	o.ClosedAt = &at

	delete(e.index, o.ID)
	for i, a := range e.active {
		if a == o {
			e.active = append(e.active[:i], e.active[i+1:]...)
			break
		}
	}
	e.history = append(e.history, *o)
	return *o
}

// Get returns an active order.
func (e *Engine) Get(id string) (model.ActiveOrder, error) {
	o, ok := e.index[id]
	if !ok {
		return model.ActiveOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return *o, nil
}

// Active returns active orders in placement order.
func (e *Engine) Active() []model.ActiveOrder {
	out := make([]model.ActiveOrder, 0, len(e.active))
	for _, o := range e.active {
		out = append(out, *o)
	}
	return out
}

// History returns terminal orders in the order they closed.
func (e *Engine) History() []model.ActiveOrder {
	return append([]model.ActiveOrder(nil), e.history...)
}

func (e *Engine) notify(kind model.NotificationKind, title, message string) {
	if e.notifier != nil {
		e.notifier.Notify(kind, title, message)
	}
}

func positive(p *decimal.Decimal) bool {
	return p != nil && p.IsPositive()
}

func copyPrice(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
