// Package engine is the single owning context for the carbon trading core. It
// serializes every user command and price tick behind one mutex so balance
// checks, trade execution and journal appends always happen as one unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/alert"
	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/journal"
	"github.com/credo/carbon-engine/internal/ledger"
	"github.com/credo/carbon-engine/internal/metrics"
	"github.com/credo/carbon-engine/internal/model"
	"github.com/credo/carbon-engine/internal/notify"
	"github.com/credo/carbon-engine/internal/order"
	"github.com/credo/carbon-engine/internal/store"
)

var ErrInvalidTick = errors.New("engine: invalid tick")

// Options configures a new Engine.
type Options struct {
	Owner                string
	StartingBalance      decimal.Decimal
	Store                store.Store // nil disables persistence
	NotificationCapacity int
	Clock                func() time.Time
}

// TickReport summarizes the effects of one processed tick.
type TickReport struct {
	Tick   model.Tick         `json:"tick"`
	Fills  []order.Fill       `json:"fills,omitempty"`
	Alerts []model.PriceAlert `json:"alerts,omitempty"`
}

// Engine owns the account, the order and alert engines, the journal and the
// notification sink. All exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	owner           string
	startingBalance decimal.Decimal

	catalog *credit.Catalog
	sink    *notify.Sink
	journal *journal.Journal
	ledger  *ledger.Ledger
	orders  *order.Engine
	alerts  *alert.Engine
	prices  priceBook

	watchlist []string

	store  store.Store
	mirror *mirror

	evMu      sync.RWMutex
	listeners []func(Event)
}

// New wires a fresh engine. Call Restore before serving traffic.
func New(catalog *credit.Catalog, opts Options) *Engine {
	if opts.Owner == "" {
		opts.Owner = "demo"
	}

	e := &Engine{
		owner:           opts.Owner,
		startingBalance: opts.StartingBalance,
		catalog:         catalog,
		sink:            notify.NewSink(opts.NotificationCapacity),
		prices:          make(priceBook),
		store:           opts.Store,
		mirror:          &mirror{},
	}
	for _, a := range catalog.List() {
		e.prices[a.ID] = a.Price
	}

	e.journal = journal.New(e.sink)
	e.journal.SetRecorder(e.mirror)
	e.ledger = ledger.New(opts.Owner, catalog, e.journal, e.sink)
	e.orders = order.NewEngine(e.ledger, e.prices, catalog, e.sink)
	e.alerts = alert.NewEngine(catalog, e.sink)

	if opts.Clock != nil {
		e.sink.SetClock(opts.Clock)
		e.journal.SetClock(opts.Clock)
		e.orders.SetClock(opts.Clock)
		e.alerts.SetClock(opts.Clock)
	}

	e.sink.Subscribe(func(n model.Notification) {
		e.publish(Event{Type: EventNotification, Data: n})
	})
	return e
}

// Restore loads persisted state. When nothing was persisted yet the account
// is seeded with the configured starting balance.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		acct, err := e.store.LoadAccount(ctx, e.owner)
		switch {
		case err == nil:
			txs, err := e.store.ListTransactions(ctx)
			if err != nil {
				return fmt.Errorf("restore transactions: %w", err)
			}
			certs, err := e.store.ListCertificates(ctx)
			if err != nil {
				return fmt.Errorf("restore certificates: %w", err)
			}
			e.watchlist = append([]string(nil), acct.Watchlist...)
			acct.Watchlist = nil
			e.ledger.Restore(acct)
			e.journal.Restore(txs, certs)
			e.refreshGauges()

			slog.Info("engine state restored",
				"owner", e.owner,
				"balance", acct.Balance.String(),
				"holdings", len(acct.Portfolio),
				"transactions", len(txs),
				"certificates", len(certs),
				"watchlist", len(e.watchlist),
			)
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("restore account: %w", err)
		}
	}

	if e.startingBalance.IsPositive() {
		if _, err := e.ledger.Deposit(e.startingBalance); err != nil {
			return fmt.Errorf("seed balance: %w", err)
		}
		metrics.CashMovements.WithLabelValues(string(model.TxDeposit), string(model.TxExecuted)).Inc()
	}
	e.flush(ctx, true)
	slog.Info("engine initialized", "owner", e.owner, "balance", e.startingBalance.String())
	return nil
}

// --- Commands ---

// Deposit adds cash to the account.
func (e *Engine) Deposit(ctx context.Context, amount decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.ledger.Deposit(amount)
	metrics.CashMovements.WithLabelValues(string(model.TxDeposit), string(tx.Status)).Inc()
	e.flush(ctx, false)
	return tx, err
}

// Withdraw removes cash from the account.
func (e *Engine) Withdraw(ctx context.Context, amount decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.ledger.Withdraw(amount)
	metrics.CashMovements.WithLabelValues(string(model.TxWithdraw), string(tx.Status)).Inc()
	e.flush(ctx, false)
	return tx, err
}

// PlaceOrder places a conditional order, or executes a market order now.
func (e *Engine) PlaceOrder(ctx context.Context, spec model.OrderSpec) (order.Placement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pl, err := e.orders.Place(spec)
	if pl.Trade != nil {
		e.observeTrade(spec.Side, *pl.Trade)
	}
	for _, o := range pl.Orders {
		metrics.OrdersTotal.WithLabelValues("placed", string(o.Type)).Inc()
	}
	e.flush(ctx, false)
	if len(pl.Orders) > 0 {
		e.publish(Event{Type: EventOrderPlaced, Data: pl.Orders})
	}
	return pl, err
}

// CancelOrder cancels an active order (and its OCO sibling).
func (e *Engine) CancelOrder(ctx context.Context, id string) ([]model.ActiveOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancelled, err := e.orders.Cancel(id)
	if err != nil {
		return nil, err
	}
	for _, o := range cancelled {
		metrics.OrdersTotal.WithLabelValues("cancelled", string(o.Type)).Inc()
	}
	e.refreshGauges()
	e.publish(Event{Type: EventOrderCancelled, Data: cancelled})
	return cancelled, nil
}

// AddPriceAlert registers a one-shot alert.
func (e *Engine) AddPriceAlert(spec model.AlertSpec) (model.PriceAlert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts.Add(spec)
}

// RemovePriceAlert deletes an alert.
func (e *Engine) RemovePriceAlert(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts.Remove(id)
}

// RetireCertificate permanently retires a certificate with a reason.
func (e *Engine) RetireCertificate(ctx context.Context, id, reason string) (model.Certificate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cert, err := e.journal.Retire(id, reason)
	if err != nil {
		return model.Certificate{}, err
	}
	metrics.CertificatesTotal.WithLabelValues("retired").Inc()
	e.flush(ctx, false)
	return cert, nil
}

// AddHolding merges an externally acquired lot into the portfolio.
func (e *Engine) AddHolding(ctx context.Context, assetID string, quantity, avgBuyPrice decimal.Decimal) (model.Holding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.ledger.AddHolding(assetID, quantity, avgBuyPrice)
	if err != nil {
		return model.Holding{}, err
	}
	e.flush(ctx, true)
	return h, nil
}

// MarkNotificationRead flips a notification to read.
func (e *Engine) MarkNotificationRead(id string) error {
	return e.sink.MarkRead(id)
}

// ClearNotifications removes all notifications.
func (e *Engine) ClearNotifications() {
	e.sink.ClearAll()
}

// ToggleWatchlist adds assetID to the watchlist, or removes it if present.
// It reports whether the asset is watched afterwards.
func (e *Engine) ToggleWatchlist(ctx context.Context, assetID string) (bool, error) {
	if _, err := e.catalog.Get(assetID); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	watched := true
	for i, id := range e.watchlist {
		if id == assetID {
			e.watchlist = append(e.watchlist[:i], e.watchlist[i+1:]...)
			watched = false
			break
		}
	}
	if watched {
		e.watchlist = append(e.watchlist, assetID)
	}
	e.flush(ctx, true)
	return watched, nil
}

// --- Ticks ---

// ProcessTick records the price, then evaluates orders before alerts.
func (e *Engine) ProcessTick(ctx context.Context, tick model.Tick) (TickReport, error) {
	start := time.Now()
	defer func() { metrics.TickLatency.Observe(time.Since(start).Seconds()) }()

	if _, err := e.catalog.Get(tick.AssetID); err != nil {
		slog.Error("tick for unknown asset", "asset_id", tick.AssetID, "err", err)
		metrics.TicksTotal.WithLabelValues("rejected").Inc()
		return TickReport{}, err
	}
	if !tick.Price.IsPositive() {
		metrics.TicksTotal.WithLabelValues("rejected").Inc()
		return TickReport{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidTick, tick.Price)
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now().UTC()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.prices[tick.AssetID] = tick.Price
	e.publish(Event{Type: EventTick, Data: tick})

	report := TickReport{Tick: tick}
	report.Fills = e.orders.OnPriceTick(tick.AssetID, tick.Price)
	for _, f := range report.Fills {
		metrics.OrdersTotal.WithLabelValues("triggered", string(f.Order.Type)).Inc()
		if f.Trade.Transaction.ID != "" {
			e.observeTrade(f.Order.Side, f.Trade)
		}
		if f.Cancelled != nil {
			metrics.OrdersTotal.WithLabelValues("cancelled", string(f.Cancelled.Type)).Inc()
		}
		e.publish(Event{Type: EventOrderTriggered, Data: f})
	}

	report.Alerts = e.alerts.OnPriceTick(tick.AssetID, tick.Price)
	for _, a := range report.Alerts {
		metrics.AlertsFired.Inc()
		e.publish(Event{Type: EventAlertFired, Data: a})
	}

	e.flush(ctx, false)
	metrics.TicksTotal.WithLabelValues("processed").Inc()
	return report, nil
}

// Run consumes ticks one at a time until ctx is done or ticks is closed.
func (e *Engine) Run(ctx context.Context, ticks <-chan model.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if _, err := e.ProcessTick(ctx, tick); err != nil {
				slog.Warn("tick rejected", "asset_id", tick.AssetID, "price", tick.Price.String(), "err", err)
			}
		}
	}
}

// --- Queries ---

// Account returns a copy of the account.
func (e *Engine) Account() model.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account()
}

// Transactions returns the journal in chronological order.
func (e *Engine) Transactions() []model.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal.Transactions()
}

// RecentTransactions returns up to n transactions, newest first.
func (e *Engine) RecentTransactions(n int) []model.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal.Recent(n)
}

// ActiveOrders returns active orders in placement order.
func (e *Engine) ActiveOrders() []model.ActiveOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Active()
}

// OrderHistory returns triggered and cancelled orders.
func (e *Engine) OrderHistory() []model.ActiveOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.History()
}

// Alerts returns all price alerts.
func (e *Engine) Alerts() []model.PriceAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts.List()
}

// Notifications returns notifications newest first.
func (e *Engine) Notifications() []model.Notification {
	return e.sink.List()
}

// Certificates returns the certificate registry.
func (e *Engine) Certificates() []model.Certificate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.journal.Certificates()
}

// Watchlist returns watched asset ids in the order they were added.
func (e *Engine) Watchlist() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.watchlist...)
}

// Price returns the latest known price of an asset.
func (e *Engine) Price(assetID string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prices.Quote(assetID)
}

// Assets returns the catalog with each asset's latest price and market move.
func (e *Engine) Assets() []AssetView {
	e.mu.Lock()
	defer e.mu.Unlock()

	volume := e.journal.TradedVolume()
	assets := e.catalog.List()
	out := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		out = append(out, e.view(a, volume))
	}
	return out
}

// Asset returns one catalog entry with its latest price and market move.
func (e *Engine) Asset(id string) (AssetView, error) {
	a, err := e.catalog.Get(id)
	if err != nil {
		return AssetView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view(a, e.journal.TradedVolume()), nil
}

// Snapshot returns the full read model, holdings marked to the latest price.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.account()
	snap := model.Snapshot{
		Owner:         acct.Owner,
		Balance:       acct.Balance,
		Equity:        acct.Balance,
		Transactions:  e.journal.Transactions(),
		ActiveOrders:  e.orders.Active(),
		Alerts:        e.alerts.List(),
		Notifications: e.sink.List(),
		UnreadCount:   e.sink.Unread(),
		Certificates:  e.journal.Certificates(),
		Watchlist:     append([]string{}, e.watchlist...),
		ImpactTonnes:  e.journal.RetiredTonnes(),
		Prices:        make(map[string]decimal.Decimal, len(e.prices)),
		Market:        e.market(),
	}
	for id, p := range e.prices {
		snap.Prices[id] = p
	}

	for _, h := range acct.Portfolio {
		last, ok := e.prices[h.AssetID]
		if !ok {
			last = h.AvgBuyPrice
		}
		value := h.Quantity.Mul(last)
		snap.Holdings = append(snap.Holdings, model.HoldingView{
			Holding:       h,
			LastPrice:     last,
			MarketValue:   value,
			UnrealizedPnL: last.Sub(h.AvgBuyPrice).Mul(h.Quantity),
		})
		snap.Equity = snap.Equity.Add(value)
	}
	sort.Slice(snap.Holdings, func(i, j int) bool {
		return snap.Holdings[i].AssetID < snap.Holdings[j].AssetID
	})
	return snap
}

// --- internals ---

func (e *Engine) observeTrade(side model.Side, res ledger.TradeResult) {
	tx := res.Transaction
	metrics.TradesTotal.WithLabelValues(string(side), string(tx.Status)).Inc()
	if tx.Status == model.TxExecuted {
		metrics.TradeVolume.WithLabelValues(tx.AssetID, string(side)).Add(tx.Quantity.InexactFloat64())
	}
	if res.Certificate != nil {
		metrics.CertificatesTotal.WithLabelValues("issued").Inc()
	}
}

// account is the ledger's account plus the watchlist. Must be called with
// e.mu held.
func (e *Engine) account() model.Account {
	acct := e.ledger.Account()
	acct.Watchlist = append([]string(nil), e.watchlist...)
	return acct
}

func (e *Engine) refreshGauges() {
	metrics.Balance.Set(e.ledger.Balance().InexactFloat64())
	metrics.ActiveOrders.Set(float64(len(e.orders.Active())))
}

// flush writes journal rows recorded since the last flush, plus the account
// when anything changed, to the store. Must be called with e.mu held.
func (e *Engine) flush(ctx context.Context, accountChanged bool) {
	e.refreshGauges()

	txs, certs := e.mirror.drain()
	if len(txs) > 0 {
		accountChanged = true
	}
	if e.store == nil {
		return
	}

	for _, tx := range txs {
		if err := e.store.InsertTransaction(ctx, tx); err != nil {
			e.persistError("insert transaction", err, "tx_id", tx.ID)
		}
	}
	for _, c := range certs {
		if err := e.store.SaveCertificate(ctx, c); err != nil {
			e.persistError("save certificate", err, "certificate_id", c.ID)
		}
	}
	if accountChanged {
		if err := e.store.SaveAccount(ctx, e.account()); err != nil {
			e.persistError("save account", err, "owner", e.owner)
		}
	}
}

func (e *Engine) persistError(op string, err error, attrs ...any) {
	metrics.PersistErrors.Inc()
	slog.Error("persist failed", append([]any{"op", op, "err", err}, attrs...)...)
}

// priceBook is the latest price per asset. Accessed only under Engine.mu.
type priceBook map[string]decimal.Decimal

func (p priceBook) Quote(assetID string) (decimal.Decimal, bool) {
	v, ok := p[assetID]
	return v, ok
}

// mirror buffers journal writes until the owning command flushes them.
type mirror struct {
	txs   []model.Transaction
	certs []model.Certificate
}

func (m *mirror) RecordTransaction(tx model.Transaction) { m.txs = append(m.txs, tx) }
func (m *mirror) RecordCertificate(c model.Certificate)  { m.certs = append(m.certs, c) }

func (m *mirror) drain() ([]model.Transaction, []model.Certificate) {
	txs, certs := m.txs, m.certs
	m.txs, m.certs = nil, nil
	return txs, certs
}
