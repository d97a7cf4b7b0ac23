// Package ledger owns the account: cash balance and credit holdings. It is the
// only writer of transaction status and applies every trade atomically.
//
// All monetary values use shopspring/decimal, never float64 for money.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/journal"
	"github.com/credo/carbon-engine/internal/model"
)

var (
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")
	ErrInvalidAmount        = errors.New("ledger: amount must be positive")
	ErrInvalidSide          = errors.New("ledger: side must be buy or sell")
)

// Assets resolves asset ids to catalog entries.
type Assets interface {
	Get(id string) (credit.Asset, error)
}

// Notifier receives user-facing events.
type Notifier interface {
	Notify(kind model.NotificationKind, title, message string) model.Notification
}

// TradeResult is the outcome of ExecuteTrade. Certificate is set only for a
// successful buy.
type TradeResult struct {
	Transaction model.Transaction  `json:"transaction"`
	Certificate *model.Certificate `json:"certificate,omitempty"`
}

// Ledger is not safe for concurrent use. The owning engine serializes all
// calls so balance checks, mutations and journal appends happen as one unit.
type Ledger struct {
	account  model.Account
	assets   Assets
	journal  *journal.Journal
	notifier Notifier
}

// New creates a ledger with a zero balance. notifier may be nil.
func New(owner string, assets Assets, j *journal.Journal, notifier Notifier) *Ledger {
	return &Ledger{
		account: model.Account{
			Owner:     owner,
			Balance:   decimal.Zero,
			Portfolio: make(map[string]model.Holding),
		},
		assets:   assets,
		journal:  j,
		notifier: notifier,
	}
}

// Account returns a deep copy of the current account.
func (l *Ledger) Account() model.Account {
	return l.account.Clone()
}

// Balance returns the cash balance.
func (l *Ledger) Balance() decimal.Decimal {
	return l.account.Balance
}

// Holding returns the holding for an asset, if any.
func (l *Ledger) Holding(assetID string) (model.Holding, bool) {
	h, ok := l.account.Portfolio[assetID]
	return h, ok
}

// Restore replaces the account with a persisted snapshot.
func (l *Ledger) Restore(acct model.Account) {
	l.account = acct.Clone()
	if l.account.Portfolio == nil {
		l.account.Portfolio = make(map[string]model.Holding)
	}
}

// Deposit adds cash to the balance.
func (l *Ledger) Deposit(amount decimal.Decimal) (model.Transaction, error) {
	tx := model.Transaction{
		Type:     model.TxDeposit,
		Quantity: decimal.Zero,
		Price:    decimal.Zero,
		Total:    amount,
	}
	if !amount.IsPositive() {
		return l.fail(tx, ErrInvalidAmount, "Deposit Failed")
	}

	l.account.Balance = l.account.Balance.Add(amount)
	tx = l.commit(tx)

	slog.Info("deposit", "tx_id", tx.ID, "amount", amount.String(), "balance", l.account.Balance.String())
	l.notify(model.NotifySuccess, "Deposit Successful", fmt.Sprintf("Added $%s to your balance", amount.StringFixed(2)))
	return tx, nil
}

// Withdraw removes cash from the balance. Requires 0 < amount <= balance.
func (l *Ledger) Withdraw(amount decimal.Decimal) (model.Transaction, error) {
	tx := model.Transaction{
		Type:     model.TxWithdraw,
		Quantity: decimal.Zero,
		Price:    decimal.Zero,
		Total:    amount,
	}
	if !amount.IsPositive() {
		return l.fail(tx, ErrInvalidAmount, "Withdrawal Failed")
	}
	if amount.GreaterThan(l.account.Balance) {
		return l.fail(tx, ErrInsufficientFunds, "Withdrawal Failed")
	}

	l.account.Balance = l.account.Balance.Sub(amount)
	tx = l.commit(tx)

	slog.Info("withdraw", "tx_id", tx.ID, "amount", amount.String(), "balance", l.account.Balance.String())
	l.notify(model.NotifySuccess, "Withdrawal Successful", fmt.Sprintf("Withdrew $%s from your balance", amount.StringFixed(2)))
	return tx, nil
}

// ExecuteTrade buys or sells quantity units of an asset at price.
//
// Expected precondition failures (funds, holdings, non-positive inputs) are
// recorded as failed transactions and leave the account untouched. An unknown
// asset id or side is a caller defect: nothing is recorded and the error wraps
// credit.ErrUnknownAsset or ErrInvalidSide.
func (l *Ledger) ExecuteTrade(assetID string, side model.Side, quantity, price decimal.Decimal) (TradeResult, error) {
	asset, err := l.assets.Get(assetID)
	if err != nil {
		slog.Error("trade on unknown asset", "asset_id", assetID, "err", err)
		return TradeResult{}, err
	}
	if !side.Valid() {
		slog.Error("trade with invalid side", "asset_id", assetID, "side", side)
		return TradeResult{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}

	txType := model.TxBuy
	if side == model.SideSell {
		txType = model.TxSell
	}
	total := quantity.Mul(price)
	tx := model.Transaction{
		Type:        txType,
		AssetID:     asset.ID,
		AssetTicker: asset.Ticker,
		AssetName:   asset.Name,
		Quantity:    quantity,
		Price:       price,
		Total:       total,
	}

	if !quantity.IsPositive() || !price.IsPositive() {
		tx, err := l.fail(tx, ErrInvalidAmount, "Trade Failed")
		return TradeResult{Transaction: tx}, err
	}

	if side == model.SideBuy {
		return l.buy(asset, tx)
	}
	return l.sell(asset, tx)
}

func (l *Ledger) buy(asset credit.Asset, tx model.Transaction) (TradeResult, error) {
	if tx.Total.GreaterThan(l.account.Balance) {
		tx, err := l.fail(tx, ErrInsufficientFunds, "Trade Failed")
		return TradeResult{Transaction: tx}, err
	}

	h, held := l.account.Portfolio[asset.ID]
	if !held {
		h = model.Holding{
			AssetID:     asset.ID,
			Ticker:      asset.Ticker,
			Name:        asset.Name,
			Quantity:    decimal.Zero,
			AvgBuyPrice: decimal.Zero,
		}
	}
	h.AvgBuyPrice = weightedAverage(h.Quantity, h.AvgBuyPrice, tx.Quantity, tx.Price)
	h.Quantity = h.Quantity.Add(tx.Quantity)

	// The certificate is minted before the account changes; a failed mint aborts the buy.
	cert, err := l.journal.Issue(asset, tx.Quantity, l.account.Owner)
	if err != nil {
		return TradeResult{}, fmt.Errorf("issue certificate: %w", err)
	}

	l.account.Balance = l.account.Balance.Sub(tx.Total)
	l.account.Portfolio[asset.ID] = h
	tx.TxHash = cert.TxHash
	tx = l.commit(tx)

	slog.Info("trade executed",
		"tx_id", tx.ID,
		"side", model.SideBuy,
		"asset", asset.Ticker,
		"qty", tx.Quantity.String(),
		"price", tx.Price.String(),
		"total", tx.Total.String(),
		"certificate", cert.ID,
	)
	l.notify(model.NotifySuccess, "Order Executed",
		fmt.Sprintf("Bought %s %s @ $%s", tx.Quantity.String(), asset.Ticker, tx.Price.StringFixed(2)))
	return TradeResult{Transaction: tx, Certificate: &cert}, nil
}

func (l *Ledger) sell(asset credit.Asset, tx model.Transaction) (TradeResult, error) {
	h, held := l.account.Portfolio[asset.ID]
	if !held || h.Quantity.LessThan(tx.Quantity) {
		tx, err := l.fail(tx, ErrInsufficientHoldings, "Trade Failed")
		return TradeResult{Transaction: tx}, err
	}

	h.Quantity = h.Quantity.Sub(tx.Quantity)
	if h.Quantity.IsZero() {
		delete(l.account.Portfolio, asset.ID)
	} else {
		l.account.Portfolio[asset.ID] = h
	}
	l.account.Balance = l.account.Balance.Add(tx.Total)
	tx = l.commit(tx)

	slog.Info("trade executed",
		"tx_id", tx.ID,
		"side", model.SideSell,
		"asset", asset.Ticker,
		"qty", tx.Quantity.String(),
		"price", tx.Price.String(),
		"total", tx.Total.String(),
	)
	l.notify(model.NotifySuccess, "Order Executed",
		fmt.Sprintf("Sold %s %s @ $%s", tx.Quantity.String(), asset.Ticker, tx.Price.StringFixed(2)))
	return TradeResult{Transaction: tx}, nil
}

// AddHolding merges a lot into the portfolio without moving cash, e.g. credits
// transferred in from an external registry.
func (l *Ledger) AddHolding(assetID string, quantity, avgBuyPrice decimal.Decimal) (model.Holding, error) {
	asset, err := l.assets.Get(assetID)
	if err != nil {
		return model.Holding{}, err
	}
	if !quantity.IsPositive() || avgBuyPrice.IsNegative() {
		return model.Holding{}, ErrInvalidAmount
	}

	h, held := l.account.Portfolio[asset.ID]
	if !held {
		h = model.Holding{AssetID: asset.ID, Ticker: asset.Ticker, Name: asset.Name}
	}
	h.AvgBuyPrice = weightedAverage(h.Quantity, h.AvgBuyPrice, quantity, avgBuyPrice)
	h.Quantity = h.Quantity.Add(quantity)
	l.account.Portfolio[asset.ID] = h
	return h, nil
}

// weightedAverage is (q0*p0 + q1*p1) / (q0 + q1).
func weightedAverage(q0, p0, q1, p1 decimal.Decimal) decimal.Decimal {
	qty := q0.Add(q1)
	if qty.IsZero() {
		return decimal.Zero
	}
	return q0.Mul(p0).Add(q1.Mul(p1)).Div(qty)
}

func (l *Ledger) commit(tx model.Transaction) model.Transaction {
	tx.Status = model.TxExecuted
	return l.record(tx)
}

func (l *Ledger) fail(tx model.Transaction, cause error, title string) (model.Transaction, error) {
	tx.Status = model.TxFailed
	tx.Reason = cause.Error()
	tx = l.record(tx)

	slog.Warn("transaction failed",
		"tx_id", tx.ID,
		"type", tx.Type,
		"asset", tx.AssetTicker,
		"total", tx.Total.String(),
		"err", cause,
	)
	l.notify(model.NotifyError, title, failureMessage(tx, cause))
	return tx, cause
}

func (l *Ledger) record(tx model.Transaction) model.Transaction {
	stored, err := l.journal.Append(tx)
	if err != nil {
		// Only terminal statuses reach this point.
		panic(fmt.Sprintf("ledger: journal rejected transaction: %v", err))
	}
	return stored
}

func (l *Ledger) notify(kind model.NotificationKind, title, message string) {
	if l.notifier != nil {
		l.notifier.Notify(kind, title, message)
	}
}

func failureMessage(tx model.Transaction, cause error) string {
	switch {
	case errors.Is(cause, ErrInsufficientFunds):
		return fmt.Sprintf("Insufficient funds for %s of $%s", tx.Type, tx.Total.StringFixed(2))
	case errors.Is(cause, ErrInsufficientHoldings):
		return fmt.Sprintf("Not enough %s to sell %s", tx.AssetTicker, tx.Quantity.String())
	default:
		return fmt.Sprintf("%s rejected: amount must be positive", tx.Type)
	}
}
