// Package model defines the core domain types shared across the carbon engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TransactionType classifies a journal row.
type TransactionType string

const (
	TxBuy      TransactionType = "buy"
	TxSell     TransactionType = "sell"
	TxDeposit  TransactionType = "deposit"
	TxWithdraw TransactionType = "withdraw"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TxExecuted  TransactionStatus = "executed"
	TxPending   TransactionStatus = "pending"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == TxExecuted || s == TxFailed || s == TxCancelled
}

// Tick is one price observation for one asset at one instant.
type Tick struct {
	AssetID   string          `json:"asset_id" yaml:"asset_id"`
	Price     decimal.Decimal `json:"price" yaml:"price"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
}

// Holding is the position in one carbon credit.
// A holding exists only while Quantity > 0.
type Holding struct {
	AssetID     string          `json:"asset_id"`
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

// Account is the cash balance plus holdings keyed by asset id. Watchlist is
// persisted alongside it.
type Account struct {
	Owner     string             `json:"owner"`
	Balance   decimal.Decimal    `json:"balance"`
	Portfolio map[string]Holding `json:"portfolio"`
	Watchlist []string           `json:"watchlist,omitempty"`
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := Account{
		Owner:     a.Owner,
		Balance:   a.Balance,
		Portfolio: make(map[string]Holding, len(a.Portfolio)),
		Watchlist: append([]string(nil), a.Watchlist...),
	}
	for id, h := range a.Portfolio {
		out.Portfolio[id] = h
	}
	return out
}

// Transaction is an immutable record of a cash movement or trade execution.
// Once it reaches a terminal status it is never modified.
type Transaction struct {
	ID          string            `json:"id" db:"id"`
	Type        TransactionType   `json:"type" db:"type"`
	AssetID     string            `json:"asset_id,omitempty" db:"asset_id"`
	AssetTicker string            `json:"asset_ticker,omitempty" db:"asset_ticker"`
	AssetName   string            `json:"asset_name,omitempty" db:"asset_name"`
	Quantity    decimal.Decimal   `json:"quantity" db:"quantity"`
	Price       decimal.Decimal   `json:"price" db:"price"`
	Total       decimal.Decimal   `json:"total" db:"total"`
	Date        time.Time         `json:"date" db:"date"`
	Status      TransactionStatus `json:"status" db:"status"`
	TxHash      string            `json:"tx_hash,omitempty" db:"tx_hash"`
	Reason      string            `json:"reason,omitempty" db:"reason"` // failure cause, empty on success
}

// CertificateStatus is the provenance state of a certificate.
type CertificateStatus string

const (
	CertActive  CertificateStatus = "active"
	CertRetired CertificateStatus = "retired"
)

// Certificate is a simulated on-chain provenance record for one purchased lot.
type Certificate struct {
	ID               string            `json:"id" db:"id"`
	TxHash           string            `json:"tx_hash" db:"tx_hash"`
	BlockNumber      int64             `json:"block_number" db:"block_number"`
	AssetID          string            `json:"asset_id" db:"asset_id"`
	AssetName        string            `json:"asset_name" db:"asset_name"`
	Ticker           string            `json:"ticker" db:"ticker"`
	Quantity         decimal.Decimal   `json:"quantity" db:"quantity"`
	Vintage          int               `json:"vintage" db:"vintage"`
	Owner            string            `json:"owner" db:"owner"`
	Timestamp        time.Time         `json:"timestamp" db:"timestamp"`
	Status           CertificateStatus `json:"status" db:"status"`
	RetirementReason string            `json:"retirement_reason,omitempty" db:"retirement_reason"`
	RetiredAt        *time.Time        `json:"retired_at,omitempty" db:"retired_at"`
}
