// Package store mirrors engine state to durable storage. The engine stays the
// source of truth while running; a store is read back once at start-up.
// Implementations: PostgreSQL, SQLite, Redis read-through cache over either,
// and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/credo/carbon-engine/internal/model"
)

// ErrNotFound is returned by LoadAccount when nothing was saved for the owner.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Account ---

	// SaveAccount replaces the persisted balance, portfolio and watchlist of
	// an owner.
	SaveAccount(ctx context.Context, acct model.Account) error

	// LoadAccount returns the last saved account, or ErrNotFound.
	LoadAccount(ctx context.Context, owner string) (model.Account, error)

	// --- Append-only journal ---

	// InsertTransaction appends a terminal transaction.
	InsertTransaction(ctx context.Context, tx model.Transaction) error

	// ListTransactions returns all transactions in insertion order.
	ListTransactions(ctx context.Context) ([]model.Transaction, error)

	// --- Certificates ---

	// SaveCertificate inserts a certificate or updates its retirement state.
	SaveCertificate(ctx context.Context, c model.Certificate) error

	// ListCertificates returns all certificates ordered by block number.
	ListCertificates(ctx context.Context) ([]model.Certificate, error)

	Close() error
}

// Asset ids never contain commas, so SQL stores keep the watchlist as one
// comma-separated column.
func joinWatchlist(ids []string) string { return strings.Join(ids, ",") }

func splitWatchlist(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
