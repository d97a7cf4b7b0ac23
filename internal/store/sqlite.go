package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/model"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
var _ Store = (*CachedStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	owner     TEXT PRIMARY KEY,
	balance   TEXT NOT NULL,
	watchlist TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS holdings (
	owner         TEXT NOT NULL,
	asset_id      TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	name          TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	avg_buy_price TEXT NOT NULL,
	PRIMARY KEY (owner, asset_id)
);
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	asset_id     TEXT NOT NULL,
	asset_ticker TEXT NOT NULL,
	asset_name   TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	total        TEXT NOT NULL,
	date         TEXT NOT NULL,
	status       TEXT NOT NULL,
	tx_hash      TEXT NOT NULL,
	reason       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS certificates (
	id                TEXT PRIMARY KEY,
	tx_hash           TEXT NOT NULL,
	block_number      INTEGER NOT NULL,
	asset_id          TEXT NOT NULL,
	asset_name        TEXT NOT NULL,
	ticker            TEXT NOT NULL,
	quantity          TEXT NOT NULL,
	vintage           INTEGER NOT NULL,
	owner             TEXT NOT NULL,
	timestamp         TEXT NOT NULL,
	status            TEXT NOT NULL,
	retirement_reason TEXT NOT NULL,
	retired_at        TEXT
);`

// SQLiteStore implements Store backed by a single SQLite file. Decimals and
// timestamps are stored as TEXT so they round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	// Files created before the watchlist column existed.
	if _, err := db.Exec(`ALTER TABLE accounts ADD COLUMN watchlist TEXT NOT NULL DEFAULT ''`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite accounts: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, acct model.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (owner, balance, watchlist) VALUES (?, ?, ?)
		 ON CONFLICT (owner) DO UPDATE SET balance = excluded.balance, watchlist = excluded.watchlist`,
		acct.Owner, acct.Balance.String(), joinWatchlist(acct.Watchlist)); err != nil {
		return fmt.Errorf("upsert account %s: %w", acct.Owner, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE owner = ?`, acct.Owner); err != nil {
		return err
	}
	for _, h := range acct.Portfolio {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holdings (owner, asset_id, ticker, name, quantity, avg_buy_price)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			acct.Owner, h.AssetID, h.Ticker, h.Name, h.Quantity.String(), h.AvgBuyPrice.String()); err != nil {
			return fmt.Errorf("insert holding %s: %w", h.AssetID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadAccount(ctx context.Context, owner string) (model.Account, error) {
	var balance, watchlist string
	err := s.db.QueryRowContext(ctx, `SELECT balance, watchlist FROM accounts WHERE owner = ?`, owner).Scan(&balance, &watchlist)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: account %s", ErrNotFound, owner)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", owner, err)
	}

	acct := model.Account{Owner: owner, Portfolio: make(map[string]model.Holding), Watchlist: splitWatchlist(watchlist)}
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return model.Account{}, fmt.Errorf("account %s balance: %w", owner, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, ticker, name, quantity, avg_buy_price FROM holdings WHERE owner = ?`, owner)
	if err != nil {
		return model.Account{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var h model.Holding
		var qty, avg string
		if err := rows.Scan(&h.AssetID, &h.Ticker, &h.Name, &qty, &avg); err != nil {
			return model.Account{}, err
		}
		h.Quantity, _ = decimal.NewFromString(qty)
		h.AvgBuyPrice, _ = decimal.NewFromString(avg)
		acct.Portfolio[h.AssetID] = h
	}
	return acct, rows.Err()
}

func (s *SQLiteStore) InsertTransaction(ctx context.Context, t model.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, type, asset_id, asset_ticker, asset_name, quantity, price, total, date, status, tx_hash, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), t.AssetID, t.AssetTicker, t.AssetName,
		t.Quantity.String(), t.Price.String(), t.Total.String(),
		formatTime(t.Date), string(t.Status), t.TxHash, t.Reason,
	)
	return err
}

func (s *SQLiteStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, asset_id, asset_ticker, asset_name, quantity, price, total, date, status, tx_hash, reason
		 FROM transactions ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ, status, qty, price, total, date string
		if err := rows.Scan(&t.ID, &typ, &t.AssetID, &t.AssetTicker, &t.AssetName,
			&qty, &price, &total, &date, &status, &t.TxHash, &t.Reason); err != nil {
			return nil, err
		}
		t.Type = model.TransactionType(typ)
		t.Status = model.TransactionStatus(status)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		if t.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("transaction %s date: %w", t.ID, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *SQLiteStore) SaveCertificate(ctx context.Context, c model.Certificate) error {
	var retiredAt sql.NullString
	if c.RetiredAt != nil {
		retiredAt = sql.NullString{String: formatTime(*c.RetiredAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO certificates (id, tx_hash, block_number, asset_id, asset_name, ticker, quantity, vintage, owner, timestamp, status, retirement_reason, retired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET status = excluded.status,
		     retirement_reason = excluded.retirement_reason,
		     retired_at = excluded.retired_at`,
		c.ID, c.TxHash, c.BlockNumber, c.AssetID, c.AssetName, c.Ticker,
		c.Quantity.String(), c.Vintage, c.Owner, formatTime(c.Timestamp),
		string(c.Status), c.RetirementReason, retiredAt,
	)
	return err
}

func (s *SQLiteStore) ListCertificates(ctx context.Context) ([]model.Certificate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tx_hash, block_number, asset_id, asset_name, ticker, quantity, vintage, owner, timestamp, status, retirement_reason, retired_at
		 FROM certificates ORDER BY block_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		var c model.Certificate
		var qty, ts, status string
		var retiredAt sql.NullString
		if err := rows.Scan(&c.ID, &c.TxHash, &c.BlockNumber, &c.AssetID, &c.AssetName, &c.Ticker,
			&qty, &c.Vintage, &c.Owner, &ts, &status, &c.RetirementReason, &retiredAt); err != nil {
			return nil, err
		}
		c.Quantity, _ = decimal.NewFromString(qty)
		c.Status = model.CertificateStatus(status)
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("certificate %s timestamp: %w", c.ID, err)
		}
		if retiredAt.Valid {
			at, err := parseTime(retiredAt.String)
			if err != nil {
				return nil, fmt.Errorf("certificate %s retired_at: %w", c.ID, err)
			}
			c.RetiredAt = &at
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
