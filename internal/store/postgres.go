package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	owner      TEXT PRIMARY KEY,
	balance    NUMERIC NOT NULL,
	watchlist  TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE accounts ADD COLUMN IF NOT EXISTS watchlist TEXT NOT NULL DEFAULT '';
CREATE TABLE IF NOT EXISTS holdings (
	owner         TEXT NOT NULL REFERENCES accounts(owner) ON DELETE CASCADE,
	asset_id      TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	name          TEXT NOT NULL,
	quantity      NUMERIC NOT NULL,
	avg_buy_price NUMERIC NOT NULL,
	PRIMARY KEY (owner, asset_id)
);
CREATE TABLE IF NOT EXISTS transactions (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT UNIQUE NOT NULL,
	type         TEXT NOT NULL,
	asset_id     TEXT NOT NULL DEFAULT '',
	asset_ticker TEXT NOT NULL DEFAULT '',
	asset_name   TEXT NOT NULL DEFAULT '',
	quantity     NUMERIC NOT NULL,
	price        NUMERIC NOT NULL,
	total        NUMERIC NOT NULL,
	date         TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	tx_hash      TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS certificates (
	id                TEXT PRIMARY KEY,
	tx_hash           TEXT NOT NULL,
	block_number      BIGINT NOT NULL,
	asset_id          TEXT NOT NULL,
	asset_name        TEXT NOT NULL,
	ticker            TEXT NOT NULL,
	quantity          NUMERIC NOT NULL,
	vintage           INT NOT NULL,
	owner             TEXT NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL,
	status            TEXT NOT NULL,
	retirement_reason TEXT NOT NULL DEFAULT '',
	retired_at        TIMESTAMPTZ
);`

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) SaveAccount(ctx context.Context, acct model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (owner, balance, watchlist, updated_at) VALUES ($1, $2::NUMERIC, $3, now())
		 ON CONFLICT (owner) DO UPDATE SET balance = EXCLUDED.balance, watchlist = EXCLUDED.watchlist, updated_at = now()`,
		acct.Owner, acct.Balance.String(), joinWatchlist(acct.Watchlist))
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", acct.Owner, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM holdings WHERE owner = $1`, acct.Owner); err != nil {
		return err
	}
	for _, h := range acct.Portfolio {
		_, err := tx.Exec(ctx,
			`INSERT INTO holdings (owner, asset_id, ticker, name, quantity, avg_buy_price)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC)`,
			acct.Owner, h.AssetID, h.Ticker, h.Name, h.Quantity.String(), h.AvgBuyPrice.String())
		if err != nil {
			return fmt.Errorf("insert holding %s: %w", h.AssetID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadAccount(ctx context.Context, owner string) (model.Account, error) {
	var balance, watchlist string
	err := s.pool.QueryRow(ctx, `SELECT balance::TEXT, watchlist FROM accounts WHERE owner = $1`, owner).Scan(&balance, &watchlist)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: account %s", ErrNotFound, owner)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", owner, err)
	}

	acct := model.Account{Owner: owner, Portfolio: make(map[string]model.Holding), Watchlist: splitWatchlist(watchlist)}
	acct.Balance, _ = decimal.NewFromString(balance)

	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, ticker, name, quantity::TEXT, avg_buy_price::TEXT
		 FROM holdings WHERE owner = $1`, owner)
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

func (s *PostgresStore) InsertTransaction(ctx context.Context, t model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, type, asset_id, asset_ticker, asset_name, quantity, price, total, date, status, tx_hash, reason)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		t.ID, string(t.Type), t.AssetID, t.AssetTicker, t.AssetName,
		t.Quantity.String(), t.Price.String(), t.Total.String(),
		t.Date, string(t.Status), t.TxHash, t.Reason,
	)
	return err
}

func (s *PostgresStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, asset_id, asset_ticker, asset_name,
		        quantity::TEXT, price::TEXT, total::TEXT,
		        date, status, tx_hash, reason
		 FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ, status, qty, price, total string
		if err := rows.Scan(&t.ID, &typ, &t.AssetID, &t.AssetTicker, &t.AssetName,
			&qty, &price, &total,
			&t.Date, &status, &t.TxHash, &t.Reason); err != nil {
			return nil, err
		}
		t.Type = model.TransactionType(typ)
		t.Status = model.TransactionStatus(status)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) SaveCertificate(ctx context.Context, c model.Certificate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO certificates (id, tx_hash, block_number, asset_id, asset_name, ticker, quantity, vintage, owner, timestamp, status, retirement_reason, retired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     retirement_reason = EXCLUDED.retirement_reason,
		     retired_at = EXCLUDED.retired_at`,
		c.ID, c.TxHash, c.BlockNumber, c.AssetID, c.AssetName, c.Ticker,
		c.Quantity.String(), c.Vintage, c.Owner, c.Timestamp,
		string(c.Status), c.RetirementReason, c.RetiredAt,
	)
	return err
}

func (s *PostgresStore) ListCertificates(ctx context.Context) ([]model.Certificate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tx_hash, block_number, asset_id, asset_name, ticker,
		        quantity::TEXT, vintage, owner, timestamp,
		        status, retirement_reason, retired_at
		 FROM certificates ORDER BY block_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		var c model.Certificate
		var qty, status string
		var retiredAt *time.Time
		if err := rows.Scan(&c.ID, &c.TxHash, &c.BlockNumber, &c.AssetID, &c.AssetName, &c.Ticker,
			&qty, &c.Vintage, &c.Owner, &c.Timestamp,
			&status, &c.RetirementReason, &retiredAt); err != nil {
			return nil, err
		}
		c.Quantity, _ = decimal.NewFromString(qty)
		c.Status = model.CertificateStatus(status)
		c.RetiredAt = retiredAt
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
