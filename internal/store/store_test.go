package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testStore runs the shared contract against one implementation.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	t.Run("load missing account", func(t *testing.T) {
		if _, err := s.LoadAccount(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("account round trip", func(t *testing.T) {
		acct := model.Account{
			Owner:   "alice",
			Balance: d(1234.56),
			Portfolio: map[string]model.Holding{
				"amazon-redd": {AssetID: "amazon-redd", Ticker: "VCS-AMZN-2021", Name: "Amazon", Quantity: d(10), AvgBuyPrice: d(14.5)},
			},
		}
		if err := s.SaveAccount(ctx, acct); err != nil {
			t.Fatalf("save: %v", err)
		}

		// Replacing drops holdings that are gone.
		acct.Balance = d(99.01)
		acct.Watchlist = []string{"kenya-cookstoves", "amazon-redd"}
		acct.Portfolio = map[string]model.Holding{
			"gujarat-wind": {AssetID: "gujarat-wind", Ticker: "GS-GUJW-2022", Name: "Gujarat", Quantity: d(3), AvgBuyPrice: d(6.2)},
		}
		if err := s.SaveAccount(ctx, acct); err != nil {
			t.Fatalf("save again: %v", err)
		}

		got, err := s.LoadAccount(ctx, "alice")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !got.Balance.Equal(d(99.01)) {
			t.Errorf("expected balance 99.01, got %s", got.Balance)
		}
		if len(got.Portfolio) != 1 {
			t.Fatalf("expected 1 holding, got %d", len(got.Portfolio))
		}
		h := got.Portfolio["gujarat-wind"]
		if !h.Quantity.Equal(d(3)) || !h.AvgBuyPrice.Equal(d(6.2)) || h.Ticker != "GS-GUJW-2022" {
			t.Errorf("unexpected holding %+v", h)
		}
		if len(got.Watchlist) != 2 || got.Watchlist[0] != "kenya-cookstoves" || got.Watchlist[1] != "amazon-redd" {
			t.Errorf("expected watchlist in order, got %v", got.Watchlist)
		}
	})

	t.Run("transactions keep insertion order", func(t *testing.T) {
		for i, id := range []string{"tx-b", "tx-a", "tx-c"} {
			err := s.InsertTransaction(ctx, model.Transaction{
				ID:       id,
				Type:     model.TxBuy,
				AssetID:  "amazon-redd",
				Quantity: d(float64(i + 1)),
				Price:    d(14.5),
				Total:    d(14.5).Mul(d(float64(i + 1))),
				Date:     ts,
				Status:   model.TxExecuted,
			})
			if err != nil {
				t.Fatalf("insert %s: %v", id, err)
			}
		}
		if err := s.InsertTransaction(ctx, model.Transaction{ID: "tx-a", Date: ts, Status: model.TxExecuted}); err == nil {
			t.Error("duplicate transaction id should be rejected")
		}

		txs, err := s.ListTransactions(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(txs) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(txs))
		}
		if txs[0].ID != "tx-b" || txs[1].ID != "tx-a" || txs[2].ID != "tx-c" {
			t.Errorf("unexpected order %s %s %s", txs[0].ID, txs[1].ID, txs[2].ID)
		}
		if !txs[2].Total.Equal(d(43.5)) || !txs[2].Date.Equal(ts) {
			t.Errorf("unexpected row %+v", txs[2])
		}
	})

	t.Run("certificate upsert", func(t *testing.T) {
		c := model.Certificate{
			ID:          "cert-2",
			TxHash:      "0xabc",
			BlockNumber: 18_400_002,
			AssetID:     "amazon-redd",
			AssetName:   "Amazon",
			Ticker:      "VCS-AMZN-2021",
			Quantity:    d(5),
			Vintage:     2021,
			Owner:       "alice",
			Timestamp:   ts,
			Status:      model.CertActive,
		}
		first := c
		first.ID = "cert-1"
		first.BlockNumber = 18_400_001
		for _, cert := range []model.Certificate{c, first} {
			if err := s.SaveCertificate(ctx, cert); err != nil {
				t.Fatalf("save: %v", err)
			}
		}

		retired := ts.Add(time.Hour)
		c.Status = model.CertRetired
		c.RetirementReason = "2024 offsets"
		c.RetiredAt = &retired
		if err := s.SaveCertificate(ctx, c); err != nil {
			t.Fatalf("retire: %v", err)
		}

		certs, err := s.ListCertificates(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(certs) != 2 {
			t.Fatalf("expected 2 certificates, got %d", len(certs))
		}
		if certs[0].ID != "cert-1" {
			t.Errorf("expected block order, got %s first", certs[0].ID)
		}
		got := certs[1]
		if got.Status != model.CertRetired || got.RetirementReason != "2024 offsets" {
			t.Errorf("unexpected retirement state %+v", got)
		}
		if got.RetiredAt == nil || !got.RetiredAt.Equal(retired) {
			t.Errorf("expected retired_at %v, got %v", retired, got.RetiredAt)
		}
		if !got.Quantity.Equal(d(5)) || got.Vintage != 2021 {
			t.Errorf("unexpected certificate %+v", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "carbon.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carbon.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveAccount(ctx, model.Account{Owner: "bob", Balance: d(42)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	acct, err := s.LoadAccount(ctx, "bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !acct.Balance.Equal(d(42)) || acct.Portfolio == nil || acct.Watchlist != nil {
		t.Errorf("unexpected account %+v", acct)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acct := model.Account{Owner: "alice", Balance: d(1), Portfolio: map[string]model.Holding{}}
	s.SaveAccount(ctx, acct)

	acct.Portfolio["x"] = model.Holding{Quantity: d(1)}
	got, _ := s.LoadAccount(ctx, "alice")
	if len(got.Portfolio) != 0 {
		t.Error("saved account must not alias the caller's map")
	}
}
