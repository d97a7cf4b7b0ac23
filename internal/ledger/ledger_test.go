package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/journal"
	"github.com/credo/carbon-engine/internal/model"
	"github.com/credo/carbon-engine/internal/notify"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const assetID = "amazon-redd"

func testCatalog(t testing.TB) *credit.Catalog {
	t.Helper()
	c := credit.NewCatalog()
	err := c.Register(credit.Asset{
		ID:      assetID,
		Ticker:  "VCS-AMZN-2021",
		Name:    "Amazon Rainforest REDD+",
		Type:    credit.Forestry,
		Vintage: 2021,
		Price:   d(50),
	})
	if err != nil {
		t.Fatalf("register asset: %v", err)
	}
	return c
}

// newTestLedger creates a ledger funded with balance.
func newTestLedger(t testing.TB, balance float64) (*Ledger, *journal.Journal, *notify.Sink) {
	t.Helper()
	sink := notify.NewSink(0)
	j := journal.New(sink)
	l := New("alice", testCatalog(t), j, sink)
	if balance > 0 {
		if _, err := l.Deposit(d(balance)); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}
	return l, j, sink
}

func TestDeposit(t *testing.T) {
	l, j, _ := newTestLedger(t, 0)

	tx, err := l.Deposit(d(250))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if tx.Status != model.TxExecuted || tx.Type != model.TxDeposit {
		t.Errorf("unexpected transaction %+v", tx)
	}
	if !l.Balance().Equal(d(250)) {
		t.Errorf("expected balance 250, got %s", l.Balance())
	}
	if j.Len() != 1 {
		t.Errorf("expected 1 journal row, got %d", j.Len())
	}
}

func TestDeposit_NonPositive(t *testing.T) {
	l, j, _ := newTestLedger(t, 0)

	tx, err := l.Deposit(d(-5))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if tx.Status != model.TxFailed {
		t.Errorf("expected failed transaction, got %s", tx.Status)
	}
	if !l.Balance().IsZero() {
		t.Errorf("balance must stay 0, got %s", l.Balance())
	}
	if j.Len() != 1 {
		t.Errorf("failed deposit should still be journaled")
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	l, j, sink := newTestLedger(t, 500)

	tx, err := l.Withdraw(d(2000))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !l.Balance().Equal(d(500)) {
		t.Errorf("balance must remain 500, got %s", l.Balance())
	}
	if tx.Status != model.TxFailed {
		t.Errorf("expected failed transaction, got %s", tx.Status)
	}
	last := j.Transactions()[j.Len()-1]
	if last.ID != tx.ID || last.Status != model.TxFailed {
		t.Errorf("failed withdrawal should be the last journal row")
	}
	if sink.List()[0].Type != model.NotifyError {
		t.Errorf("expected an error notification, got %s", sink.List()[0].Type)
	}
}

func TestWithdraw_ExactBalance(t *testing.T) {
	l, _, _ := newTestLedger(t, 500)

	if _, err := l.Withdraw(d(500)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !l.Balance().IsZero() {
		t.Errorf("expected zero balance, got %s", l.Balance())
	}
}

func TestExecuteTrade_BuyIssuesCertificate(t *testing.T) {
	l, j, _ := newTestLedger(t, 1000)

	res, err := l.ExecuteTrade(assetID, model.SideBuy, d(10), d(50))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !l.Balance().Equal(d(500)) {
		t.Errorf("expected balance 500, got %s", l.Balance())
	}
	h, ok := l.Holding(assetID)
	if !ok {
		t.Fatal("expected a holding")
	}
	if !h.Quantity.Equal(d(10)) || !h.AvgBuyPrice.Equal(d(50)) {
		t.Errorf("expected {10 @ 50}, got {%s @ %s}", h.Quantity, h.AvgBuyPrice)
	}
	if res.Certificate == nil {
		t.Fatal("expected a certificate for a buy")
	}
	if res.Certificate.Status != model.CertActive || !res.Certificate.Quantity.Equal(d(10)) || res.Certificate.Vintage != 2021 {
		t.Errorf("unexpected certificate %+v", res.Certificate)
	}
	if res.Transaction.TxHash != res.Certificate.TxHash {
		t.Error("buy transaction should link the certificate hash")
	}
	if len(j.Certificates()) != 1 {
		t.Errorf("expected 1 certificate in registry, got %d", len(j.Certificates()))
	}
}

func TestExecuteTrade_AveragePrice(t *testing.T) {
	l, _, _ := newTestLedger(t, 10000)

	l.ExecuteTrade(assetID, model.SideBuy, d(10), d(50))
	l.ExecuteTrade(assetID, model.SideBuy, d(30), d(70))

	h, _ := l.Holding(assetID)
	// (10*50 + 30*70) / 40 = 65
	if !h.AvgBuyPrice.Equal(d(65)) {
		t.Errorf("expected avg 65, got %s", h.AvgBuyPrice)
	}

	l.ExecuteTrade(assetID, model.SideSell, d(15), d(90))
	h, _ = l.Holding(assetID)
	if !h.AvgBuyPrice.Equal(d(65)) {
		t.Errorf("selling must not change avg, got %s", h.AvgBuyPrice)
	}
	if !h.Quantity.Equal(d(25)) {
		t.Errorf("expected 25 remaining, got %s", h.Quantity)
	}
}

func TestExecuteTrade_BuyInsufficientFunds(t *testing.T) {
	l, j, _ := newTestLedger(t, 100)

	res, err := l.ExecuteTrade(assetID, model.SideBuy, d(10), d(50))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if res.Transaction.Status != model.TxFailed || res.Certificate != nil {
		t.Errorf("expected failed transaction without certificate, got %+v", res)
	}
	if !l.Balance().Equal(d(100)) {
		t.Errorf("balance must stay 100, got %s", l.Balance())
	}
	if _, ok := l.Holding(assetID); ok {
		t.Error("no holding should be created")
	}
	if len(j.Certificates()) != 0 {
		t.Error("no certificate should be minted")
	}
}

func TestExecuteTrade_SellInsufficientHoldings(t *testing.T) {
	l, _, _ := newTestLedger(t, 1000)
	l.ExecuteTrade(assetID, model.SideBuy, d(5), d(10))

	_, err := l.ExecuteTrade(assetID, model.SideSell, d(6), d(10))
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	h, _ := l.Holding(assetID)
	if !h.Quantity.Equal(d(5)) {
		t.Errorf("holding must stay 5, got %s", h.Quantity)
	}
	if !l.Balance().Equal(d(950)) {
		t.Errorf("balance must stay 950, got %s", l.Balance())
	}
}

func TestExecuteTrade_SellAllRemovesHolding(t *testing.T) {
	l, _, _ := newTestLedger(t, 1000)
	l.ExecuteTrade(assetID, model.SideBuy, d(10), d(50))

	res, err := l.ExecuteTrade(assetID, model.SideSell, d(10), d(39))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Transaction.Status != model.TxExecuted {
		t.Errorf("expected executed, got %s", res.Transaction.Status)
	}
	if _, ok := l.Holding(assetID); ok {
		t.Error("holding should be removed at zero quantity")
	}
	if !l.Balance().Equal(d(890)) {
		t.Errorf("expected balance 890, got %s", l.Balance())
	}
}

func TestExecuteTrade_UnknownAsset(t *testing.T) {
	l, j, _ := newTestLedger(t, 1000)
	before := j.Len()

	_, err := l.ExecuteTrade("ghost", model.SideBuy, d(1), d(1))
	if !errors.Is(err, credit.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if j.Len() != before {
		t.Error("contract violations must not be journaled")
	}
}

func TestExecuteTrade_InvalidInputs(t *testing.T) {
	l, _, _ := newTestLedger(t, 1000)

	if _, err := l.ExecuteTrade(assetID, "hold", d(1), d(1)); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	res, err := l.ExecuteTrade(assetID, model.SideBuy, decimal.Zero, d(1))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if res.Transaction.Status != model.TxFailed {
		t.Errorf("zero-quantity trade should be recorded failed")
	}
}

func TestAddHolding_MergesWithoutCash(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	l.ExecuteTrade(assetID, model.SideBuy, d(2), d(10))

	h, err := l.AddHolding(assetID, d(2), d(20))
	if err != nil {
		t.Fatalf("add holding: %v", err)
	}
	if !h.Quantity.Equal(d(4)) || !h.AvgBuyPrice.Equal(d(15)) {
		t.Errorf("expected {4 @ 15}, got {%s @ %s}", h.Quantity, h.AvgBuyPrice)
	}
	if !l.Balance().Equal(d(80)) {
		t.Errorf("balance must not change, got %s", l.Balance())
	}
}

func TestAccount_ReturnsCopy(t *testing.T) {
	l, _, _ := newTestLedger(t, 1000)
	l.ExecuteTrade(assetID, model.SideBuy, d(1), d(1))

	acct := l.Account()
	acct.Portfolio[assetID] = model.Holding{Quantity: d(999)}
	h, _ := l.Holding(assetID)
	if !h.Quantity.Equal(d(1)) {
		t.Error("mutating a snapshot must not affect the ledger")
	}
}
