// Package journal keeps the append-only transaction history and the registry
// of simulated blockchain certificates. Only the account ledger writes to it.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/model"
)

// GenesisBlock is the first simulated block height handed out.
const GenesisBlock int64 = 18_400_000

var (
	ErrCertificateNotFound = errors.New("journal: certificate not found")
	ErrAlreadyRetired      = errors.New("journal: certificate already retired")
	ErrInvalidReason       = errors.New("journal: retirement reason is required")
	ErrInvalidQuantity     = errors.New("journal: certificate quantity must be positive")
	ErrNotTerminal         = errors.New("journal: transaction status must be terminal")
)

// Notifier receives user-facing events.
type Notifier interface {
	Notify(kind model.NotificationKind, title, message string) model.Notification
}

// Recorder mirrors every journal write, e.g. to a persistent store.
type Recorder interface {
	RecordTransaction(tx model.Transaction)
	RecordCertificate(cert model.Certificate)
}

// Journal is not safe for concurrent use; the engine serializes access.
type Journal struct {
	txs       []model.Transaction
	certs     []model.Certificate
	certIndex map[string]int
	nextBlock int64

	notifier Notifier
	recorder Recorder
	now      func() time.Time
}

// New creates an empty journal. notifier may be nil.
func New(notifier Notifier) *Journal {
	return &Journal{
		certIndex: make(map[string]int),
		nextBlock: GenesisBlock,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder installs the write mirror.
func (j *Journal) SetRecorder(r Recorder) { j.recorder = r }

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(now func() time.Time) { j.now = now }

// Append records a terminal transaction and returns the stored copy.
func (j *Journal) Append(tx model.Transaction) (model.Transaction, error) {
	if !tx.Status.Terminal() {
		return model.Transaction{}, fmt.Errorf("%w: %s", ErrNotTerminal, tx.Status)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Date.IsZero() {
		tx.Date = j.now()
	}
	j.txs = append(j.txs, tx)
	if j.recorder != nil {
		j.recorder.RecordTransaction(tx)
	}
	return tx, nil
}

// Transactions returns the full history in chronological order.
func (j *Journal) Transactions() []model.Transaction {
	return append([]model.Transaction(nil), j.txs...)
}

// Recent returns up to n of the latest transactions, newest first.
func (j *Journal) Recent(n int) []model.Transaction {
	if n < 0 {
		n = 0
	}
	if n > len(j.txs) {
		n = len(j.txs)
	}
	out := make([]model.Transaction, 0, n)
	for i := len(j.txs) - 1; i >= len(j.txs)-n; i-- {
		out = append(out, j.txs[i])
	}
	return out
}

// Len is the number of recorded transactions.
func (j *Journal) Len() int { return len(j.txs) }

// Issue mints an active certificate for a purchased lot.
func (j *Journal) Issue(asset credit.Asset, quantity decimal.Decimal, owner string) (model.Certificate, error) {
	if !quantity.IsPositive() {
		return model.Certificate{}, ErrInvalidQuantity
	}

	ts := j.now()
	cert := model.Certificate{
		ID:          uuid.New().String(),
		BlockNumber: j.nextBlock,
		AssetID:     asset.ID,
		AssetName:   asset.Name,
		Ticker:      asset.Ticker,
		Quantity:    quantity,
		Vintage:     asset.Vintage,
		Owner:       owner,
		Timestamp:   ts,
		Status:      model.CertActive,
	}
	cert.TxHash = txHash(cert)
	j.nextBlock++

	j.certIndex[cert.ID] = len(j.certs)
	j.certs = append(j.certs, cert)
	if j.recorder != nil {
		j.recorder.RecordCertificate(cert)
	}
	if j.notifier != nil {
		j.notifier.Notify(model.NotifySuccess, "Certificate Minted",
			fmt.Sprintf("%s t of %s anchored in block #%d", quantity.String(), asset.Ticker, cert.BlockNumber))
	}
	return cert, nil
}

// Retire permanently retires an active certificate. The portfolio is not touched.
func (j *Journal) Retire(id, reason string) (model.Certificate, error) {
	reason = strings.TrimSpace(reason)
	idx, ok := j.certIndex[id]
	if !ok {
		return model.Certificate{}, fmt.Errorf("%w: %s", ErrCertificateNotFound, id)
	}
	cert := &j.certs[idx]
	if cert.Status == model.CertRetired {
		return model.Certificate{}, fmt.Errorf("%w: %s", ErrAlreadyRetired, id)
	}
	if reason == "" {
		return model.Certificate{}, ErrInvalidReason
	}

	at := j.now()
	cert.Status = model.CertRetired
	cert.RetirementReason = reason
	cert.RetiredAt = &at

	if j.recorder != nil {
		j.recorder.RecordCertificate(*cert)
	}
	slog.Info("certificate retired", "certificate_id", cert.ID, "ticker", cert.Ticker, "quantity", cert.Quantity.String())
	if j.notifier != nil {
		j.notifier.Notify(model.NotifySuccess, "Credits Retired",
			fmt.Sprintf("%s t of %s retired: %s", cert.Quantity.String(), cert.Ticker, reason))
	}
	return *cert, nil
}

// Certificate looks up one certificate.
func (j *Journal) Certificate(id string) (model.Certificate, error) {
	idx, ok := j.certIndex[id]
	if !ok {
		return model.Certificate{}, fmt.Errorf("%w: %s", ErrCertificateNotFound, id)
	}
	return j.certs[idx], nil
}

// Certificates returns the registry in issue order.
func (j *Journal) Certificates() []model.Certificate {
	return append([]model.Certificate(nil), j.certs...)
}

// RetiredTonnes sums the quantity of all retired certificates.
func (j *Journal) RetiredTonnes() decimal.Decimal {
	total := decimal.Zero
	for _, c := range j.certs {
		if c.Status == model.CertRetired {
			total = total.Add(c.Quantity)
		}
	}
	return total
}

// TradedVolume sums executed buy and sell quantities per asset.
func (j *Journal) TradedVolume() map[string]decimal.Decimal {
	vol := make(map[string]decimal.Decimal)
	for _, tx := range j.txs {
		if tx.Status != model.TxExecuted || (tx.Type != model.TxBuy && tx.Type != model.TxSell) {
			continue
		}
		vol[tx.AssetID] = vol[tx.AssetID].Add(tx.Quantity)
	}
	return vol
}

// Restore replaces the journal contents with persisted rows.
func (j *Journal) Restore(txs []model.Transaction, certs []model.Certificate) {
	j.txs = append([]model.Transaction(nil), txs...)
	j.certs = append([]model.Certificate(nil), certs...)
	j.certIndex = make(map[string]int, len(certs))
	j.nextBlock = GenesisBlock
	for i, c := range j.certs {
		j.certIndex[c.ID] = i
		if c.BlockNumber >= j.nextBlock {
			j.nextBlock = c.BlockNumber + 1
		}
	}
}

// txHash derives a deterministic 32-byte hash for a certificate.
func txHash(c model.Certificate) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d",
		c.ID, c.AssetID, c.Quantity.String(), c.BlockNumber, c.Timestamp.UnixNano())))
	return "0x" + hex.EncodeToString(sum[:])
}
