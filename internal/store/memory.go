package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/credo/carbon-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	txs      []model.Transaction
	certs    map[string]model.Certificate
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.Account),
		certs:    make(map[string]model.Certificate),
	}
}

func (s *MemoryStore) SaveAccount(_ context.Context, acct model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.accounts[acct.Owner] = acct.Clone()
	return nil
}

func (s *MemoryStore) LoadAccount(_ context.Context, owner string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[owner]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account %s", ErrNotFound, owner)
	}
	return acct.Clone(), nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.txs {
		if existing.ID == tx.ID {
			return fmt.Errorf("transaction %s already exists", tx.ID)
		}
	}
	s.txs = append(s.txs, tx)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Transaction(nil), s.txs...), nil
}

func (s *MemoryStore) SaveCertificate(_ context.Context, c model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.certs[c.ID] = c
	return nil
}

func (s *MemoryStore) ListCertificates(_ context.Context) ([]model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	certs := make([]model.Certificate, 0, len(s.certs))
	for _, c := range s.certs {
		certs = append(certs, c)
	}
	sort.Slice(certs, func(i, j int) bool { return certs[i].BlockNumber < certs[j].BlockNumber })
	return certs, nil
}

func (s *MemoryStore) Close() error { return nil }
