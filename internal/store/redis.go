package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credo/carbon-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and refresh or invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveAccount(ctx context.Context, acct model.Account) error {
	if err := s.primary.SaveAccount(ctx, acct); err != nil {
		return err
	}
	s.cacheAccount(ctx, acct)
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) SaveCertificate(ctx context.Context, c model.Certificate) error {
	if err := s.primary.SaveCertificate(ctx, c); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, certificatesKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadAccount(ctx context.Context, owner string) (model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(owner)).Bytes()
	if err == nil {
		var acct model.Account
		if json.Unmarshal(data, &acct) == nil {
			if acct.Portfolio == nil {
				acct.Portfolio = make(map[string]model.Holding)
			}
			return acct, nil
		}
	}

	// Cache miss.
	acct, err := s.primary.LoadAccount(ctx, owner)
	if err != nil {
		return model.Account{}, err
	}
	s.cacheAccount(ctx, acct)
	return acct, nil
}

func (s *CachedStore) ListCertificates(ctx context.Context) ([]model.Certificate, error) {
	data, err := s.rdb.Get(ctx, certificatesKey).Bytes()
	if err == nil {
		var certs []model.Certificate
		if json.Unmarshal(data, &certs) == nil {
			return certs, nil
		}
	}

	certs, err := s.primary.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(certs); err == nil {
		s.rdb.Set(ctx, certificatesKey, data, s.ttl)
	}
	return certs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx)
}

func (s *CachedStore) Close() error {
	rerr := s.rdb.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return rerr
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, acct model.Account) {
	if data, err := json.Marshal(acct); err == nil {
		s.rdb.Set(ctx, accountKey(acct.Owner), data, s.ttl)
	}
}

const certificatesKey = "carbon:certificates"

func accountKey(owner string) string { return fmt.Sprintf("carbon:account:%s", owner) }
