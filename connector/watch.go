package connector

import (
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// WatchCache holds the latest pushed copy of watched accounts. Reads that miss
// the cache go to the fallback fetcher and seed the cache.
type WatchCache struct {
	fallback AccountFetcher

	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
	watched  map[solana.PublicKey]struct{}
	hits     uint64
	misses   uint64
}

// NewWatchCache returns a cache over fallback, which may be nil.
func NewWatchCache(fallback AccountFetcher) *WatchCache {
	return &WatchCache{
		fallback: fallback,
		accounts: make(map[solana.PublicKey]Account),
		watched:  make(map[solana.PublicKey]struct{}),
	}
}

// Watch adds addresses to the watch set.
func (c *WatchCache) Watch(addresses ...solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range addresses {
		if a.IsZero() {
			continue
		}
		c.watched[a] = struct{}{}
	}
}

// Watched returns the watch set in a stable order.
func (c *WatchCache) Watched() []solana.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]solana.PublicKey, 0, len(c.watched))
	for a := range c.watched {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Apply stores a pushed update. Updates older than the cached slot are
// dropped; it reports whether the update was kept.
func (c *WatchCache) Apply(acct Account) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.accounts[acct.Address]; ok && acct.Slot < cur.Slot {
		return false
	}
	acct.Data = append([]byte(nil), acct.Data...)
	c.accounts[acct.Address] = acct
	return true
}

// Stats returns cache hit and miss counts.
func (c *WatchCache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// FetchAccount implements AccountFetcher.
func (c *WatchCache) FetchAccount(ctx context.Context, address solana.PublicKey) (Account, error) {
	c.mu.Lock()
	acct, ok := c.accounts[address]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	if ok {
		acct.Data = append([]byte(nil), acct.Data...)
		return acct, nil
	}
	if c.fallback == nil {
		return Account{}, ErrAccountNotFound
	}
	acct, err := c.fallback.FetchAccount(ctx, address)
	if err != nil {
		return Account{}, err
	}
	c.Apply(acct)
	return acct, nil
}
