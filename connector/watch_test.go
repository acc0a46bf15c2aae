package connector

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCacheApplyIsMonotonic(t *testing.T) {
	c := NewWatchCache(nil)
	addr := solana.NewWallet().PublicKey()

	assert.True(t, c.Apply(Account{Address: addr, Data: []byte{1}, Slot: 10}))
	assert.False(t, c.Apply(Account{Address: addr, Data: []byte{2}, Slot: 9}))
	assert.True(t, c.Apply(Account{Address: addr, Data: []byte{3}, Slot: 10}))

	acct, err := c.FetchAccount(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, acct.Data)
	assert.Equal(t, uint64(10), acct.Slot)

	// returned data is a copy
	acct.Data[0] = 99
	again, err := c.FetchAccount(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, again.Data)
}

func TestWatchCacheFallback(t *testing.T) {
	ctx := context.Background()
	fallback := newMapFetcher()
	addr := solana.NewWallet().PublicKey()
	fallback.put(Account{Address: addr, Data: []byte{7}, Slot: 5})

	c := NewWatchCache(fallback)
	acct, err := c.FetchAccount(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, acct.Data)

	_, err = c.FetchAccount(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.calls, "second read is served from the cache")

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	_, err = NewWatchCache(nil).FetchAccount(ctx, addr)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestWatchCacheWatched(t *testing.T) {
	c := NewWatchCache(nil)
	a, b := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	c.Watch(a, b, a, solana.PublicKey{})
	got := c.Watched()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []solana.PublicKey{a, b}, got)
}
