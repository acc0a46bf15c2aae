package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/irma-engine/accounts"
	"github.com/rexbrahh/irma-engine/protocol"
)

type staticAuthority solana.PublicKey

func (a staticAuthority) Admin() solana.PublicKey { return solana.PublicKey(a) }

func newPoolRegistry(t *testing.T) (*PoolRegistry, solana.PublicKey, OrcaPoolConfig) {
	t.Helper()
	admin := solana.NewWallet().PublicKey()
	reg := NewPoolRegistry(accounts.ProgramID, staticAuthority(admin), nil)
	cfg := OrcaPoolConfig{
		PoolID:      solana.NewWallet().PublicKey(),
		TokenAMint:  solana.NewWallet().PublicKey(),
		TokenBMint:  solana.NewWallet().PublicKey(),
		TokenAVault: solana.NewWallet().PublicKey(),
		TokenBVault: solana.NewWallet().PublicKey(),
		FeeRate:     30,
		TickSpacing: 64,
	}
	return reg, admin, cfg
}

func TestCreateOrcaPool(t *testing.T) {
	ctx := context.Background()
	reg, admin, cfg := newPoolRegistry(t)

	state, err := reg.CreateOrcaPool(ctx, admin, cfg)
	require.NoError(t, err)
	assert.True(t, state.Config.Active)
	assert.Equal(t, uint64(PriceScale), state.CurrentPrice)
	want, _, err := accounts.OrcaPoolAddress(accounts.ProgramID, cfg.PoolID)
	require.NoError(t, err)
	assert.Equal(t, want, state.Address)

	info, err := reg.GetPoolInfo(cfg.PoolID)
	require.NoError(t, err)
	assert.Equal(t, state, info)
	assert.Len(t, reg.Pools(), 1)

	_, err = reg.CreateOrcaPool(ctx, admin, cfg)
	require.ErrorIs(t, err, ErrInvalidPoolConfig)
}

func TestCreateOrcaPoolRejects(t *testing.T) {
	ctx := context.Background()
	reg, admin, base := newPoolRegistry(t)

	tests := []struct {
		name    string
		signer  solana.PublicKey
		mutate  func(*OrcaPoolConfig)
		wantErr error
	}{
		{name: "not admin", signer: solana.NewWallet().PublicKey(), mutate: func(*OrcaPoolConfig) {}, wantErr: protocol.ErrUnauthorized},
		{name: "zero pool", signer: admin, mutate: func(c *OrcaPoolConfig) { c.PoolID = solana.PublicKey{} }, wantErr: ErrInvalidPoolConfig},
		{name: "same mints", signer: admin, mutate: func(c *OrcaPoolConfig) { c.TokenBMint = c.TokenAMint }, wantErr: ErrInvalidPoolConfig},
		{name: "fee too high", signer: admin, mutate: func(c *OrcaPoolConfig) { c.FeeRate = 10_001 }, wantErr: ErrInvalidPoolConfig},
		{name: "zero tick spacing", signer: admin, mutate: func(c *OrcaPoolConfig) { c.TickSpacing = 0 }, wantErr: ErrInvalidPoolConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := reg.CreateOrcaPool(ctx, tt.signer, cfg)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, reg.Pools())

	uninitialized := NewPoolRegistry(accounts.ProgramID, staticAuthority(solana.PublicKey{}), nil)
	_, err := uninitialized.CreateOrcaPool(ctx, admin, base)
	require.ErrorIs(t, err, protocol.ErrNotInitialized)
}

func TestUpdatePoolState(t *testing.T) {
	ctx := context.Background()
	reg, admin, cfg := newPoolRegistry(t)
	_, err := reg.CreateOrcaPool(ctx, admin, cfg)
	require.NoError(t, err)

	state, err := reg.UpdatePoolState(ctx, admin, cfg.PoolID, 1_050_000, 5_000, 12_345)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_050_000), state.CurrentPrice)
	assert.Equal(t, uint64(5_000), state.Liquidity)
	assert.Equal(t, uint64(12_345), state.Volume24h)

	_, err = reg.UpdatePoolState(ctx, admin, cfg.PoolID, 0, 1, 1)
	require.ErrorIs(t, err, ErrInvalidPoolConfig)
	_, err = reg.UpdatePoolState(ctx, admin, solana.NewWallet().PublicKey(), 1, 1, 1)
	require.ErrorIs(t, err, ErrPoolNotFound)
	_, err = reg.UpdatePoolState(ctx, solana.NewWallet().PublicKey(), cfg.PoolID, 1, 1, 1)
	require.ErrorIs(t, err, protocol.ErrUnauthorized)
}

func TestSimulateSwap(t *testing.T) {
	ctx := context.Background()
	reg, admin, cfg := newPoolRegistry(t)
	_, err := reg.CreateOrcaPool(ctx, admin, cfg)
	require.NoError(t, err)
	_, err = reg.UpdatePoolState(ctx, admin, cfg.PoolID, 1_250_000, 0, 0)
	require.NoError(t, err)

	quote, err := reg.SimulateSwap(cfg.PoolID, cfg.TokenAMint, math.NewInt(1_000_000), math.NewInt(1_250_000))
	require.NoError(t, err)
	assert.Equal(t, "1250000", quote.AmountOut.String())
	assert.Equal(t, cfg.TokenBMint, quote.OutputMint)

	quote, err = reg.SimulateSwap(cfg.PoolID, cfg.TokenBMint, math.NewInt(1_000_000), math.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, "800000", quote.AmountOut.String())
	assert.Equal(t, cfg.TokenAMint, quote.OutputMint)

	_, err = reg.SimulateSwap(cfg.PoolID, cfg.TokenAMint, math.NewInt(1_000_000), math.NewInt(1_250_001))
	require.ErrorIs(t, err, ErrInsufficientAmountOut)

	_, err = reg.SimulateSwap(cfg.PoolID, solana.NewWallet().PublicKey(), math.NewInt(1), math.ZeroInt())
	require.ErrorIs(t, err, ErrInvalidPoolConfig)

	_, err = reg.SimulateSwap(cfg.PoolID, cfg.TokenAMint, math.ZeroInt(), math.ZeroInt())
	require.ErrorIs(t, err, protocol.ErrInvalidAmount)

	require.NoError(t, reg.SetPoolActive(ctx, admin, cfg.PoolID, false))
	_, err = reg.SimulateSwap(cfg.PoolID, cfg.TokenAMint, math.NewInt(1), math.ZeroInt())
	require.ErrorIs(t, err, ErrPoolNotActive)
}

func TestPoolRegistryRestoresAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := accounts.NewMemoryStore()
	admin := solana.NewWallet().PublicKey()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	reg := NewPoolRegistry(accounts.ProgramID, staticAuthority(admin), nil, WithPoolStore(store))
	reg.now = func() time.Time { return clock }
	_, _, cfg := newPoolRegistry(t)
	_, err := reg.CreateOrcaPool(ctx, admin, cfg)
	require.NoError(t, err)
	_, err = reg.UpdatePoolState(ctx, admin, cfg.PoolID, 1_020_000, 7_000, 99)
	require.NoError(t, err)
	require.NoError(t, reg.SetPoolActive(ctx, admin, cfg.PoolID, false))
	before, err := reg.GetPoolInfo(cfg.PoolID)
	require.NoError(t, err)

	restarted := NewPoolRegistry(accounts.ProgramID, staticAuthority(admin), nil, WithPoolStore(store))
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	after, err := restarted.GetPoolInfo(cfg.PoolID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, after.Config.Active)
}

type failingPoolStore struct{ accounts.PoolStore }

func (failingPoolStore) SavePool(context.Context, solana.PublicKey, []byte) error {
	return errors.New("store offline")
}

func TestPoolWriteFailureLeavesRegistryUnchanged(t *testing.T) {
	ctx := context.Background()
	admin := solana.NewWallet().PublicKey()
	reg := NewPoolRegistry(accounts.ProgramID, staticAuthority(admin), nil, WithPoolStore(failingPoolStore{}))
	_, _, cfg := newPoolRegistry(t)

	_, err := reg.CreateOrcaPool(ctx, admin, cfg)
	require.Error(t, err)
	assert.Empty(t, reg.Pools())
}
