package config

import (
	"context"
	"path/filepath"
	"testing"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexbrahh/irma-engine/protocol"
)

func TestManifestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	admin := solana.NewWallet().PublicKey()
	trader := solana.NewWallet().PublicKey()
	usdc := solana.NewWallet().PublicKey()
	pair := solana.NewWallet().PublicKey()

	path := writeFile(t, "manifest.yaml", `
traders:
  - `+trader.String()+`
reserves:
  - symbol: devUSDC
    mint: `+usdc.String()+`
    decimals: 6
    mint_price: 1.05
    pair: `+pair.String()+`
    venue: dlmm
    liquidity:
      x_amount: 1000000
      y_amount: 2000000
      mode: both
  - symbol: devEURC
    mint: `+solana.NewWallet().PublicKey().String()+`
    decimals: 6
`)
	manifest, err := LoadManifest(path)
	require.NoError(t, err)

	engine := protocol.New()
	require.NoError(t, engine.Initialize(ctx, admin))

	require.NoError(t, manifest.Apply(ctx, engine, admin, nil))
	require.NoError(t, manifest.Apply(ctx, engine, admin, nil))

	reserves := engine.ListReserves()
	require.Len(t, reserves, 2)

	usdcReserve, err := engine.Reserve("devUSDC")
	require.NoError(t, err)
	assert.Equal(t, pair, usdcReserve.Pair)
	assert.Equal(t, protocol.VenueDLMM, usdcReserve.Venue)
	assert.InDelta(t, 1.05, usdcReserve.MintPrice, 1e-9)

	pairs, _ := engine.PairConfigs()
	require.Len(t, pairs, 1)
	assert.Equal(t, protocol.ModeBoth, pairs[0].Mode)
	assert.Equal(t, uint64(2000000), pairs[0].YAmount)

	_, err = engine.SaleTradeEvent(ctx, trader, "devEURC", math.NewInt(200_000_000))
	require.NoError(t, err)
}

func TestManifestValidate(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	cases := map[string]Manifest{
		"bad trader":    {Traders: []string{"nope"}},
		"bad mint":      {Reserves: []ManifestReserve{{Symbol: "devUSDC", Mint: "nope", Decimals: 6}}},
		"zero decimals": {Reserves: []ManifestReserve{{Symbol: "devUSDC", Mint: mint}}},
		"duplicate": {Reserves: []ManifestReserve{
			{Symbol: "devUSDC", Mint: mint, Decimals: 6},
			{Symbol: "devUSDC", Mint: mint, Decimals: 6},
		}},
		"liquidity without pair": {Reserves: []ManifestReserve{
			{Symbol: "devUSDC", Mint: mint, Decimals: 6, Liquidity: &ManifestLiquidity{Mode: "view"}},
		}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, m.Validate())
		})
	}
}

func TestExampleFixtures(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "fixtures", "engine.yaml"))
	require.NoError(t, err)
	require.False(t, cfg.AdminKey().IsZero())
	assert.Equal(t, "debug", cfg.Log.Level)

	manifest, err := LoadManifest(filepath.Join("..", cfg.Manifest))
	require.NoError(t, err)

	ctx := context.Background()
	engine := protocol.New()
	require.NoError(t, engine.Initialize(ctx, cfg.AdminKey()))
	require.NoError(t, manifest.Apply(ctx, engine, cfg.AdminKey(), nil))

	reserves := engine.ListReserves()
	require.Len(t, reserves, 2)
	assert.Equal(t, "devEURC", reserves[0].Symbol)
	assert.Equal(t, protocol.VenueWhirlpool, reserves[0].Venue)
	assert.InDelta(t, 1.08, reserves[0].MintPrice, 1e-9)
	assert.Equal(t, "devUSDC", reserves[1].Symbol)
	assert.Equal(t, protocol.VenueDLMM, reserves[1].Venue)

	pairs, _ := engine.PairConfigs()
	require.Len(t, pairs, 1)
	assert.Equal(t, protocol.ModeView, pairs[0].Mode)
}
