package accounts

import (
	"context"
	stdmath "math"
	"os"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/rexbrahh/irma-engine/protocol"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func populatedEngine(t *testing.T, opts ...protocol.Option) (*protocol.Engine, solana.PublicKey) {
	t.Helper()
	ctx := context.Background()
	e := protocol.New(append([]protocol.Option{protocol.WithClock(func() time.Time { return testNow })}, opts...)...)
	admin := solana.NewWallet().PublicKey()
	require.NoError(t, e.Initialize(ctx, admin))
	require.NoError(t, e.AddTrader(ctx, admin, solana.NewWallet().PublicKey()))
	require.NoError(t, e.AddReserve(ctx, admin, "devUSDC", solana.NewWallet().PublicKey(), 6))
	require.NoError(t, e.AddReserve(ctx, admin, "devPYUSD", solana.NewWallet().PublicKey(), 9))
	pair := solana.NewWallet().PublicKey()
	require.NoError(t, e.UpdateReserveLbpair(ctx, admin, "devUSDC", pair, protocol.VenueDLMM))
	require.NoError(t, e.ConfigurePair(ctx, admin, protocol.PairConfig{Pair: pair, XAmount: 10, YAmount: 20, Mode: protocol.ModeBoth}))
	require.NoError(t, e.SetMintPrice(ctx, admin, "devUSDC", 1.05))
	_, err := e.SaleTradeEvent(ctx, admin, "devPYUSD", math.NewIntWithDecimal(250, 9))
	require.NoError(t, err)
	return e, admin
}

func TestSnapshotEnvelopeRoundTrip(t *testing.T) {
	e, _ := populatedEngine(t)
	snap := e.Snapshot()

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, ProtocolStateDiscriminator, h.Discriminator)
	assert.Equal(t, VersionSnapshot, h.Version)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Revision, got.Revision)
	assert.Equal(t, snap.State.Admin, got.State.Admin)
	assert.Equal(t, snap.State.Traders, got.State.Traders)
	assert.Equal(t, snap.State.TradeSequence, got.State.TradeSequence)
	require.Len(t, got.State.Reserves, 2)
	for i, want := range snap.State.Reserves {
		have := got.State.Reserves[i]
		assert.Equal(t, want.Symbol, have.Symbol)
		assert.Equal(t, want.Mint, have.Mint)
		assert.Equal(t, want.Venue, have.Venue)
		assert.Equal(t, want.MintPrice, have.MintPrice)
		assert.Equal(t, want.Backing.String(), have.Backing.String())
		assert.Equal(t, want.Circulation.String(), have.Circulation.String())
		assert.Equal(t, want.Priced, have.Priced)
		assert.True(t, want.UpdatedAt.Equal(have.UpdatedAt))
	}
	assert.Equal(t, snap.Core.Pairs, got.Core.Pairs)
	assert.True(t, got.State.LastCrank.IsZero())
}

func TestDecodeSnapshotRejects(t *testing.T) {
	e, _ := populatedEngine(t)
	data, err := EncodeSnapshot(e.Snapshot())
	require.NoError(t, err)

	future := append([]byte(nil), data...)
	future[8] = 9
	_, err = DecodeSnapshot(future)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	foreign := append([]byte(nil), data...)
	foreign[0] ^= 0xff
	_, err = DecodeSnapshot(foreign)
	require.ErrorIs(t, err, ErrDiscriminator)

	_, err = DecodeSnapshot(data[:4])
	require.Error(t, err)

	legacy, err := EncodeStateMapV1(StateMapV1{})
	require.NoError(t, err)
	_, err = DecodeSnapshot(legacy)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func legacyStateMap(t *testing.T) (StateMapV1, []byte) {
	t.Helper()
	m := StateMapV1{
		Reserves: []StableStateV1{
			{
				Symbol:            "devUSDT",
				MintAddress:       solana.NewWallet().PublicKey(),
				BackingDecimals:   6,
				MintPrice:         1.2,
				BackingReserves:   uint128.From64(1_100),
				IrmaInCirculation: uint128.From64(1_000),
				PoolID:            solana.NewWallet().PublicKey(),
				Active:            true,
			},
			{
				Symbol:          "devEURC",
				MintAddress:     solana.NewWallet().PublicKey(),
				BackingDecimals: 6,
				MintPrice:       1.0,
				Active:          false,
			},
		},
		Bump: 254,
	}
	data, err := EncodeStateMapV1(m)
	require.NoError(t, err)
	return m, data
}

func TestMigrateStateMap(t *testing.T) {
	legacy, data := legacyStateMap(t)
	admin := solana.NewWallet().PublicKey()

	_, err := Migrate(data, solana.PublicKey{}, testNow)
	require.ErrorIs(t, err, protocol.ErrUnauthorized)

	upgraded, err := Migrate(data, admin, testNow)
	require.NoError(t, err)
	snap, err := DecodeSnapshot(upgraded)
	require.NoError(t, err)
	assert.Equal(t, admin, snap.State.Admin)
	assert.True(t, snap.State.Initialized)
	require.Len(t, snap.State.Reserves, 2)

	eurc, usdt := snap.State.Reserves[0], snap.State.Reserves[1]
	assert.Equal(t, "devEURC", eurc.Symbol)
	assert.False(t, eurc.Active)
	assert.Equal(t, "1000000", eurc.Backing.String(), "empty counters keep the parity seed")

	assert.Equal(t, "devUSDT", usdt.Symbol)
	assert.Equal(t, legacy.Reserves[0].MintAddress, usdt.Mint)
	assert.Equal(t, "1100000000", usdt.Backing.String())
	assert.Equal(t, "1000000000", usdt.Circulation.String())
	assert.Equal(t, protocol.VenueDLMM, usdt.Venue)
	assert.Equal(t, legacy.Reserves[0].PoolID, usdt.Pair)
	assert.Equal(t, 1.2, usdt.MintPrice)
	assert.InDelta(t, 1.1, usdt.RedemptionPrice(), 1e-12)

	again, err := Migrate(upgraded, admin, testNow)
	require.NoError(t, err)
	assert.Equal(t, upgraded, again)
}

func TestMigrateRejectsUnpricedReserves(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	for name, price := range map[string]float64{
		"zero":     0,
		"negative": -1.5,
		"nan":      stdmath.NaN(),
	} {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeStateMapV1(StateMapV1{Reserves: []StableStateV1{{
				Symbol:          "devUSDC",
				MintAddress:     solana.NewWallet().PublicKey(),
				BackingDecimals: 6,
				MintPrice:       price,
				Active:          true,
			}}})
			require.NoError(t, err)

			_, err = Migrate(data, admin, testNow)
			require.ErrorIs(t, err, protocol.ErrZeroPrice)
		})
	}
}

func TestDecodeSnapshotRejectsZeroMintPrice(t *testing.T) {
	e, _ := populatedEngine(t)
	snap := e.Snapshot()
	require.NotEmpty(t, snap.State.Reserves)
	snap.State.Reserves[0].MintPrice = 0

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	_, err = DecodeSnapshot(data)
	require.ErrorIs(t, err, protocol.ErrZeroPrice)

	store := NewMemoryStore()
	require.NoError(t, store.SaveRaw(context.Background(), data))
	_, err = Restore(context.Background(), store, protocol.New())
	require.ErrorIs(t, err, protocol.ErrZeroPrice)
}

func TestAppliedInstructionsSurviveRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e, admin := populatedEngine(t, protocol.WithCommitter(store))
	_, err := e.SaleTradeEvent(ctx, admin, "devUSDC", math.NewInt(100_000_000), protocol.InstructionID("IRMA:7"))
	require.NoError(t, err)

	restarted := protocol.New()
	ok, err := Restore(ctx, store, restarted)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"IRMA:7"}, restarted.Snapshot().State.AppliedInstructions)

	_, err = restarted.SaleTradeEvent(ctx, admin, "devUSDC", math.NewInt(100_000_000), protocol.InstructionID("IRMA:7"))
	require.ErrorIs(t, err, protocol.ErrDuplicateInstruction)
}

func TestMigrateSnapshotV2(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	old := snapshotV2{
		Revision:      12,
		Initialized:   true,
		Admin:         admin,
		TradeSequence: 4,
		Reserves: []reserveV2{{
			Symbol:      "devUSDC",
			Mint:        solana.NewWallet().PublicKey(),
			Decimals:    6,
			Venue:       string(protocol.VenueDLMM),
			MintPrice:   1.1,
			Backing:     uint128.From64(5_000_000),
			Circulation: uint128.From64(4_000_000),
			Active:      true,
			Priced:      true,
			UpdatedAt:   testNow.UnixNano(),
		}},
	}
	data, err := seal(ProtocolStateDiscriminator, VersionSnapshotV2, &old)
	require.NoError(t, err)

	_, err = DecodeSnapshot(data)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	upgraded, err := Migrate(data, solana.PublicKey{}, testNow)
	require.NoError(t, err)
	snap, err := DecodeSnapshot(upgraded)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), snap.Revision)
	assert.Equal(t, admin, snap.State.Admin)
	assert.Equal(t, uint64(4), snap.State.TradeSequence)
	assert.Empty(t, snap.State.AppliedInstructions)
	require.Len(t, snap.State.Reserves, 1)
	assert.Equal(t, "5000000", snap.State.Reserves[0].Backing.String())
}

func TestResolveSeed(t *testing.T) {
	for seed, want := range map[string]Kind{
		"state":          KindProtocolState,
		"state_v4":       KindProtocolState,
		"state_v5":       KindProtocolState,
		"protocol_state": KindProtocolState,
		"core_v5":        KindCore,
		"crank_state":    KindCrankState,
	} {
		got, err := ResolveSeed(seed)
		require.NoError(t, err, seed)
		assert.Equal(t, want, got, seed)
	}
	_, err := ResolveSeed("state_v9")
	require.Error(t, err)
}

func TestAddresses(t *testing.T) {
	state, _, err := StateAddress(ProgramID)
	require.NoError(t, err)
	viaSeed, kind, err := AddressFor(ProgramID, "state")
	require.NoError(t, err)
	assert.Equal(t, state, viaSeed)
	assert.Equal(t, KindProtocolState, kind)

	legacy, kind, err := AddressFor(ProgramID, "state_v4")
	require.NoError(t, err)
	assert.Equal(t, KindProtocolState, kind)
	assert.NotEqual(t, state, legacy)

	pool := solana.NewWallet().PublicKey()
	a, _, err := OrcaPoolAddress(ProgramID, pool)
	require.NoError(t, err)
	b, _, err := OrcaPoolAddress(ProgramID, pool)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, _, err = AddressFor(ProgramID, "orca_pool")
	require.Error(t, err)
}

func TestMemoryStoreCommitsEngineState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	e, _ := populatedEngine(t, protocol.WithCommitter(store))
	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.Snapshot().Revision, stored.Revision)

	// replaying an older revision is refused
	stale := e.Snapshot()
	stale.Revision = 1
	require.ErrorIs(t, store.Commit(ctx, stale), ErrStaleRevision)

	restored := protocol.New(protocol.WithCommitter(store))
	ok, err := Restore(ctx, store, restored)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, restored.ListReserves(), 2)
	mint, _, err := restored.GetPrices("devUSDC")
	require.NoError(t, err)
	assert.Equal(t, 1.05, mint)

	ok, err = Restore(ctx, NewMemoryStore(), protocol.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrateStore(t *testing.T) {
	ctx := context.Background()
	_, legacy := legacyStateMap(t)
	store := NewMemoryStore()
	require.NoError(t, store.SaveRaw(ctx, legacy))

	// the engine cannot commit over an unmigrated account
	e := protocol.New(protocol.WithCommitter(store))
	require.ErrorIs(t, e.Initialize(ctx, solana.NewWallet().PublicKey()), ErrSchemaMismatch)

	admin := solana.NewWallet().PublicKey()
	snap, err := MigrateStore(ctx, store, admin, testNow)
	require.NoError(t, err)
	assert.Len(t, snap.State.Reserves, 2)

	_, err = Restore(ctx, store, e)
	require.NoError(t, err)
	require.NoError(t, e.SetMintPrice(ctx, admin, "devUSDT", 1.25))
	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Revision)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("IRMA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IRMA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	store, err := NewRedisStoreWithClient(client, "irma-test-"+solana.NewWallet().PublicKey().String()[:8], ProgramID)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Del(ctx, store.Key(), store.poolKey)
		_ = store.Close()
	})

	e, _ := populatedEngine(t, protocol.WithCommitter(store))
	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.Snapshot().Revision, stored.Revision)

	stale := e.Snapshot()
	stale.Revision = 1
	require.ErrorIs(t, store.Commit(ctx, stale), ErrStaleRevision)

	pool := OrcaPoolAccount{PoolID: solana.NewWallet().PublicKey(), CurrentPrice: 1_000_000, Active: true}
	poolAddr, _, err := OrcaPoolAddress(ProgramID, pool.PoolID)
	require.NoError(t, err)
	data, err := EncodeOrcaPool(pool)
	require.NoError(t, err)
	require.NoError(t, store.SavePool(ctx, poolAddr, data))
	raw, err := store.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	got, err := DecodeOrcaPool(raw[0])
	require.NoError(t, err)
	assert.Equal(t, pool, got)
}

func TestOrcaPoolAccount(t *testing.T) {
	ctx := context.Background()
	pool := OrcaPoolAccount{
		PoolID:       solana.NewWallet().PublicKey(),
		TokenAMint:   solana.NewWallet().PublicKey(),
		TokenBMint:   solana.NewWallet().PublicKey(),
		FeeRate:      30,
		TickSpacing:  64,
		Active:       true,
		CurrentPrice: 1_010_000,
		Liquidity:    42,
		LastUpdate:   1_714_564_800_000_000_000,
	}
	data, err := EncodeOrcaPool(pool)
	require.NoError(t, err)
	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, OrcaPoolDiscriminator, h.Discriminator)
	assert.Equal(t, VersionOrcaPool, h.Version)

	_, err = DecodeOrcaPool(mustEncodeSnapshot(t))
	require.ErrorIs(t, err, ErrDiscriminator)

	store := NewMemoryStore()
	addr, _, err := OrcaPoolAddress(ProgramID, pool.PoolID)
	require.NoError(t, err)
	require.NoError(t, store.SavePool(ctx, addr, data))
	pool.CurrentPrice = 990_000
	data, err = EncodeOrcaPool(pool)
	require.NoError(t, err)
	require.NoError(t, store.SavePool(ctx, addr, data))

	raw, err := store.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	got, err := DecodeOrcaPool(raw[0])
	require.NoError(t, err)
	assert.Equal(t, pool, got)
}

func mustEncodeSnapshot(t *testing.T) []byte {
	t.Helper()
	e, _ := populatedEngine(t)
	data, err := EncodeSnapshot(e.Snapshot())
	require.NoError(t, err)
	return data
}
