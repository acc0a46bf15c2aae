package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubObserver struct {
	mu   sync.Mutex
	obs  map[solana.PublicKey]PairObservation
	errs map[solana.PublicKey]error
	hits int
}

func newStubObserver() *stubObserver {
	return &stubObserver{
		obs:  make(map[solana.PublicKey]PairObservation),
		errs: make(map[solana.PublicKey]error),
	}
}

func (s *stubObserver) set(pair solana.PublicKey, obs PairObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs[pair] = obs
}

func (s *stubObserver) fail(pair solana.PublicKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[pair] = err
}

func (s *stubObserver) ObservePair(_ context.Context, _ VenueKind, pair solana.PublicKey) (PairObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	if err := s.errs[pair]; err != nil {
		return PairObservation{}, err
	}
	obs, ok := s.obs[pair]
	if !ok {
		return PairObservation{}, errors.New("pair not found")
	}
	return obs, nil
}

func dlmmObservation(binStep uint16, price float64) PairObservation {
	return PairObservation{Venue: VenueDLMM, BinStep: binStep, XDecimals: 6, YDecimals: 6, Price: price}
}

func connectedEngine(t *testing.T, mode MarketMakingMode) (*Engine, solana.PublicKey, solana.PublicKey, *stubObserver) {
	t.Helper()
	ctx := context.Background()
	observer := newStubObserver()
	e, admin := newTestEngine(t, WithPairObserver(observer))
	addReserve(t, e, admin, "devUSDC", 6)
	pair := solana.NewWallet().PublicKey()
	require.NoError(t, e.UpdateReserveLbpair(ctx, admin, "devUSDC", pair, VenueDLMM))
	if mode != ModeView {
		require.NoError(t, e.ConfigurePair(ctx, admin, PairConfig{Pair: pair, Mode: mode}))
	}
	observer.set(pair, dlmmObservation(10, 1.0))
	return e, admin, pair, observer
}

func TestCheckShiftPriceRangesViewMode(t *testing.T) {
	e, admin, pair, _ := connectedEngine(t, ModeView)

	records, err := e.CheckShiftPriceRanges(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, pair, rec.Pair)
	assert.Equal(t, ModeView, rec.Mode)
	assert.Equal(t, int32(0), rec.RedeemBin)
	assert.Equal(t, int32(1), rec.MintBin, "mint bin must sit above the redemption bin")
	assert.False(t, rec.MintShifted)
	assert.False(t, rec.RedeemShifted)

	_, positions := e.PairConfigs()
	assert.Empty(t, positions)
}

func TestCheckShiftPriceRangesShiftsBoth(t *testing.T) {
	ctx := context.Background()
	e, admin, pair, _ := connectedEngine(t, ModeBoth)

	records, err := e.CheckShiftPriceRanges(ctx, admin)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].MintShifted)
	assert.True(t, records[0].RedeemShifted)

	_, positions := e.PairConfigs()
	require.Len(t, positions, 1)
	assert.Equal(t, pair, positions[0].Pair)
	assert.Equal(t, int32(1), positions[0].MintBin)
	assert.Equal(t, int32(0), positions[0].RedeemBin)
	assert.Equal(t, uint64(2), positions[0].RebalanceCount)
	assert.True(t, positions[0].Placed)

	// unchanged prices leave the position alone
	records, err = e.CheckShiftPriceRanges(ctx, admin)
	require.NoError(t, err)
	assert.False(t, records[0].MintShifted)
	assert.False(t, records[0].RedeemShifted)

	// a 10% mint price moves only the mint side
	require.NoError(t, e.SetMintPrice(ctx, admin, "devUSDC", 1.10))
	records, err = e.CheckShiftPriceRanges(ctx, admin)
	require.NoError(t, err)
	assert.True(t, records[0].MintShifted)
	assert.False(t, records[0].RedeemShifted)
	assert.Equal(t, int32(95), records[0].MintBin)
	assert.Equal(t, int32(1), records[0].PrevMintBin)

	_, positions = e.PairConfigs()
	assert.Equal(t, uint64(3), positions[0].RebalanceCount)
	assert.Greater(t, positions[0].MintBin, positions[0].RedeemBin)
}

func TestCheckShiftPriceRangesSellOnly(t *testing.T) {
	e, admin, _, _ := connectedEngine(t, ModeSellOnly)

	records, err := e.CheckShiftPriceRanges(context.Background(), admin)
	require.NoError(t, err)
	assert.True(t, records[0].MintShifted)
	assert.False(t, records[0].RedeemShifted)

	_, positions := e.PairConfigs()
	require.Len(t, positions, 1)
	assert.Equal(t, uint64(1), positions[0].RebalanceCount)
}

func TestCheckShiftPriceRangesWhirlpoolObservesOnly(t *testing.T) {
	ctx := context.Background()
	observer := newStubObserver()
	e, admin := newTestEngine(t, WithPairObserver(observer))
	addReserve(t, e, admin, "devUSDT", 6)
	pool := solana.NewWallet().PublicKey()
	require.NoError(t, e.UpdateReserveLbpair(ctx, admin, "devUSDT", pool, VenueWhirlpool))
	observer.set(pool, PairObservation{Price: 1.02})

	records, err := e.CheckShiftPriceRanges(ctx, admin)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1.02, records[0].MarketPrice)
	assert.False(t, records[0].MintShifted)
	_, positions := e.PairConfigs()
	assert.Empty(t, positions)
}

func TestCheckShiftPriceRangesErrors(t *testing.T) {
	ctx := context.Background()

	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)
	records, err := e.CheckShiftPriceRanges(ctx, admin)
	require.NoError(t, err, "nothing connected means nothing to observe")
	assert.Empty(t, records)

	require.NoError(t, e.UpdateReserveLbpair(ctx, admin, "devUSDC", solana.NewWallet().PublicKey(), VenueDLMM))
	_, err = e.CheckShiftPriceRanges(ctx, admin)
	require.ErrorIs(t, err, ErrNoObserver)

	e2, admin2, pair, observer := connectedEngine(t, ModeBoth)
	_, err = e2.CheckShiftPriceRanges(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrUnauthorized)

	boom := errors.New("rpc timeout")
	observer.fail(pair, boom)
	_, err = e2.CheckShiftPriceRanges(ctx, admin2)
	require.ErrorIs(t, err, boom)

	observer.fail(pair, nil)
	reserve, err := e2.Reserve("devUSDC")
	require.NoError(t, err)
	inverted := dlmmObservation(10, 1.0)
	inverted.XMint = reserve.Mint
	observer.set(pair, inverted)
	_, err = e2.CheckShiftPriceRanges(ctx, admin2)
	require.ErrorIs(t, err, ErrInvalidPair)

	observer.set(pair, dlmmObservation(0, 1.0))
	_, err = e2.CheckShiftPriceRanges(ctx, admin2)
	require.ErrorIs(t, err, ErrInvalidPair)
}

func TestCrank(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e, admin, _, observer := connectedEngine(t, ModeBoth)
	e.sink = sink

	// a second pair whose venue is unreachable is skipped
	addReserve(t, e, admin, "devUSDT", 6)
	broken := solana.NewWallet().PublicKey()
	require.NoError(t, e.UpdateReserveLbpair(ctx, admin, "devUSDT", broken, VenueDLMM))
	observer.fail(broken, errors.New("account not found"))

	result, err := e.Crank(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Observed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, uint64(1), result.CrankCount)
	assert.Equal(t, testNow, result.At)
	require.Len(t, result.Rebalances, 1)

	result, err = e.Crank(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.CrankCount)

	state := e.Snapshot().State
	assert.Equal(t, uint64(2), state.CrankCount)
	assert.Equal(t, testNow, state.LastCrank)
	assert.Contains(t, sink.kinds(), EventRebalance)
}

func TestShiftPriceRangesIgnoresUnknownPairs(t *testing.T) {
	e, admin, _, _ := connectedEngine(t, ModeBoth)
	obs := dlmmObservation(10, 1.0)
	obs.Pair = solana.NewWallet().PublicKey()

	records, err := e.ShiftPriceRanges(context.Background(), admin, []PairObservation{obs})
	require.NoError(t, err)
	assert.Empty(t, records)
}
