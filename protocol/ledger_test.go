package protocol

import (
	"context"
	"fmt"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleTradeEvent(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)
	require.NoError(t, e.SetMintPrice(ctx, admin, "devUSDC", 1.10))

	record, err := e.SaleTradeEvent(ctx, admin, "devUSDC", units(110, 6))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), record.Sequence)
	assert.Equal(t, DirectionSale, record.Direction)
	assert.Equal(t, admin, record.Signer)
	assert.Equal(t, units(111, 6).String(), record.Backing.String())
	assert.Equal(t, units(101, 6).String(), record.Circulation.String())
	require.Len(t, record.Adjustments, 1)
	assert.Equal(t, units(100, 6).String(), record.Adjustments[0].CirculationDelta.String())

	r, err := e.Reserve("devUSDC")
	require.NoError(t, err)
	assert.InDelta(t, 111.0/101.0, r.RedemptionPrice(), 1e-12)
	assert.LessOrEqual(t, r.RedemptionPrice(), r.MintPrice)
}

func TestSaleTradeEventNineDecimals(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devPYUSD", 9)

	record, err := e.SaleTradeEvent(ctx, admin, "devPYUSD", units(250, 9))
	require.NoError(t, err)
	assert.Equal(t, units(251, 9).String(), record.Backing.String())
	assert.Equal(t, units(251, 6).String(), record.Circulation.String())
	assert.Equal(t, 1.0, record.RedemptionPrice)
}

func TestSaleTradeEventRejects(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)

	tests := []struct {
		name    string
		symbol  string
		amount  math.Int
		wantErr error
	}{
		{name: "zero", symbol: "devUSDC", amount: math.ZeroInt(), wantErr: ErrInvalidAmount},
		{name: "negative", symbol: "devUSDC", amount: math.NewInt(-5), wantErr: ErrInvalidAmount},
		{name: "nil", symbol: "devUSDC", amount: math.Int{}, wantErr: ErrInvalidAmount},
		{name: "below minimum", symbol: "devUSDC", amount: units(99, 6), wantErr: ErrInvalidAmount},
		{name: "unknown symbol", symbol: "devXYZ", amount: units(100, 6), wantErr: ErrSymbolNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SaleTradeEvent(ctx, admin, tt.symbol, tt.amount)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, e.Trades(0))
}

func TestBuyTradeEventRejects(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)

	_, err := e.BuyTradeEvent(ctx, admin, "devUSDC", math.ZeroInt())
	require.ErrorIs(t, err, ErrInvalidIrmaAmount)
	_, err = e.BuyTradeEvent(ctx, admin, "devUSDC", units(MaxRedeemAmount+1, 6))
	require.ErrorIs(t, err, ErrInvalidIrmaAmount)
	_, err = e.BuyTradeEvent(ctx, admin, "devUSDC", units(2, 6))
	require.ErrorIs(t, err, ErrInsufficientCirculation)
	_, err = e.BuyTradeEvent(ctx, admin, "devUSDC", units(1, 6))
	require.ErrorIs(t, err, ErrInsufficientReserve)
	_, err = e.BuyTradeEvent(ctx, admin, "nope", units(1, 6))
	require.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestTradeInstructionAppliedOnce(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)

	_, err := e.SaleTradeEvent(ctx, admin, "devUSDC", units(200, 6), InstructionID("IRMA:1"))
	require.NoError(t, err)
	revision := e.Revision()

	_, err = e.SaleTradeEvent(ctx, admin, "devUSDC", units(200, 6), InstructionID("IRMA:1"))
	require.ErrorIs(t, err, ErrDuplicateInstruction)
	assert.Equal(t, "DuplicateInstruction", ErrorName(err))
	_, err = e.BuyTradeEvent(ctx, admin, "devUSDC", units(1, 6), InstructionID("IRMA:1"))
	require.ErrorIs(t, err, ErrDuplicateInstruction)
	assert.Equal(t, revision, e.Revision())
	assert.Len(t, e.Trades(0), 1)

	// a rejected instruction is not remembered and may be retried
	_, err = e.SaleTradeEvent(ctx, admin, "devUSDC", units(1, 6), InstructionID("IRMA:2"))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.SaleTradeEvent(ctx, admin, "devUSDC", units(150, 6), InstructionID("IRMA:2"))
	require.NoError(t, err)

	// trades without an id are never deduplicated
	_, err = e.SaleTradeEvent(ctx, admin, "devUSDC", units(150, 6))
	require.NoError(t, err)
	_, err = e.SaleTradeEvent(ctx, admin, "devUSDC", units(150, 6))
	require.NoError(t, err)
	assert.Len(t, e.Trades(0), 4)
	assert.Equal(t, []string{"IRMA:1", "IRMA:2"}, e.Snapshot().State.AppliedInstructions)
}

func TestAppliedInstructionsBounded(t *testing.T) {
	var s State
	for i := 0; i < MaxAppliedInstructions+10; i++ {
		require.NoError(t, s.claimInstruction(fmt.Sprintf("IRMA:%d", i)))
	}
	require.Len(t, s.AppliedInstructions, MaxAppliedInstructions)
	assert.Equal(t, "IRMA:10", s.AppliedInstructions[0])
	require.NoError(t, s.claimInstruction("IRMA:0"))
	require.ErrorIs(t, s.claimInstruction("IRMA:500"), ErrDuplicateInstruction)
}

func TestSaleThenBuyRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, decimals := range []uint8{6, 8, 9} {
		e, admin := newTestEngine(t)
		addReserve(t, e, admin, "devUSDC", decimals)
		before, err := e.Reserve("devUSDC")
		require.NoError(t, err)

		sale, err := e.SaleTradeEvent(ctx, admin, "devUSDC", units(500, decimals))
		require.NoError(t, err)
		_, err = e.BuyTradeEvent(ctx, admin, "devUSDC", sale.Adjustments[0].CirculationDelta)
		require.NoError(t, err)

		after, err := e.Reserve("devUSDC")
		require.NoError(t, err)
		assert.True(t, after.Backing.Sub(before.Backing).Abs().LTE(math.OneInt()), "backing drift with %d decimals", decimals)
		assert.True(t, after.Circulation.Sub(before.Circulation).Abs().LTE(math.OneInt()), "circulation drift with %d decimals", decimals)

		mint, redemption, err := e.GetPrices("devUSDC")
		require.NoError(t, err)
		assert.Equal(t, 1.0, mint)
		assert.InDelta(t, 1.0, redemption, 1e-12)
	}
}

func TestBuyTradeEventSubjectOnlyWhenBalanced(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)
	addReserve(t, e, admin, "devUSDT", 6)
	_, err := e.SaleTradeEvent(ctx, admin, "devUSDC", units(1000, 6))
	require.NoError(t, err)
	_, err = e.SaleTradeEvent(ctx, admin, "devUSDT", units(1000, 6))
	require.NoError(t, err)

	record, err := e.BuyTradeEvent(ctx, admin, "devUSDC", units(100, 6))
	require.NoError(t, err)
	require.Len(t, record.Adjustments, 1)
	assert.Equal(t, units(-100, 6).String(), record.Adjustments[0].BackingDelta.String())
	assert.Equal(t, units(-100, 6).String(), record.Adjustments[0].CirculationDelta.String())

	usdt, err := e.Reserve("devUSDT")
	require.NoError(t, err)
	assert.Equal(t, units(1001, 6).String(), usdt.Circulation.String())
}

func TestBuyTradeEventSpreadsCirculationToWidestReserve(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t)
	addReserve(t, e, admin, "devUSDC", 6)
	addReserve(t, e, admin, "devUSDT", 6)
	_, err := e.SaleTradeEvent(ctx, admin, "devUSDC", units(1000, 6))
	require.NoError(t, err)
	_, err = e.SaleTradeEvent(ctx, admin, "devUSDT", units(1000, 6))
	require.NoError(t, err)
	// devUSDT carries the widest mint/redemption spread.
	require.NoError(t, e.SetMintPrice(ctx, admin, "devUSDT", 1.5))

	irma := units(100, 6)
	record, err := e.BuyTradeEvent(ctx, admin, "devUSDC", irma)
	require.NoError(t, err)
	require.Len(t, record.Adjustments, 2)

	subject, other := record.Adjustments[0], record.Adjustments[1]
	assert.Equal(t, "devUSDC", subject.Symbol)
	assert.Equal(t, "devUSDT", other.Symbol)
	assert.Equal(t, units(-100, 6).String(), subject.BackingDelta.String())
	assert.True(t, other.BackingDelta.IsZero())
	assert.True(t, subject.CirculationDelta.IsNegative())
	assert.True(t, other.CirculationDelta.IsNegative())
	assert.Equal(t, irma.Neg().String(), subject.CirculationDelta.Add(other.CirculationDelta).String())
	assert.True(t, other.CirculationDelta.Abs().GT(subject.CirculationDelta.Abs()))

	usdt, err := e.Reserve("devUSDT")
	require.NoError(t, err)
	assert.Less(t, usdt.Spread(), 0.5)
	assert.Greater(t, usdt.Spread(), 0.0)
}

func TestTradesSince(t *testing.T) {
	ctx := context.Background()
	e, admin := newTestEngine(t, WithLedgerCapacity(2))
	addReserve(t, e, admin, "devUSDC", 6)
	for i := 0; i < 3; i++ {
		_, err := e.SaleTradeEvent(ctx, admin, "devUSDC", units(100, 6))
		require.NoError(t, err)
	}

	all := e.Trades(0)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(2), all[0].Sequence)
	assert.Equal(t, uint64(3), all[1].Sequence)

	tail := e.Trades(2)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(3), tail[0].Sequence)
	assert.Equal(t, uint64(3), e.Snapshot().State.TradeSequence)
}
