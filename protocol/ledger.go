package protocol

import (
	"context"
	"fmt"
	stdmath "math"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// minSpreadDiff is the spread difference below which reserves count as balanced.
const minSpreadDiff = 0.001

// TradeOption tunes a single trade instruction.
type TradeOption func(*tradeOptions)

type tradeOptions struct {
	instructionID string
}

// InstructionID tags a trade with the id of the instruction that carried it.
// A later trade with the same id fails with ErrDuplicateInstruction and
// changes nothing.
func InstructionID(id string) TradeOption {
	return func(o *tradeOptions) { o.instructionID = id }
}

func newTradeOptions(opts []TradeOption) tradeOptions {
	var o tradeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// SaleTradeEvent records that the protocol sold IRMA for amount base units of
// the reserve token. Backing grows by amount; circulation by amount at the
// mint price, rounded up.
func (e *Engine) SaleTradeEvent(ctx context.Context, signer solana.PublicKey, symbol string, amount math.Int, opts ...TradeOption) (TradeRecord, error) {
	o := newTradeOptions(opts)
	var record TradeRecord
	err := e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireTrader(signer); err != nil {
			return err
		}
		if err := tx.snap.State.claimInstruction(o.instructionID); err != nil {
			return err
		}
		if amount.IsNil() || !amount.IsPositive() {
			return ErrInvalidAmount
		}
		r, err := activeReserve(&tx.snap.State, symbol)
		if err != nil {
			return err
		}
		if minSale := pow10(r.Decimals).MulRaw(MinMintAmount); amount.LT(minSale) {
			return fmt.Errorf("%w: %s below minimum sale of %d %s", ErrInvalidAmount, amount, MinMintAmount, symbol)
		}
		if r.MintPrice >= MaxMintPrice {
			return ErrMintPriceCeiling
		}
		mint, err := decFromFloat(r.MintPrice)
		if err != nil {
			return fmt.Errorf("mint price %v: %w", r.MintPrice, err)
		}
		irma := math.LegacyNewDecFromInt(amount.Mul(pow10(IrmaDecimals))).
			Quo(math.LegacyNewDecFromInt(pow10(r.Decimals))).
			Quo(mint).
			Ceil().
			TruncateInt()

		r.Backing = r.Backing.Add(amount)
		r.Circulation = r.Circulation.Add(irma)
		r.Priced = true
		r.UpdatedAt = tx.now
		record = tx.recordTrade(signer, r, DirectionSale, amount, []Adjustment{{
			Symbol:           symbol,
			BackingDelta:     amount,
			CirculationDelta: irma,
		}})
		return nil
	})
	if err != nil {
		return TradeRecord{}, err
	}
	return record, nil
}

// BuyTradeEvent records that the protocol bought back irmaAmount IRMA base
// units against the reserve. The subject's backing pays out at the redemption
// price; the circulation reduction is distributed to narrow the widest
// mint/redemption spread across reserves.
func (e *Engine) BuyTradeEvent(ctx context.Context, signer solana.PublicKey, symbol string, irmaAmount math.Int, opts ...TradeOption) (TradeRecord, error) {
	o := newTradeOptions(opts)
	var record TradeRecord
	err := e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireTrader(signer); err != nil {
			return err
		}
		if err := tx.snap.State.claimInstruction(o.instructionID); err != nil {
			return err
		}
		if irmaAmount.IsNil() || !irmaAmount.IsPositive() {
			return ErrInvalidIrmaAmount
		}
		if maxRedeem := pow10(IrmaDecimals).MulRaw(MaxRedeemAmount); irmaAmount.GT(maxRedeem) {
			return fmt.Errorf("%w: %s above maximum redemption", ErrInvalidIrmaAmount, irmaAmount)
		}
		state := &tx.snap.State
		r, err := activeReserve(state, symbol)
		if err != nil {
			return err
		}
		if irmaAmount.GT(r.Circulation) {
			return fmt.Errorf("%w: %s has %s in circulation", ErrInsufficientCirculation, symbol, r.Circulation)
		}
		adjustments, err := distribute(state, r, irmaAmount)
		if err != nil {
			return err
		}
		for i := range adjustments {
			adj, _ := state.reserve(adjustments[i].Symbol)
			adj.UpdatedAt = tx.now
		}
		r.Priced = true
		record = tx.recordTrade(signer, r, DirectionBuy, irmaAmount, adjustments)
		return nil
	})
	if err != nil {
		return TradeRecord{}, err
	}
	return record, nil
}

// Trades returns ledger entries with a sequence greater than since.
func (e *Engine) Trades(since uint64) []TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []TradeRecord
	for _, t := range e.trades {
		if t.Sequence > since {
			out = append(out, t)
		}
	}
	return out
}

func (tx *txn) recordTrade(signer solana.PublicKey, r *Reserve, dir Direction, amount math.Int, adjustments []Adjustment) TradeRecord {
	tx.snap.State.TradeSequence++
	record := TradeRecord{
		Sequence:        tx.snap.State.TradeSequence,
		Symbol:          r.Symbol,
		Direction:       dir,
		Amount:          amount,
		Signer:          signer,
		Adjustments:     adjustments,
		Backing:         r.Backing,
		Circulation:     r.Circulation,
		MintPrice:       r.MintPrice,
		RedemptionPrice: r.RedemptionPrice(),
		At:              tx.now,
	}
	tx.trades = append(tx.trades, record)
	tx.emit(Event{
		Kind:            EventTrade,
		Action:          string(dir),
		Symbol:          r.Symbol,
		MintPrice:       record.MintPrice,
		RedemptionPrice: record.RedemptionPrice,
		Trade:           &record,
	})
	return record
}

// distribute pays irma out of subject's backing and removes irma from the
// circulation of the subject, the reserve with the widest spread, or both.
func distribute(state *State, subject *Reserve, irma math.Int) ([]Adjustment, error) {
	payout, err := redemptionPayout(subject, irma)
	if err != nil {
		return nil, err
	}
	if !payout.LT(subject.Backing) {
		return nil, fmt.Errorf("%w: payout %s exceeds backing %s of %s", ErrInsufficientReserve, payout, subject.Backing, subject.Symbol)
	}

	spreads := make(map[string]float64, len(state.Reserves))
	var sum float64
	for i := range state.Reserves {
		r := &state.Reserves[i]
		if !r.Active || r.MintPrice <= 0 {
			continue
		}
		spreads[r.Symbol] = r.Spread()
		sum += spreads[r.Symbol]
	}
	avg := sum / float64(len(spreads))

	other := subject
	widest := avg
	for i := range state.Reserves {
		r := &state.Reserves[i]
		d, ok := spreads[r.Symbol]
		if !ok {
			continue
		}
		if stdmath.Abs(d-widest) > minSpreadDiff && d > widest {
			widest = d
			other = r
		}
	}

	subject.Backing = subject.Backing.Sub(payout)
	subjectAdj := Adjustment{Symbol: subject.Symbol, BackingDelta: payout.Neg(), CirculationDelta: math.ZeroInt()}

	if stdmath.Abs(avg) < minSpreadDiff || avg < 0 {
		if spreads[subject.Symbol] >= 0 || other == subject {
			if err := reduceCirculation(subject, irma); err != nil {
				return nil, err
			}
			subjectAdj.CirculationDelta = irma.Neg()
		}
		return []Adjustment{subjectAdj}, nil
	}
	if other == subject {
		if err := reduceCirculation(subject, irma); err != nil {
			return nil, err
		}
		subjectAdj.CirculationDelta = irma.Neg()
		return []Adjustment{subjectAdj}, nil
	}

	otherDiff := other.Spread()
	postSubjectDiff := subject.Spread()
	postOtherDiff := other.MintPrice - rawRedemption(other.Backing, other.Decimals, other.Circulation.Sub(irma))

	var toOther math.Int
	switch {
	case !irma.LT(other.Circulation), otherDiff < postOtherDiff:
		toOther = math.ZeroInt()
	case postOtherDiff < postSubjectDiff:
		toOther = irma
	default:
		share := math.LegacyNewDecFromInt(irma).MustFloat64() * (otherDiff - postSubjectDiff) / (otherDiff + postSubjectDiff)
		if !(share > 0) {
			toOther = math.ZeroInt()
			break
		}
		toOther = math.NewInt(int64(stdmath.Ceil(share)))
		if toOther.GT(irma) {
			toOther = irma
		}
	}
	toSubject := irma.Sub(toOther)

	if err := reduceCirculation(subject, toSubject); err != nil {
		return nil, err
	}
	subjectAdj.CirculationDelta = toSubject.Neg()
	if toOther.IsZero() {
		return []Adjustment{subjectAdj}, nil
	}
	if err := reduceCirculation(other, toOther); err != nil {
		return nil, err
	}
	return []Adjustment{subjectAdj, {
		Symbol:           other.Symbol,
		BackingDelta:     math.ZeroInt(),
		CirculationDelta: toOther.Neg(),
	}}, nil
}

// redemptionPayout converts irma base units into reserve base units at the
// (capped) redemption price, rounded up.
func redemptionPayout(r *Reserve, irma math.Int) (math.Int, error) {
	price := math.LegacyOneDec()
	if !r.Circulation.IsZero() {
		price = ratio(r.Backing, r.Decimals, r.Circulation)
	}
	mint, err := decFromFloat(r.MintPrice)
	if err != nil {
		return math.Int{}, fmt.Errorf("mint price %v: %w", r.MintPrice, err)
	}
	if price.GT(mint) {
		price = mint
	}
	return math.LegacyNewDecFromInt(irma.Mul(pow10(r.Decimals))).
		Quo(math.LegacyNewDecFromInt(pow10(IrmaDecimals))).
		Mul(price).
		Ceil().
		TruncateInt(), nil
}

func reduceCirculation(r *Reserve, amount math.Int) error {
	if amount.IsZero() {
		return nil
	}
	if !amount.LT(r.Circulation) {
		return fmt.Errorf("%w: %s cannot retire %s of %s", ErrInsufficientCirculation, r.Symbol, amount, r.Circulation)
	}
	r.Circulation = r.Circulation.Sub(amount)
	return nil
}

func rawRedemption(backing math.Int, decimals uint8, circulation math.Int) float64 {
	if !circulation.IsPositive() {
		return stdmath.Inf(1)
	}
	return ratio(backing, decimals, circulation).MustFloat64()
}
