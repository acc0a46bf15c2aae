package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/decoder/common"
)

// PairObservation is a point-in-time read of a liquidity pair. Price is the
// market price of one IRMA in reserve tokens.
type PairObservation struct {
	Pair       solana.PublicKey `json:"pair"`
	Venue      VenueKind        `json:"venue"`
	XMint      solana.PublicKey `json:"x_mint"`
	YMint      solana.PublicKey `json:"y_mint"`
	XDecimals  uint8            `json:"x_decimals"`
	YDecimals  uint8            `json:"y_decimals"`
	BinStep    uint16           `json:"bin_step,omitempty"`
	ActiveBin  int32            `json:"active_bin,omitempty"`
	SqrtPrice  string           `json:"sqrt_price,omitempty"`
	Tick       int32            `json:"tick,omitempty"`
	Price      float64          `json:"price"`
	Slot       uint64           `json:"slot"`
	ObservedAt time.Time        `json:"observed_at"`
}

// PairObserver reads the current state of a pair on its venue.
type PairObserver interface {
	ObservePair(ctx context.Context, venue VenueKind, pair solana.PublicKey) (PairObservation, error)
}

// CrankResult summarises one crank pass.
type CrankResult struct {
	Observed   int               `json:"observed"`
	Failed     int               `json:"failed"`
	Rebalances []RebalanceRecord `json:"rebalances"`
	CrankCount uint64            `json:"crank_count"`
	At         time.Time         `json:"at"`
}

type pairTarget struct {
	symbol string
	venue  VenueKind
	pair   solana.PublicKey
}

// CheckShiftPriceRanges observes every connected pair and moves the mint and
// redemption positions to the bins of the current engine prices.
func (e *Engine) CheckShiftPriceRanges(ctx context.Context, signer solana.PublicKey) ([]RebalanceRecord, error) {
	observations, _, err := e.observeAll(ctx, signer)
	if err != nil {
		return nil, err
	}
	return e.ShiftPriceRanges(ctx, signer, observations)
}

// ShiftPriceRanges applies already collected observations.
func (e *Engine) ShiftPriceRanges(ctx context.Context, signer solana.PublicKey, observations []PairObservation) ([]RebalanceRecord, error) {
	var records []RebalanceRecord
	err := e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireTrader(signer); err != nil {
			return err
		}
		out, err := tx.shiftPriceRanges(observations)
		records = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Crank runs one maintenance pass: observe, shift, and record the crank.
func (e *Engine) Crank(ctx context.Context, signer solana.PublicKey) (CrankResult, error) {
	observations, failed, err := e.observeAll(ctx, signer)
	if err != nil {
		return CrankResult{}, err
	}
	result := CrankResult{Observed: len(observations), Failed: failed}
	err = e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireTrader(signer); err != nil {
			return err
		}
		records, err := tx.shiftPriceRanges(observations)
		if err != nil {
			return err
		}
		state := &tx.snap.State
		state.CrankCount++
		state.LastCrank = tx.now
		result.Rebalances = records
		result.CrankCount = state.CrankCount
		result.At = tx.now
		tx.emit(Event{Kind: EventAdmin, Action: "crank"})
		return nil
	})
	if err != nil {
		return CrankResult{}, err
	}
	e.logger.Debug("crank complete",
		zap.Uint64("crank_count", result.CrankCount),
		zap.Int("observed", result.Observed),
		zap.Int("failed", result.Failed),
		zap.Int("rebalances", len(result.Rebalances)))
	return result, nil
}

// observeAll reads every connected pair outside the engine lock. Pairs that
// fail to load are logged and skipped; it errors only when all of them fail.
func (e *Engine) observeAll(ctx context.Context, signer solana.PublicKey) ([]PairObservation, int, error) {
	targets, err := e.pairTargets(signer)
	if err != nil {
		return nil, 0, err
	}
	if len(targets) == 0 {
		return nil, 0, nil
	}
	if e.observer == nil {
		return nil, 0, ErrNoObserver
	}
	var (
		observations []PairObservation
		errs         []error
	)
	for _, t := range targets {
		obs, err := e.observer.ObservePair(ctx, t.venue, t.pair)
		if err != nil {
			e.logger.Warn("pair observation failed",
				zap.String("symbol", t.symbol),
				zap.String("venue", string(t.venue)),
				zap.String("pair", t.pair.String()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.symbol, err))
			continue
		}
		obs.Pair = t.pair
		obs.Venue = t.venue
		observations = append(observations, obs)
	}
	if len(observations) == 0 {
		return nil, len(errs), errors.Join(errs...)
	}
	return observations, len(errs), nil
}

func (e *Engine) pairTargets(signer solana.PublicKey) ([]pairTarget, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tx := txn{snap: &e.snap}
	if err := tx.requireTrader(signer); err != nil {
		return nil, err
	}
	var targets []pairTarget
	for _, r := range e.snap.State.Reserves {
		if r.Active && r.Connected() {
			targets = append(targets, pairTarget{symbol: r.Symbol, venue: r.Venue, pair: r.Pair})
		}
	}
	return targets, nil
}

func (tx *txn) shiftPriceRanges(observations []PairObservation) ([]RebalanceRecord, error) {
	var records []RebalanceRecord
	for _, obs := range observations {
		r, ok := tx.snap.State.reserveByPair(obs.Pair)
		if !ok || !r.Active {
			continue
		}
		if r.Venue != VenueDLMM {
			rec := RebalanceRecord{Pair: obs.Pair, Mode: ModeView, MarketPrice: obs.Price}
			tx.emit(Event{Kind: EventRebalance, Action: "observe", Symbol: r.Symbol, Rebalance: &rec})
			records = append(records, rec)
			continue
		}
		rec, err := tx.shiftPosition(r, obs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Symbol, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// shiftPosition keeps the mint bin strictly above the redemption bin and moves
// whichever side no longer sits on its price.
func (tx *txn) shiftPosition(r *Reserve, obs PairObservation) (RebalanceRecord, error) {
	if obs.BinStep == 0 {
		return RebalanceRecord{}, fmt.Errorf("%w: zero bin step", ErrInvalidPair)
	}
	if !obs.XMint.IsZero() && obs.XMint.Equals(r.Mint) {
		return RebalanceRecord{}, fmt.Errorf("%w: reserve mint must be token Y", ErrInvalidPair)
	}
	mintBin, err := common.BinIDFromPrice(common.PricePerLamport(r.MintPrice, obs.XDecimals, obs.YDecimals), obs.BinStep)
	if err != nil {
		return RebalanceRecord{}, err
	}
	redeemBin, err := common.BinIDFromPrice(common.PricePerLamport(r.RedemptionPrice(), obs.XDecimals, obs.YDecimals), obs.BinStep)
	if err != nil {
		return RebalanceRecord{}, err
	}
	if mintBin <= redeemBin {
		mintBin = redeemBin + 1
	}

	core := &tx.snap.Core
	cfg := core.pairConfig(obs.Pair)
	rec := RebalanceRecord{
		Pair:        obs.Pair,
		Mode:        cfg.Mode,
		MintBin:     mintBin,
		RedeemBin:   redeemBin,
		MarketPrice: obs.Price,
	}
	action := "evaluate"
	if cfg.Mode.ShiftsMint() || cfg.Mode.ShiftsRedeem() {
		pos := core.position(obs.Pair)
		rec.PrevMintBin, rec.PrevRedeemBin = pos.MintBin, pos.RedeemBin
		if cfg.Mode.ShiftsMint() && (!pos.Placed || pos.MintBin != mintBin) {
			pos.MintBin = mintBin
			pos.RebalanceCount++
			rec.MintShifted = true
		}
		if cfg.Mode.ShiftsRedeem() && (!pos.Placed || pos.RedeemBin != redeemBin) {
			pos.RedeemBin = redeemBin
			pos.RebalanceCount++
			rec.RedeemShifted = true
		}
		if rec.MintShifted || rec.RedeemShifted {
			pos.Placed = true
			pos.UpdatedAt = tx.now
			action = "shift"
		}
	} else if pos, ok := core.findPosition(obs.Pair); ok {
		rec.PrevMintBin, rec.PrevRedeemBin = pos.MintBin, pos.RedeemBin
	}
	tx.emit(Event{
		Kind:            EventRebalance,
		Action:          action,
		Symbol:          r.Symbol,
		MintPrice:       r.MintPrice,
		RedemptionPrice: r.RedemptionPrice(),
		Rebalance:       &rec,
	})
	return rec, nil
}

func (c *Core) findPosition(pair solana.PublicKey) (Position, bool) {
	for _, p := range c.Positions {
		if p.Pair.Equals(pair) {
			return p, true
		}
	}
	return Position{}, false
}
