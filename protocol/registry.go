package protocol

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AddReserve registers a backing stablecoin. Registering a symbol twice fails.
func (e *Engine) AddReserve(ctx context.Context, signer solana.PublicKey, symbol string, mint solana.PublicKey, decimals uint8) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		reserve, err := NewReserve(symbol, mint, decimals)
		if err != nil {
			return err
		}
		state := &tx.snap.State
		if state.reserveIndex(symbol) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateReserve, symbol)
		}
		for _, r := range state.Reserves {
			if r.Mint.Equals(mint) {
				return fmt.Errorf("%w: mint %s already backs %s", ErrDuplicateReserve, mint, r.Symbol)
			}
		}
		if len(state.Reserves) >= MaxReserves {
			return ErrRegistryFull
		}
		reserve.UpdatedAt = tx.now
		state.insertReserve(reserve)
		tx.emit(Event{Kind: EventReserve, Action: "add", Symbol: symbol, MintPrice: reserve.MintPrice, RedemptionPrice: reserve.RedemptionPrice()})
		return nil
	})
}

// RemoveReserve deletes a reserve and any position bound to its pair.
func (e *Engine) RemoveReserve(ctx context.Context, signer solana.PublicKey, symbol string) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		state := &tx.snap.State
		r, err := state.reserve(symbol)
		if err != nil {
			return err
		}
		pair := r.Pair
		i := state.reserveIndex(symbol)
		state.Reserves = append(state.Reserves[:i], state.Reserves[i+1:]...)
		if !pair.IsZero() {
			tx.snap.Core.dropPair(pair)
		}
		tx.emit(Event{Kind: EventReserve, Action: "remove", Symbol: symbol})
		return nil
	})
}

// DisableReserve deactivates a reserve; trades and price updates against it fail.
func (e *Engine) DisableReserve(ctx context.Context, signer solana.PublicKey, symbol string) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		r, err := tx.snap.State.reserve(symbol)
		if err != nil {
			return err
		}
		r.Active = false
		r.UpdatedAt = tx.now
		tx.emit(Event{Kind: EventReserve, Action: "disable", Symbol: symbol})
		return nil
	})
}

// UpdateReserveLbpair binds a liquidity pair on venue to the reserve.
func (e *Engine) UpdateReserveLbpair(ctx context.Context, signer solana.PublicKey, symbol string, pair solana.PublicKey, venue VenueKind) error {
	if venue == VenueNone {
		venue = VenueDLMM
	}
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		if pair.IsZero() {
			return ErrInvalidPair
		}
		if !venue.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidVenue, venue)
		}
		state := &tx.snap.State
		r, err := state.reserve(symbol)
		if err != nil {
			return err
		}
		if other, ok := state.reserveByPair(pair); ok && other.Symbol != symbol {
			return fmt.Errorf("%w: pair %s already bound to %s", ErrInvalidPair, pair, other.Symbol)
		}
		if !r.Pair.IsZero() && !r.Pair.Equals(pair) {
			tx.snap.Core.dropPair(r.Pair)
		}
		r.Pair = pair
		r.Venue = venue
		r.UpdatedAt = tx.now
		tx.emit(Event{Kind: EventReserve, Action: "lbpair", Symbol: symbol})
		return nil
	})
}

// ConfigurePair sets the market-making configuration of a connected pair.
func (e *Engine) ConfigurePair(ctx context.Context, signer solana.PublicKey, cfg PairConfig) error {
	if cfg.Mode == "" {
		cfg.Mode = ModeView
	}
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		if cfg.Pair.IsZero() {
			return ErrInvalidPair
		}
		if !cfg.Mode.Valid() {
			return fmt.Errorf("invalid market making mode %q", cfg.Mode)
		}
		r, ok := tx.snap.State.reserveByPair(cfg.Pair)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPairNotConnected, cfg.Pair)
		}
		core := &tx.snap.Core
		replaced := false
		for i := range core.Pairs {
			if core.Pairs[i].Pair.Equals(cfg.Pair) {
				core.Pairs[i] = cfg
				replaced = true
			}
		}
		if !replaced {
			core.Pairs = append(core.Pairs, cfg)
		}
		tx.emit(Event{Kind: EventReserve, Action: "pair_config", Symbol: r.Symbol})
		return nil
	})
}

// ListReserves returns the registry sorted by symbol.
func (e *Engine) ListReserves() []Reserve {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Reserve(nil), e.snap.State.Reserves...)
}

// Reserve returns one reserve by symbol.
func (e *Engine) Reserve(symbol string) (Reserve, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.snap.State.reserve(symbol)
	if err != nil {
		return Reserve{}, err
	}
	return *r, nil
}

// PairConfigs returns the configured pairs and their positions.
func (e *Engine) PairConfigs() ([]PairConfig, []Position) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]PairConfig(nil), e.snap.Core.Pairs...), append([]Position(nil), e.snap.Core.Positions...)
}

func (c *Core) dropPair(pair solana.PublicKey) {
	pairs := c.Pairs[:0]
	for _, p := range c.Pairs {
		if !p.Pair.Equals(pair) {
			pairs = append(pairs, p)
		}
	}
	c.Pairs = pairs
	positions := c.Positions[:0]
	for _, p := range c.Positions {
		if !p.Pair.Equals(pair) {
			positions = append(positions, p)
		}
	}
	c.Positions = positions
}
