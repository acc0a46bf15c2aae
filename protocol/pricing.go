package protocol

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/inflation"
)

const (
	// PricesPayloadSize is the size of an encoded (mint, redemption) pair.
	PricesPayloadSize = 16

	returnLogPrefix = "Program return: "
	priceEpsilon    = 1e-12
)

// GetPrices returns (mint price, redemption price) for symbol.
func (e *Engine) GetPrices(symbol string) (float64, float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.snap.State.reserve(symbol)
	if err != nil {
		return 0, 0, err
	}
	if !r.Active {
		return 0, 0, ErrReserveInactive
	}
	return r.MintPrice, r.RedemptionPrice(), nil
}

// PriceQuote is a price read tagged with the revision it was taken at.
type PriceQuote struct {
	Symbol          string    `json:"symbol"`
	MintPrice       float64   `json:"mint_price"`
	RedemptionPrice float64   `json:"redemption_price"`
	Revision        uint64    `json:"revision"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Quote is GetPrices plus the revision and reserve update time.
func (e *Engine) Quote(symbol string) (PriceQuote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.snap.State.reserve(symbol)
	if err != nil {
		return PriceQuote{}, err
	}
	if !r.Active {
		return PriceQuote{}, ErrReserveInactive
	}
	return PriceQuote{
		Symbol:          r.Symbol,
		MintPrice:       r.MintPrice,
		RedemptionPrice: r.RedemptionPrice(),
		Revision:        e.snap.Revision,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// SetMintPrice overrides the mint price of symbol.
func (e *Engine) SetMintPrice(ctx context.Context, signer solana.PublicKey, symbol string, price float64) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		r, err := activeReserve(&tx.snap.State, symbol)
		if err != nil {
			return err
		}
		if err := checkMintPrice(r, price); err != nil {
			return err
		}
		r.MintPrice = price
		r.Priced = true
		r.UpdatedAt = tx.now
		tx.emitPrice("set_mint_price", r)
		return nil
	})
}

// UpdateMintPriceWithInflation derives a new mint price for symbol from an
// annual inflation rate given as a decimal.
func (e *Engine) UpdateMintPriceWithInflation(ctx context.Context, signer solana.PublicKey, symbol string, rate float64) (float64, error) {
	current, err := e.currentMintPrice(signer, symbol)
	if err != nil {
		return 0, err
	}
	price, err := e.model.MintPrice(ctx, inflation.Input{Symbol: symbol, Rate: rate, Current: current, Peg: e.peg})
	if err != nil {
		return 0, fmt.Errorf("%s model: %w", e.model.Name(), err)
	}
	err = e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		r, err := activeReserve(&tx.snap.State, symbol)
		if err != nil {
			return err
		}
		if err := checkMintPrice(r, price); err != nil {
			return err
		}
		r.MintPrice = price
		r.Priced = true
		r.UpdatedAt = tx.now
		tx.emitPrice("inflation", r)
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("mint price updated from inflation",
		zap.String("symbol", symbol),
		zap.String("model", e.model.Name()),
		zap.Float64("rate", rate),
		zap.Float64("mint_price", price))
	return price, nil
}

// ApplyInflation compounds every active reserve's mint price by bps basis points.
func (e *Engine) ApplyInflation(ctx context.Context, signer solana.PublicKey, bps uint64) error {
	factor := 1 + inflation.BpsToRate(bps)
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		if bps == 0 {
			return fmt.Errorf("%w: zero basis points", ErrInvalidAmount)
		}
		for i := range tx.snap.State.Reserves {
			r := &tx.snap.State.Reserves[i]
			if !r.Active {
				continue
			}
			next := r.MintPrice * factor
			if err := checkMintPrice(r, next); err != nil {
				return fmt.Errorf("%s: %w", r.Symbol, err)
			}
			r.MintPrice = next
			r.Priced = true
			r.UpdatedAt = tx.now
			tx.emitPrice("apply_inflation", r)
		}
		return nil
	})
}

// currentMintPrice reads the price the inflation model starts from. Non-admin
// signers are rejected before the model runs.
func (e *Engine) currentMintPrice(signer solana.PublicKey, symbol string) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tx := txn{snap: &e.snap}
	if err := tx.requireAdmin(signer); err != nil {
		return 0, err
	}
	r, err := activeReserve(&e.snap.State, symbol)
	if err != nil {
		return 0, err
	}
	return r.MintPrice, nil
}

func activeReserve(state *State, symbol string) (*Reserve, error) {
	r, err := state.reserve(symbol)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, fmt.Errorf("%w: %s", ErrReserveInactive, symbol)
	}
	return r, nil
}

// checkMintPrice enforces 0 < price < MaxMintPrice, price ≥ redemption and
// price ≤ 2 × current.
func checkMintPrice(r *Reserve, price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: %v", ErrZeroPrice, price)
	}
	if price >= MaxMintPrice {
		return fmt.Errorf("%w: %v", ErrMintPriceCeiling, price)
	}
	if redemption := r.RawRedemptionPrice(); price < redemption-priceEpsilon {
		return fmt.Errorf("%w: mint %v < redemption %v", ErrInvalidPriceRelation, price, redemption)
	}
	if r.MintPrice > 0 && price > 2*r.MintPrice {
		return fmt.Errorf("%w: %v -> %v", ErrPriceChangeTooLarge, r.MintPrice, price)
	}
	return nil
}

// EncodePrices packs the pair as two little-endian float64 values.
func EncodePrices(mint, redemption float64) []byte {
	buf := make([]byte, PricesPayloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(mint))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(redemption))
	return buf
}

// DecodePrices unpacks a payload produced by EncodePrices.
func DecodePrices(payload []byte) (float64, float64, error) {
	if len(payload) < PricesPayloadSize {
		return 0, 0, fmt.Errorf("price payload too short: %d bytes", len(payload))
	}
	mint := math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8]))
	redemption := math.Float64frombits(binary.LittleEndian.Uint64(payload[8:16]))
	return mint, redemption, nil
}

// FormatReturnLog renders a program-return log line carrying payload.
func FormatReturnLog(programID solana.PublicKey, payload []byte) string {
	return returnLogPrefix + programID.String() + " " + base64.StdEncoding.EncodeToString(payload)
}

// ParseReturnLog extracts the program id and payload from a return log line.
func ParseReturnLog(line string) (solana.PublicKey, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), returnLogPrefix)
	if !ok {
		return solana.PublicKey{}, nil, fmt.Errorf("not a program return log: %q", line)
	}
	id, data, ok := strings.Cut(rest, " ")
	if !ok {
		return solana.PublicKey{}, nil, fmt.Errorf("program return log missing payload")
	}
	raw, err := base58.Decode(id)
	if err != nil || len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, nil, fmt.Errorf("invalid program id %q", id)
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("decode return payload: %w", err)
	}
	return solana.PublicKeyFromBytes(raw), payload, nil
}
