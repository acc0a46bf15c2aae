// Package inflation computes inflation-adjusted IRMA mint prices.
package inflation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultThreshold is the annual rate below which the mint price stays at parity.
const DefaultThreshold = 0.02

var (
	ErrNegativeRate     = errors.New("inflation rate must not be negative")
	ErrNoReferencePrice = errors.New("reference price unavailable")
	ErrUnknownModel     = errors.New("unknown inflation model")
)

// Input carries everything a model may use to derive a mint price.
type Input struct {
	Symbol string
	// Rate is the annual inflation rate as a decimal (0.05 = 5%).
	Rate float64
	// Current is the reserve's current mint price.
	Current float64
	// Peg is the USD price of the reserve stablecoin, normally 1.0.
	Peg float64
}

// Model turns an inflation observation into a new mint price.
type Model interface {
	Name() string
	MintPrice(ctx context.Context, in Input) (float64, error)
}

// Threshold keeps the mint price at the peg while inflation stays under the
// threshold and raises it linearly above it.
type Threshold struct {
	Cutoff float64
}

func (Threshold) Name() string { return "threshold" }

func (m Threshold) MintPrice(_ context.Context, in Input) (float64, error) {
	if in.Rate < 0 || math.IsNaN(in.Rate) {
		return 0, fmt.Errorf("%w: %v", ErrNegativeRate, in.Rate)
	}
	cutoff := m.Cutoff
	if cutoff <= 0 {
		cutoff = DefaultThreshold
	}
	peg := pegOrParity(in.Peg)
	if in.Rate < cutoff {
		return peg, nil
	}
	return peg * (1 + in.Rate), nil
}

// Compound raises the current mint price by the rate.
type Compound struct{}

func (Compound) Name() string { return "compound" }

func (Compound) MintPrice(_ context.Context, in Input) (float64, error) {
	if in.Rate < 0 || math.IsNaN(in.Rate) {
		return 0, fmt.Errorf("%w: %v", ErrNegativeRate, in.Rate)
	}
	current := in.Current
	if current <= 0 {
		current = pegOrParity(in.Peg)
	}
	return current * (1 + in.Rate), nil
}

// ReferenceSource yields a price index now and one year earlier.
type ReferenceSource interface {
	ReferencePrices(ctx context.Context, symbol string, at time.Time) (current, yearAgo float64, err error)
}

// ReferencePrice derives the rate from a price index over the trailing 365
// days and then applies the threshold rule. The supplied rate is ignored.
type ReferencePrice struct {
	Source    ReferenceSource
	Threshold Threshold
	Now       func() time.Time
}

func (ReferencePrice) Name() string { return "reference" }

func (m ReferencePrice) MintPrice(ctx context.Context, in Input) (float64, error) {
	if m.Source == nil {
		return 0, ErrNoReferencePrice
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	current, yearAgo, err := m.Source.ReferencePrices(ctx, in.Symbol, now())
	if err != nil {
		return 0, fmt.Errorf("reference prices for %s: %w", in.Symbol, err)
	}
	if current <= 0 || yearAgo <= 0 {
		return 0, ErrNoReferencePrice
	}
	rate := current/yearAgo - 1
	if rate < 0 {
		rate = 0
	}
	in.Rate = rate
	return m.Threshold.MintPrice(ctx, in)
}

// ByName returns the built-in model registered under name. The reference
// model requires a source and is built directly by callers.
func ByName(name string, threshold float64) (Model, error) {
	switch name {
	case "", "threshold":
		return Threshold{Cutoff: threshold}, nil
	case "compound":
		return Compound{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

func pegOrParity(peg float64) float64 {
	if peg <= 0 {
		return 1.0
	}
	return peg
}
