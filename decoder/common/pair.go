package common

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrPairMismatch is returned when a pool does not trade the expected mints.
var ErrPairMismatch = errors.New("pool mints do not match reserve pair")

// Orientation records which side of a pool holds IRMA.
type Orientation struct {
	IrmaMint    solana.PublicKey
	ReserveMint solana.PublicKey
	// Inverted is true when the reserve token is token X (or A) of the pool.
	Inverted bool
}

// Orient matches a pool's (x, y) mints against the IRMA and reserve mints.
// A zero irma key accepts any mint on the IRMA side.
func Orient(x, y, irma, reserve solana.PublicKey) (Orientation, error) {
	if x.IsZero() || y.IsZero() {
		return Orientation{}, fmt.Errorf("%w: zero mint", ErrPairMismatch)
	}
	if x.Equals(y) {
		return Orientation{}, fmt.Errorf("%w: identical mints %s", ErrPairMismatch, x)
	}
	switch {
	case y.Equals(reserve) && (irma.IsZero() || x.Equals(irma)):
		return Orientation{IrmaMint: x, ReserveMint: y}, nil
	case x.Equals(reserve) && (irma.IsZero() || y.Equals(irma)):
		return Orientation{IrmaMint: y, ReserveMint: x, Inverted: true}, nil
	}
	return Orientation{}, fmt.Errorf("%w: pool %s/%s, reserve %s", ErrPairMismatch, x, y, reserve)
}

// IrmaPrice converts a pool price of X in Y into reserve tokens per IRMA.
func (o Orientation) IrmaPrice(poolPrice float64) float64 {
	if !o.Inverted {
		return poolPrice
	}
	if poolPrice == 0 {
		return 0
	}
	return 1 / poolPrice
}
