package orca_whirlpool

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/rexbrahh/irma-engine/decoder/common"
)

// ErrNotWhirlpool signals that the account data is not a Whirlpool.
var ErrNotWhirlpool = errors.New("account is not an orca whirlpool")

// DecodeWhirlpool decodes a Whirlpool account.
func DecodeWhirlpool(data []byte) (*Whirlpool, error) {
	if len(data) < WhirlpoolSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrNotWhirlpool, WhirlpoolSize, len(data))
	}
	if !bytes.Equal(data[:8], WhirlpoolDiscriminator[:]) {
		return nil, fmt.Errorf("%w: discriminator %x", ErrNotWhirlpool, data[:8])
	}
	var pool Whirlpool
	if err := bin.NewBinDecoder(data[:WhirlpoolSize]).Decode(&pool); err != nil {
		return nil, fmt.Errorf("decode whirlpool: %w", err)
	}
	return &pool, nil
}

// Price is the UI price of token A in token B.
func (w *Whirlpool) Price(decimalsA, decimalsB uint8) float64 {
	return common.SqrtPriceX64ToPrice(w.SqrtPrice, decimalsA, decimalsB)
}

// FeeRatePercent converts the fee rate (hundredths of a basis point) to percent.
func (w *Whirlpool) FeeRatePercent() float64 {
	return float64(w.FeeRate) / 10_000
}

// Encode serializes the pool; used to build fixtures.
func (w *Whirlpool) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBinEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
