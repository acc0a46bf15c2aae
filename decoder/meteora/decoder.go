package meteora

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/rexbrahh/irma-engine/decoder/common"
)

// ErrNotLbPair signals that the account data is not a DLMM pair.
var ErrNotLbPair = errors.New("account is not a meteora lb pair")

// DecodeLbPair decodes the fixed prefix of an LbPair account.
func DecodeLbPair(data []byte) (*LbPair, error) {
	if len(data) < LbPairMinSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrNotLbPair, LbPairMinSize, len(data))
	}
	if !bytes.Equal(data[:8], LbPairDiscriminator[:]) {
		return nil, fmt.Errorf("%w: discriminator %x", ErrNotLbPair, data[:8])
	}
	var pair LbPair
	if err := bin.NewBinDecoder(data[:LbPairMinSize]).Decode(&pair); err != nil {
		return nil, fmt.Errorf("decode lb pair: %w", err)
	}
	if pair.BinStep == 0 {
		return nil, fmt.Errorf("%w: zero bin step", ErrNotLbPair)
	}
	return &pair, nil
}

// ActivePrice is the UI price of token X in token Y at the active bin.
func (p *LbPair) ActivePrice(decimalsX, decimalsY uint8) float64 {
	return common.PriceFromLamport(common.BinPrice(p.ActiveID, p.BinStep), decimalsX, decimalsY)
}

// BinForPrice returns the bin holding a UI price of X in Y.
func (p *LbPair) BinForPrice(price float64, decimalsX, decimalsY uint8) (int32, error) {
	return common.BinIDFromPrice(common.PricePerLamport(price, decimalsX, decimalsY), p.BinStep)
}

// Encode writes the pair prefix back out; used to build fixtures.
func (p *LbPair) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBinEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
