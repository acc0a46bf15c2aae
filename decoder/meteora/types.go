package meteora

import (
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the Meteora DLMM program.
var ProgramID = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

// LbPairDiscriminator is the anchor account discriminator of LbPair.
var LbPairDiscriminator = [8]byte{33, 11, 49, 98, 181, 101, 177, 13}

// Layout offsets within the LbPair account.
const (
	ActiveIDOffset   = 76
	BinStepOffset    = 80
	TokenXMintOffset = 88
	TokenYMintOffset = 120
	// LbPairMinSize covers every field decoded by DecodeLbPair.
	LbPairMinSize = 216
)

// PairStatus is the trading status byte of a pair.
type PairStatus uint8

const (
	PairStatusEnabled  PairStatus = 0
	PairStatusDisabled PairStatus = 1
)

// StaticParameters are the fee parameters fixed at pair creation.
type StaticParameters struct {
	BaseFactor               uint16
	FilterPeriod             uint16
	DecayPeriod              uint16
	ReductionFactor          uint16
	VariableFeeControl       uint32
	MaxVolatilityAccumulator uint32
	MinBinID                 int32
	MaxBinID                 int32
	ProtocolShare            uint16
	BaseFeePowerFactor       uint8
	Padding                  [5]uint8
}

// VariableParameters track the volatility accumulator.
type VariableParameters struct {
	VolatilityAccumulator uint32
	VolatilityReference   uint32
	IndexReference        int32
	Padding               [4]uint8
	LastUpdateTimestamp   int64
	Padding1              [8]uint8
}

// LbPair is the leading part of the DLMM pair account, which is all the
// engine needs to locate the active bin.
type LbPair struct {
	Discriminator           [8]uint8
	Parameters              StaticParameters
	VParameters             VariableParameters
	BumpSeed                [1]uint8
	BinStepSeed             [2]uint8
	PairType                uint8
	ActiveID                int32
	BinStep                 uint16
	Status                  uint8
	RequireBaseFactorSeed   uint8
	BaseFactorSeed          [2]uint8
	ActivationType          uint8
	CreatorPoolOnOffControl uint8
	TokenXMint              solana.PublicKey
	TokenYMint              solana.PublicKey
	ReserveX                solana.PublicKey
	ReserveY                solana.PublicKey
}

// Enabled reports whether swaps are allowed on the pair.
func (p *LbPair) Enabled() bool {
	return PairStatus(p.Status) == PairStatusEnabled
}
