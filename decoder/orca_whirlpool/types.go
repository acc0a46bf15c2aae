package orca_whirlpool

import (
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// ProgramID is the Orca Whirlpools program.
var ProgramID = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

// WhirlpoolDiscriminator is the anchor account discriminator of Whirlpool.
var WhirlpoolDiscriminator = [8]byte{63, 149, 209, 12, 225, 128, 99, 9}

// WhirlpoolSize is the serialized size of a Whirlpool account.
const WhirlpoolSize = 653

// Field offsets used by partial readers.
const (
	SqrtPriceOffset  = 65
	TickIndexOffset  = 81
	TokenMintAOffset = 101
	TokenMintBOffset = 181
)

// RewardInfo is one of the three reward emitters of a pool.
type RewardInfo struct {
	Mint                  solana.PublicKey
	Vault                 solana.PublicKey
	Authority             solana.PublicKey
	EmissionsPerSecondX64 uint128.Uint128
	GrowthGlobalX64       uint128.Uint128
}

// Whirlpool is the on-chain pool account.
type Whirlpool struct {
	Discriminator              [8]uint8
	WhirlpoolsConfig           solana.PublicKey
	WhirlpoolBump              [1]uint8
	TickSpacing                uint16
	TickSpacingSeed            [2]uint8
	FeeRate                    uint16
	ProtocolFeeRate            uint16
	Liquidity                  uint128.Uint128
	SqrtPrice                  uint128.Uint128
	TickCurrentIndex           int32
	ProtocolFeeOwedA           uint64
	ProtocolFeeOwedB           uint64
	TokenMintA                 solana.PublicKey
	TokenVaultA                solana.PublicKey
	FeeGrowthGlobalA           uint128.Uint128
	TokenMintB                 solana.PublicKey
	TokenVaultB                solana.PublicKey
	FeeGrowthGlobalB           uint128.Uint128
	RewardLastUpdatedTimestamp uint64
	RewardInfos                [3]RewardInfo
}
