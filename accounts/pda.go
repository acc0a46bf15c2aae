package accounts

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the IRMA program the engine mirrors.
var ProgramID = solana.MustPublicKeyFromBase58("8zs1JbqxqLcCXzBrkMCXyY2wgSW8uk8nxYuMFEfUMQa6")

var (
	StatePrefix         = []byte("state")
	CorePrefix          = []byte("core")
	ProtocolStatePrefix = []byte("protocol_state")
	OrcaPoolPrefix      = []byte("orca_pool")
	CrankStatePrefix    = []byte("crank_state")
	PositionOwnerPrefix = []byte("irma")
)

// Kind names a logical account independent of the seed generation it was
// created under.
type Kind string

const (
	KindProtocolState Kind = "protocol_state"
	KindCore          Kind = "core"
	KindOrcaPool      Kind = "orca_pool"
	KindCrankState    Kind = "crank_state"
)

// Seeds that older deployments used. They all resolve to the current account.
var legacySeeds = map[string]Kind{
	"state":          KindProtocolState,
	"state_v4":       KindProtocolState,
	"state_v5":       KindProtocolState,
	"protocol_state": KindProtocolState,
	"core":           KindCore,
	"core_v4":        KindCore,
	"core_v5":        KindCore,
	"orca_pool":      KindOrcaPool,
	"crank_state":    KindCrankState,
}

// ResolveSeed maps a seed string, current or legacy, to its logical account.
func ResolveSeed(seed string) (Kind, error) {
	kind, ok := legacySeeds[seed]
	if !ok {
		return "", fmt.Errorf("unknown account seed %q", seed)
	}
	return kind, nil
}

// StateAddress is the PDA of the protocol state singleton.
func StateAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{StatePrefix}, programID)
}

// ProtocolStateAddress is the PDA the state singleton migrates to.
func ProtocolStateAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{ProtocolStatePrefix}, programID)
}

// CoreAddress is the PDA of the pair configuration singleton.
func CoreAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{CorePrefix}, programID)
}

// OrcaPoolAddress is the PDA holding tracked state of an Orca pool.
func OrcaPoolAddress(programID, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{OrcaPoolPrefix, pool[:]}, programID)
}

// CrankStateAddress is the PDA of the crank bookkeeping for a market.
func CrankStateAddress(programID, market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{CrankStatePrefix, market[:]}, programID)
}

// PositionOwnerAddress is the PDA that owns the protocol's liquidity positions.
func PositionOwnerAddress(programID, admin solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{PositionOwnerPrefix, admin[:]}, programID)
}

// AddressFor derives the address of a singleton by seed, honoring legacy
// seeds. Legacy seeds derive their own historical address.
func AddressFor(programID solana.PublicKey, seed string) (solana.PublicKey, Kind, error) {
	kind, err := ResolveSeed(seed)
	if err != nil {
		return solana.PublicKey{}, "", err
	}
	if kind == KindOrcaPool || kind == KindCrankState {
		return solana.PublicKey{}, "", fmt.Errorf("seed %q needs an account key", seed)
	}
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(seed)}, programID)
	if err != nil {
		return solana.PublicKey{}, "", fmt.Errorf("derive %s: %w", seed, err)
	}
	return addr, kind, nil
}
