package accounts

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// VersionOrcaPool is the layout of the orca_pool account.
const VersionOrcaPool uint16 = 1

var OrcaPoolDiscriminator = accountDiscriminator("OrcaPool")

// OrcaPoolAccount is the persisted state of one tracked Orca pool, stored at
// OrcaPoolAddress(programID, PoolID).
type OrcaPoolAccount struct {
	PoolID       solana.PublicKey
	TokenAMint   solana.PublicKey
	TokenBMint   solana.PublicKey
	TokenAVault  solana.PublicKey
	TokenBVault  solana.PublicKey
	FeeRate      uint16
	TickSpacing  uint16
	Active       bool
	CurrentPrice uint64
	Liquidity    uint64
	Volume24h    uint64
	LastUpdate   int64
}

// PoolStore persists orca_pool accounts keyed by their PDA.
type PoolStore interface {
	SavePool(ctx context.Context, address solana.PublicKey, data []byte) error
	LoadPools(ctx context.Context) ([][]byte, error)
}

func EncodeOrcaPool(a OrcaPoolAccount) ([]byte, error) {
	return seal(OrcaPoolDiscriminator, VersionOrcaPool, &a)
}

func DecodeOrcaPool(data []byte) (OrcaPoolAccount, error) {
	var a OrcaPoolAccount
	if err := open(data, OrcaPoolDiscriminator, VersionOrcaPool, &a); err != nil {
		return OrcaPoolAccount{}, fmt.Errorf("orca pool account: %w", err)
	}
	return a, nil
}
