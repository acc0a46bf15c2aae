package common

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// SPL mint account layout.
const (
	MintAccountSize      = 82
	mintDecimalsOffset   = 44
	mintSupplyOffset     = 36
	mintInitializedIndex = 45
)

// MintMetadata describes a token mint.
type MintMetadata struct {
	Address  solana.PublicKey `json:"address"`
	Symbol   string           `json:"symbol"`
	Decimals uint8            `json:"decimals"`
	Supply   uint64           `json:"supply,omitempty"`
}

// MintMetadataProvider resolves mint metadata.
type MintMetadataProvider interface {
	MintMetadata(ctx context.Context, mint solana.PublicKey) (MintMetadata, error)
}

// KnownStablecoins are mainnet stablecoins the registry accepts without a lookup.
var KnownStablecoins = []MintMetadata{
	{Address: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"), Symbol: "USDC", Decimals: 6},
	{Address: solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"), Symbol: "USDT", Decimals: 6},
	{Address: solana.MustPublicKeyFromBase58("2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo"), Symbol: "PYUSD", Decimals: 6},
	{Address: solana.MustPublicKeyFromBase58("CASHx9KJUStyftLFWGvEVf59SGeG9sh5FfcnZMVPCASH"), Symbol: "CASH", Decimals: 6},
}

// DecodeMint reads the supply and decimals of an SPL mint account.
func DecodeMint(address solana.PublicKey, data []byte) (MintMetadata, error) {
	if len(data) < MintAccountSize {
		return MintMetadata{}, fmt.Errorf("mint account %s too short: %d bytes", address, len(data))
	}
	if data[mintInitializedIndex] != 1 {
		return MintMetadata{}, fmt.Errorf("mint account %s not initialized", address)
	}
	return MintMetadata{
		Address:  address,
		Decimals: data[mintDecimalsOffset],
		Supply:   binary.LittleEndian.Uint64(data[mintSupplyOffset : mintSupplyOffset+8]),
	}, nil
}

// StaticMintMetadata is an in-memory provider seeded with KnownStablecoins.
// Unknown mints fall through to Fallback when set.
type StaticMintMetadata struct {
	Fallback MintMetadataProvider

	mu    sync.RWMutex
	mints map[solana.PublicKey]MintMetadata
}

// NewStaticMintMetadata returns a provider preloaded with the known stablecoins.
func NewStaticMintMetadata(fallback MintMetadataProvider) *StaticMintMetadata {
	p := &StaticMintMetadata{Fallback: fallback, mints: make(map[solana.PublicKey]MintMetadata)}
	for _, m := range KnownStablecoins {
		p.mints[m.Address] = m
	}
	return p
}

// Add registers or replaces metadata for a mint.
func (p *StaticMintMetadata) Add(m MintMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mints[m.Address] = m
}

// MintMetadata returns cached metadata or asks the fallback, caching its answer.
func (p *StaticMintMetadata) MintMetadata(ctx context.Context, mint solana.PublicKey) (MintMetadata, error) {
	p.mu.RLock()
	m, ok := p.mints[mint]
	p.mu.RUnlock()
	if ok {
		return m, nil
	}
	if p.Fallback == nil {
		return MintMetadata{}, fmt.Errorf("mint metadata not found for %s", mint)
	}
	m, err := p.Fallback.MintMetadata(ctx, mint)
	if err != nil {
		return MintMetadata{}, err
	}
	p.Add(m)
	return m, nil
}
