package common

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestStaticMintMetadataKnownStablecoins(t *testing.T) {
	p := NewStaticMintMetadata(nil)
	for _, want := range KnownStablecoins {
		got, err := p.MintMetadata(context.Background(), want.Address)
		if err != nil {
			t.Fatalf("%s: %v", want.Symbol, err)
		}
		if got.Symbol != want.Symbol || got.Decimals != want.Decimals {
			t.Errorf("%s: got %+v", want.Symbol, got)
		}
	}
	if _, err := p.MintMetadata(context.Background(), solana.NewWallet().PublicKey()); err == nil {
		t.Error("expected error for unknown mint without fallback")
	}
}

type countingProvider struct {
	calls int
	meta  MintMetadata
	err   error
}

func (c *countingProvider) MintMetadata(_ context.Context, mint solana.PublicKey) (MintMetadata, error) {
	c.calls++
	m := c.meta
	m.Address = mint
	return m, c.err
}

func TestStaticMintMetadataFallbackIsCached(t *testing.T) {
	fb := &countingProvider{meta: MintMetadata{Symbol: "devUSDC", Decimals: 9}}
	p := NewStaticMintMetadata(fb)
	mint := solana.NewWallet().PublicKey()

	for i := 0; i < 3; i++ {
		m, err := p.MintMetadata(context.Background(), mint)
		if err != nil {
			t.Fatalf("MintMetadata: %v", err)
		}
		if m.Decimals != 9 {
			t.Fatalf("decimals = %d, want 9", m.Decimals)
		}
	}
	if fb.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", fb.calls)
	}

	boom := errors.New("rpc down")
	p = NewStaticMintMetadata(&countingProvider{err: boom})
	if _, err := p.MintMetadata(context.Background(), mint); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestDecodeMint(t *testing.T) {
	data := make([]byte, MintAccountSize)
	binary.LittleEndian.PutUint64(data[36:44], 1_000_000_000)
	data[44] = 6
	data[45] = 1
	mint := solana.NewWallet().PublicKey()

	m, err := DecodeMint(mint, data)
	if err != nil {
		t.Fatalf("DecodeMint: %v", err)
	}
	if m.Decimals != 6 || m.Supply != 1_000_000_000 || !m.Address.Equals(mint) {
		t.Errorf("DecodeMint = %+v", m)
	}

	if _, err := DecodeMint(mint, data[:40]); err == nil {
		t.Error("expected error for short account")
	}
	data[45] = 0
	if _, err := DecodeMint(mint, data); err == nil {
		t.Error("expected error for uninitialized mint")
	}
}
