package orca_whirlpool

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/rexbrahh/irma-engine/decoder/common"
)

func fixtureWhirlpool(t *testing.T, price float64) (*Whirlpool, []byte) {
	t.Helper()
	sqrt, err := common.PriceToSqrtPriceX64(price, 6, 6)
	if err != nil {
		t.Fatalf("sqrt price: %v", err)
	}
	pool := &Whirlpool{
		Discriminator: WhirlpoolDiscriminator,
		TickSpacing:   1,
		FeeRate:       100,
		SqrtPrice:     sqrt,
		TokenMintA:    solana.NewWallet().PublicKey(),
		TokenMintB:    solana.NewWallet().PublicKey(),
	}
	pool.TickCurrentIndex, err = common.SqrtPriceX64ToTickIndex(sqrt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	data, err := pool.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != WhirlpoolSize {
		t.Fatalf("fixture size = %d, want %d", len(data), WhirlpoolSize)
	}
	return pool, data
}

func TestDecodeWhirlpool(t *testing.T) {
	want, data := fixtureWhirlpool(t, 1.07)

	got, err := DecodeWhirlpool(data)
	if err != nil {
		t.Fatalf("DecodeWhirlpool: %v", err)
	}
	if got.SqrtPrice != want.SqrtPrice {
		t.Fatalf("sqrt price = %s, want %s", got.SqrtPrice, want.SqrtPrice)
	}
	if !got.TokenMintA.Equals(want.TokenMintA) || !got.TokenMintB.Equals(want.TokenMintB) {
		t.Fatal("mints mismatch")
	}
	if got.TickCurrentIndex != want.TickCurrentIndex {
		t.Fatalf("tick = %d, want %d", got.TickCurrentIndex, want.TickCurrentIndex)
	}
	if math.Abs(got.Price(6, 6)-1.07) > 1e-9 {
		t.Fatalf("price = %v, want 1.07", got.Price(6, 6))
	}
	if got.FeeRatePercent() != 0.01 {
		t.Fatalf("fee = %v", got.FeeRatePercent())
	}
}

func TestDecodeWhirlpoolOffsets(t *testing.T) {
	want, data := fixtureWhirlpool(t, 2.5)
	if got := solana.PublicKeyFromBytes(data[TokenMintAOffset : TokenMintAOffset+32]); !got.Equals(want.TokenMintA) {
		t.Fatalf("mint a not at offset %d", TokenMintAOffset)
	}
	if got := solana.PublicKeyFromBytes(data[TokenMintBOffset : TokenMintBOffset+32]); !got.Equals(want.TokenMintB) {
		t.Fatalf("mint b not at offset %d", TokenMintBOffset)
	}
	if lo := binary.LittleEndian.Uint64(data[SqrtPriceOffset : SqrtPriceOffset+8]); lo != want.SqrtPrice.Lo {
		t.Fatalf("sqrt price not at offset %d", SqrtPriceOffset)
	}
	if tick := int32(binary.LittleEndian.Uint32(data[TickIndexOffset : TickIndexOffset+4])); tick != want.TickCurrentIndex {
		t.Fatalf("tick not at offset %d", TickIndexOffset)
	}
}

func TestDecodeWhirlpoolRejects(t *testing.T) {
	_, data := fixtureWhirlpool(t, 1.0)
	if _, err := DecodeWhirlpool(data[:200]); !errors.Is(err, ErrNotWhirlpool) {
		t.Errorf("short data error = %v", err)
	}
	bad := append([]byte(nil), data...)
	bad[7] ^= 0x01
	if _, err := DecodeWhirlpool(bad); !errors.Is(err, ErrNotWhirlpool) {
		t.Errorf("bad discriminator error = %v", err)
	}
}
