package meteora

import (
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func fixturePair(t *testing.T, activeID int32, binStep uint16) (*LbPair, []byte) {
	t.Helper()
	pair := &LbPair{
		Discriminator: LbPairDiscriminator,
		ActiveID:      activeID,
		BinStep:       binStep,
		TokenXMint:    solana.NewWallet().PublicKey(),
		TokenYMint:    solana.NewWallet().PublicKey(),
		ReserveX:      solana.NewWallet().PublicKey(),
		ReserveY:      solana.NewWallet().PublicKey(),
	}
	pair.Parameters.MaxBinID = 443636
	pair.Parameters.MinBinID = -443636
	data, err := pair.Encode()
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if len(data) != LbPairMinSize {
		t.Fatalf("fixture size = %d, want %d", len(data), LbPairMinSize)
	}
	// trailing bytes of the real account are ignored
	return pair, append(data, make([]byte, 600)...)
}

func TestDecodeLbPair(t *testing.T) {
	want, data := fixturePair(t, -42, 10)

	got, err := DecodeLbPair(data)
	if err != nil {
		t.Fatalf("DecodeLbPair: %v", err)
	}
	if got.ActiveID != -42 || got.BinStep != 10 {
		t.Fatalf("active %d step %d", got.ActiveID, got.BinStep)
	}
	if !got.TokenXMint.Equals(want.TokenXMint) || !got.TokenYMint.Equals(want.TokenYMint) {
		t.Fatalf("mints mismatch")
	}
	if !got.ReserveY.Equals(want.ReserveY) {
		t.Fatalf("reserve y mismatch")
	}
	if !got.Enabled() {
		t.Fatalf("expected enabled pair")
	}
}

func TestDecodeLbPairOffsets(t *testing.T) {
	want, data := fixturePair(t, 1234, 25)
	if got := solana.PublicKeyFromBytes(data[TokenXMintOffset : TokenXMintOffset+32]); !got.Equals(want.TokenXMint) {
		t.Fatalf("token x mint not at offset %d", TokenXMintOffset)
	}
	if got := solana.PublicKeyFromBytes(data[TokenYMintOffset : TokenYMintOffset+32]); !got.Equals(want.TokenYMint) {
		t.Fatalf("token y mint not at offset %d", TokenYMintOffset)
	}
	if data[BinStepOffset] != 25 || data[BinStepOffset+1] != 0 {
		t.Fatalf("bin step not at offset %d", BinStepOffset)
	}
	if data[ActiveIDOffset] != 0xd2 || data[ActiveIDOffset+1] != 0x04 {
		t.Fatalf("active id not at offset %d", ActiveIDOffset)
	}
}

func TestDecodeLbPairRejects(t *testing.T) {
	_, data := fixturePair(t, 0, 10)

	if _, err := DecodeLbPair(data[:100]); !errors.Is(err, ErrNotLbPair) {
		t.Errorf("short data error = %v", err)
	}

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xff
	if _, err := DecodeLbPair(bad); !errors.Is(err, ErrNotLbPair) {
		t.Errorf("bad discriminator error = %v", err)
	}

	_, zeroStep := fixturePair(t, 0, 0)
	if _, err := DecodeLbPair(zeroStep); !errors.Is(err, ErrNotLbPair) {
		t.Errorf("zero bin step error = %v", err)
	}
}

func TestLbPairPrices(t *testing.T) {
	pair, _ := fixturePair(t, 95, 10)

	price := pair.ActivePrice(6, 6)
	if math.Abs(price-math.Pow(1.001, 95)) > 1e-12 {
		t.Fatalf("ActivePrice = %v", price)
	}

	id, err := pair.BinForPrice(1.10, 6, 6)
	if err != nil {
		t.Fatalf("BinForPrice: %v", err)
	}
	if id != 95 {
		t.Fatalf("BinForPrice(1.10) = %d, want 95", id)
	}

	// IRMA (6 decimals) against a 9 decimal reserve shifts the lamport price.
	id9, err := pair.BinForPrice(1.10, 6, 9)
	if err != nil {
		t.Fatalf("BinForPrice: %v", err)
	}
	if id9 <= id {
		t.Fatalf("expected higher bin for 9 decimal reserve, got %d", id9)
	}
}
