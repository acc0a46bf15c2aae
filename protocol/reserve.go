package protocol

import (
	"fmt"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

const (
	// MaxReserves bounds the registry; the on-chain account could not hold more.
	MaxReserves = 40
	// IrmaDecimals is the decimal precision of the IRMA token.
	IrmaDecimals = 6
	// MaxMintPrice disables minting against a reserve that lost most of its value.
	MaxMintPrice = 10_000.0
	// MinMintAmount is the smallest sale in whole reserve tokens.
	MinMintAmount = 100
	// MaxRedeemAmount is the largest buy-back in whole IRMA per instruction.
	MaxRedeemAmount = 100_000
	// DefaultMintPrice is the parity price assigned to new reserves.
	DefaultMintPrice = 1.0

	maxSymbolLen = 8
)

// VenueKind selects the liquidity venue a reserve's pair lives on.
type VenueKind string

const (
	VenueNone      VenueKind = ""
	VenueDLMM      VenueKind = "dlmm"
	VenueWhirlpool VenueKind = "whirlpool"
)

// Valid reports whether k names a supported venue.
func (k VenueKind) Valid() bool {
	return k == VenueDLMM || k == VenueWhirlpool
}

// Status is the lifecycle stage of a reserve.
type Status string

const (
	StatusRegistered  Status = "registered"
	StatusConnected   Status = "connected"
	StatusPriceActive Status = "price_active"
	StatusDisabled    Status = "disabled"
)

// Reserve is a backing stablecoin and its accounting counters. Backing is held
// in base units of the reserve token; Circulation in IRMA base units.
type Reserve struct {
	Symbol      string           `json:"symbol"`
	Mint        solana.PublicKey `json:"mint"`
	Decimals    uint8            `json:"decimals"`
	Venue       VenueKind        `json:"venue,omitempty"`
	Pair        solana.PublicKey `json:"pair"`
	MintPrice   float64          `json:"mint_price"`
	Backing     math.Int         `json:"backing"`
	Circulation math.Int         `json:"circulation"`
	Active      bool             `json:"active"`
	Priced      bool             `json:"priced"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewReserve validates the registration arguments and seeds the counters with
// one whole unit on each side so the initial redemption price is 1.0.
func NewReserve(symbol string, mint solana.PublicKey, decimals uint8) (Reserve, error) {
	if err := validateSymbol(symbol); err != nil {
		return Reserve{}, err
	}
	if mint.IsZero() {
		return Reserve{}, ErrInvalidMint
	}
	if decimals == 0 || decimals > 18 {
		return Reserve{}, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	return Reserve{
		Symbol:      symbol,
		Mint:        mint,
		Decimals:    decimals,
		MintPrice:   DefaultMintPrice,
		Backing:     pow10(decimals),
		Circulation: pow10(IrmaDecimals),
		Active:      true,
	}, nil
}

func validateSymbol(symbol string) error {
	if len(symbol) == 0 || len(symbol) > maxSymbolLen {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// Status derives the lifecycle stage from the reserve fields.
func (r Reserve) Status() Status {
	switch {
	case !r.Active:
		return StatusDisabled
	case r.Priced:
		return StatusPriceActive
	case !r.Pair.IsZero():
		return StatusConnected
	default:
		return StatusRegistered
	}
}

// Connected reports whether a liquidity pair is bound to the reserve.
func (r Reserve) Connected() bool {
	return !r.Pair.IsZero() && r.Venue.Valid()
}

// RawRedemptionPrice is backing per IRMA in whole units, uncapped.
func (r Reserve) RawRedemptionPrice() float64 {
	if r.Circulation.IsNil() || r.Circulation.IsZero() {
		return 1.0
	}
	return ratio(r.Backing, r.Decimals, r.Circulation).MustFloat64()
}

// RedemptionPrice is the raw redemption price capped at the mint price.
func (r Reserve) RedemptionPrice() float64 {
	raw := r.RawRedemptionPrice()
	if raw > r.MintPrice {
		return r.MintPrice
	}
	return raw
}

// Spread is mint price minus raw redemption price.
func (r Reserve) Spread() float64 {
	return r.MintPrice - r.RawRedemptionPrice()
}

// ratio returns (backing / 10^dec) / (circulation / 10^6).
func ratio(backing math.Int, decimals uint8, circulation math.Int) math.LegacyDec {
	num := math.LegacyNewDecFromInt(backing.Mul(pow10(IrmaDecimals)))
	den := math.LegacyNewDecFromInt(circulation.Mul(pow10(decimals)))
	return num.Quo(den)
}

func pow10(decimals uint8) math.Int {
	return math.NewIntWithDecimal(1, int(decimals))
}

func decFromFloat(v float64) (math.LegacyDec, error) {
	return math.LegacyNewDecFromStr(strconv.FormatFloat(v, 'f', 18, 64))
}
