package protocol

import "errors"

// Authorization errors.
var (
	ErrUnauthorized       = errors.New("signer is not authorized for this instruction")
	ErrNotInitialized     = errors.New("protocol state not initialized")
	ErrAlreadyInitialized = errors.New("protocol state already initialized")
)

// Validation errors.
var (
	ErrInvalidPriceRelation = errors.New("mint price must not be below redemption price")
	ErrZeroPrice            = errors.New("price must be positive")
	ErrPriceChangeTooLarge  = errors.New("mint price change exceeds 2x of current price")
	ErrMintPriceCeiling     = errors.New("mint price reached ceiling, reserve should be removed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidIrmaAmount    = errors.New("redemption exceeds per-transaction IRMA limit")
	ErrInvalidSymbol        = errors.New("invalid backing symbol")
	ErrInvalidMint          = errors.New("invalid backing mint address")
	ErrInvalidDecimals      = errors.New("invalid backing decimals")
	ErrRegistryFull         = errors.New("maximum number of reserves reached")
	ErrDuplicateReserve     = errors.New("reserve already registered")
	ErrReserveInactive      = errors.New("reserve is disabled")
	ErrInvalidPair          = errors.New("invalid liquidity pair address")
	ErrInvalidVenue         = errors.New("unsupported liquidity venue")
)

// Not-found and accounting errors.
var (
	ErrSymbolNotFound          = errors.New("symbol not found")
	ErrPairNotConnected        = errors.New("reserve has no liquidity pair")
	ErrInsufficientCirculation = errors.New("insufficient IRMA in circulation")
	ErrInsufficientReserve     = errors.New("insufficient backing reserve")
	ErrNoObserver              = errors.New("no liquidity pair observer configured")
	ErrDuplicateInstruction    = errors.New("instruction already applied")
)

// errorNames is checked in order, so a joined error reports its first
// listed sentinel.
var errorNames = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "UnauthorizedCaller"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrInvalidPriceRelation, "InvalidPriceRelation"},
	{ErrZeroPrice, "ZeroPrice"},
	{ErrPriceChangeTooLarge, "PriceChangeTooLarge"},
	{ErrMintPriceCeiling, "RemoveReserve"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidIrmaAmount, "InvalidIrmaAmount"},
	{ErrInvalidSymbol, "InvalidBackingSymbol"},
	{ErrInvalidMint, "InvalidBackingAddress"},
	{ErrInvalidDecimals, "InvalidBacking"},
	{ErrRegistryFull, "InvalidBacking"},
	{ErrDuplicateReserve, "DuplicateReserve"},
	{ErrReserveInactive, "InvalidQuoteToken"},
	{ErrInvalidPair, "LbPairStateNotFound"},
	{ErrInvalidVenue, "InvalidPoolConfig"},
	{ErrSymbolNotFound, "SymbolNotFound"},
	{ErrPairNotConnected, "ReserveListPositionListMismatch"},
	{ErrInsufficientCirculation, "InsufficientCirculation"},
	{ErrInsufficientReserve, "InsufficientReserve"},
	{ErrNoObserver, "LbPairStateNotFound"},
	{ErrDuplicateInstruction, "DuplicateInstruction"},
}

// ErrorName returns the program error name callers match on, or "" when err
// does not wrap a protocol error.
func ErrorName(err error) string {
	if err == nil {
		return ""
	}
	for _, n := range errorNames {
		if errors.Is(err, n.err) {
			return n.name
		}
	}
	return ""
}
