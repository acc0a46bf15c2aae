package types

import (
	"errors"
	"strings"
	"time"

	"github.com/rexbrahh/irma-engine/protocol"
)

// HealthResponse represents the shape of /healthz responses.
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Initialized bool   `json:"initialized"`
	Revision    uint64 `json:"revision"`
}

// ErrorResponse is a generic API error payload. Name carries the program
// error name when the failure came from the engine.
type ErrorResponse struct {
	Error string `json:"error"`
	Name  string `json:"name,omitempty"`
}

// ErrNotFound indicates missing resources.
var ErrNotFound = errors.New("not found")

// ErrBadRequest marks request bodies or parameters that could not be parsed.
var ErrBadRequest = errors.New("bad request")

// InitializeRequest bootstraps protocol state.
type InitializeRequest struct {
	Admin string `json:"admin"`
}

// KeyRequest carries a single base58 key (admin rotation, trader allow list).
type KeyRequest struct {
	Key string `json:"key"`
}

// AddReserveRequest registers a backing stablecoin.
type AddReserveRequest struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// LbpairRequest connects a reserve to a liquidity pair.
type LbpairRequest struct {
	Pair  string `json:"pair"`
	Venue string `json:"venue"`
}

// PairRequest sets the liquidity configuration of a pair.
type PairRequest struct {
	XAmount uint64 `json:"x_amount"`
	YAmount uint64 `json:"y_amount"`
	Mode    string `json:"mode"`
}

// MintPriceRequest sets a reserve's mint price.
type MintPriceRequest struct {
	Price float64 `json:"price"`
}

// InflationRequest compounds a rate into one reserve's mint price.
type InflationRequest struct {
	Rate float64 `json:"rate"`
}

// GlobalInflationRequest applies an inflation step, in basis points, to every
// active reserve.
type GlobalInflationRequest struct {
	BasisPoints uint64 `json:"bps"`
}

// TradeRequest carries a base-unit amount as a decimal string. A repeated
// InstructionID is rejected instead of applied twice.
type TradeRequest struct {
	Amount        string `json:"amount"`
	InstructionID string `json:"instruction_id,omitempty"`
}

// RebalanceRequest optionally supplies observations; without them the engine
// observes every connected pair itself.
type RebalanceRequest struct {
	Observations []protocol.PairObservation `json:"observations,omitempty"`
}

// PricesResponse is the JSON form of a price read.
type PricesResponse struct {
	Symbol          string    `json:"symbol"`
	MintPrice       float64   `json:"mint_price"`
	RedemptionPrice float64   `json:"redemption_price"`
	Revision        uint64    `json:"revision"`
	UpdatedAt       time.Time `json:"updated_at"`
	Cached          bool      `json:"cached"`
}

// InflationResponse reports the mint price after an inflation step.
type InflationResponse struct {
	Symbol    string  `json:"symbol"`
	MintPrice float64 `json:"mint_price"`
}

// ReservesResponse lists the registry in symbol order.
type ReservesResponse struct {
	Reserves []ReserveView `json:"reserves"`
}

// ReserveView decorates a reserve with its derived prices.
type ReserveView struct {
	protocol.Reserve
	Status          protocol.Status `json:"status"`
	RedemptionPrice float64         `json:"redemption_price"`
	Spread          float64         `json:"spread"`
}

// NewReserveView derives the computed fields of r.
func NewReserveView(r protocol.Reserve) ReserveView {
	return ReserveView{
		Reserve:         r,
		Status:          r.Status(),
		RedemptionPrice: r.RedemptionPrice(),
		Spread:          r.Spread(),
	}
}

// PairsResponse lists pair configuration and tracked positions.
type PairsResponse struct {
	Pairs     []protocol.PairConfig `json:"pairs"`
	Positions []protocol.Position   `json:"positions"`
}

// TradesResponse lists ledger entries after a sequence.
type TradesResponse struct {
	Since  uint64                 `json:"since"`
	Trades []protocol.TradeRecord `json:"trades"`
}

// RebalanceResponse lists position shifts.
type RebalanceResponse struct {
	Rebalances []protocol.RebalanceRecord `json:"rebalances"`
}

// OrcaPoolRequest registers an Orca pool.
type OrcaPoolRequest struct {
	PoolID      string `json:"pool_id"`
	TokenAMint  string `json:"token_a_mint"`
	TokenBMint  string `json:"token_b_mint"`
	TokenAVault string `json:"token_a_vault"`
	TokenBVault string `json:"token_b_vault"`
	FeeRate     uint16 `json:"fee_rate"`
	TickSpacing uint16 `json:"tick_spacing"`
}

// PoolStateRequest records a price, liquidity and volume for a pool.
type PoolStateRequest struct {
	Price     uint64 `json:"price"`
	Liquidity uint64 `json:"liquidity"`
	Volume    uint64 `json:"volume"`
	Active    *bool  `json:"active,omitempty"`
}

// SimulateRequest quotes a swap.
type SimulateRequest struct {
	InputMint    string `json:"input_mint"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out,omitempty"`
}

// supportedFormats enumerates the accepted price read encodings.
var supportedFormats = map[string]struct{}{
	"":     {},
	"json": {},
	"log":  {},
}

// ValidateFormat ensures the requested price encoding is supported.
func ValidateFormat(format string) error {
	if _, ok := supportedFormats[strings.ToLower(format)]; !ok {
		return errors.New("invalid format")
	}
	return nil
}
