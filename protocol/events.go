package protocol

import (
	"context"
	"errors"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// EventKind classifies engine events for routing.
type EventKind string

const (
	EventPrice     EventKind = "price"
	EventTrade     EventKind = "trade"
	EventReserve   EventKind = "reserve"
	EventRebalance EventKind = "rebalance"
	EventAdmin     EventKind = "admin"
)

// Event is emitted after a mutation has been committed.
type Event struct {
	Kind            EventKind        `json:"kind"`
	Action          string           `json:"action"`
	Revision        uint64           `json:"revision"`
	Symbol          string           `json:"symbol,omitempty"`
	MintPrice       float64          `json:"mint_price,omitempty"`
	RedemptionPrice float64          `json:"redemption_price,omitempty"`
	Trade           *TradeRecord     `json:"trade,omitempty"`
	Rebalance       *RebalanceRecord `json:"rebalance,omitempty"`
	At              time.Time        `json:"at"`
}

// Direction is the side of a trade event from the protocol's point of view.
type Direction string

const (
	// DirectionSale: the protocol sells IRMA against reserve tokens.
	DirectionSale Direction = "sale"
	// DirectionBuy: the protocol buys IRMA back and pays out reserve tokens.
	DirectionBuy Direction = "buy"
)

// Adjustment is the counter change one trade applied to one reserve.
type Adjustment struct {
	Symbol           string   `json:"symbol"`
	BackingDelta     math.Int `json:"backing_delta"`
	CirculationDelta math.Int `json:"circulation_delta"`
}

// TradeRecord is the ledger entry of an applied trade event.
type TradeRecord struct {
	Sequence        uint64           `json:"sequence"`
	Symbol          string           `json:"symbol"`
	Direction       Direction        `json:"direction"`
	Amount          math.Int         `json:"amount"`
	Signer          solana.PublicKey `json:"signer"`
	Adjustments     []Adjustment     `json:"adjustments"`
	Backing         math.Int         `json:"backing"`
	Circulation     math.Int         `json:"circulation"`
	MintPrice       float64          `json:"mint_price"`
	RedemptionPrice float64          `json:"redemption_price"`
	At              time.Time        `json:"at"`
}

// RebalanceRecord describes a position shift decided by CheckShiftPriceRanges.
type RebalanceRecord struct {
	Pair          solana.PublicKey `json:"pair"`
	Mode          MarketMakingMode `json:"mode"`
	MintBin       int32            `json:"mint_bin"`
	RedeemBin     int32            `json:"redeem_bin"`
	PrevMintBin   int32            `json:"prev_mint_bin"`
	PrevRedeemBin int32            `json:"prev_redeem_bin"`
	MintShifted   bool             `json:"mint_shifted"`
	RedeemShifted bool             `json:"redeem_shifted"`
	MarketPrice   float64          `json:"market_price"`
}

// EventSink receives committed events in commit order.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, events []Event) error

func (f EventSinkFunc) Publish(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// MultiSink fans events out to several sinks and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, events []Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
