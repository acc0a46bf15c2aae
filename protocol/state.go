package protocol

import (
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
)

// SchemaVersion is the layout revision of persisted snapshots.
const SchemaVersion uint16 = 3

// MaxAppliedInstructions bounds the instruction ids State keeps for duplicate
// detection. The oldest id is forgotten first.
const MaxAppliedInstructions = 1024

// State is the protocol singleton: admin authority and the reserve registry.
type State struct {
	Initialized   bool               `json:"initialized"`
	Admin         solana.PublicKey   `json:"admin"`
	Traders       []solana.PublicKey `json:"traders,omitempty"`
	Reserves      []Reserve          `json:"reserves"`
	TradeSequence uint64             `json:"trade_sequence"`
	LastCrank     time.Time          `json:"last_crank"`
	CrankCount    uint64             `json:"crank_count"`

	AppliedInstructions []string `json:"applied_instructions,omitempty"`
}

// MarketMakingMode controls whether the engine may shift a pair's positions.
type MarketMakingMode string

const (
	ModeView     MarketMakingMode = "view"
	ModeBuyOnly  MarketMakingMode = "buy_only"
	ModeSellOnly MarketMakingMode = "sell_only"
	ModeBoth     MarketMakingMode = "both"
)

// Valid reports whether m is a known mode.
func (m MarketMakingMode) Valid() bool {
	switch m {
	case ModeView, ModeBuyOnly, ModeSellOnly, ModeBoth:
		return true
	}
	return false
}

// ShiftsMint reports whether the mint-side position may be moved.
func (m MarketMakingMode) ShiftsMint() bool {
	return m == ModeBoth || m == ModeSellOnly
}

// ShiftsRedeem reports whether the redemption-side position may be moved.
func (m MarketMakingMode) ShiftsRedeem() bool {
	return m == ModeBoth || m == ModeBuyOnly
}

// PairConfig is the liquidity configuration of one pair.
type PairConfig struct {
	Pair    solana.PublicKey `json:"pair"`
	XAmount uint64           `json:"x_amount"`
	YAmount uint64           `json:"y_amount"`
	Mode    MarketMakingMode `json:"mode"`
}

// Position tracks the two single-bin positions the protocol keeps on a pair:
// IRMA offered at the mint price and reserve offered at the redemption price.
type Position struct {
	Pair           solana.PublicKey `json:"pair"`
	MintBin        int32            `json:"mint_bin"`
	RedeemBin      int32            `json:"redeem_bin"`
	Placed         bool             `json:"placed"`
	RebalanceCount uint64           `json:"rebalance_count"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Core is the companion singleton holding pair configuration and positions.
type Core struct {
	Pairs     []PairConfig `json:"pairs,omitempty"`
	Positions []Position   `json:"positions,omitempty"`
}

// Snapshot is the full persisted engine state.
type Snapshot struct {
	Revision uint64 `json:"revision"`
	State    State  `json:"state"`
	Core     Core   `json:"core"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.State.Traders = append([]solana.PublicKey(nil), s.State.Traders...)
	out.State.Reserves = append([]Reserve(nil), s.State.Reserves...)
	out.State.AppliedInstructions = append([]string(nil), s.State.AppliedInstructions...)
	out.Core.Pairs = append([]PairConfig(nil), s.Core.Pairs...)
	out.Core.Positions = append([]Position(nil), s.Core.Positions...)
	return out
}

func (s *State) reserveIndex(symbol string) int {
	i := sort.Search(len(s.Reserves), func(i int) bool { return s.Reserves[i].Symbol >= symbol })
	if i < len(s.Reserves) && s.Reserves[i].Symbol == symbol {
		return i
	}
	return -1
}

func (s *State) reserve(symbol string) (*Reserve, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	i := s.reserveIndex(symbol)
	if i < 0 {
		return nil, ErrSymbolNotFound
	}
	return &s.Reserves[i], nil
}

func (s *State) insertReserve(r Reserve) {
	i := sort.Search(len(s.Reserves), func(i int) bool { return s.Reserves[i].Symbol >= r.Symbol })
	s.Reserves = append(s.Reserves, Reserve{})
	copy(s.Reserves[i+1:], s.Reserves[i:])
	s.Reserves[i] = r
}

func (s *State) reserveByPair(pair solana.PublicKey) (*Reserve, bool) {
	for i := range s.Reserves {
		if s.Reserves[i].Pair.Equals(pair) {
			return &s.Reserves[i], true
		}
	}
	return nil, false
}

// claimInstruction records id as applied. An empty id is never tracked.
func (s *State) claimInstruction(id string) error {
	if id == "" {
		return nil
	}
	for _, seen := range s.AppliedInstructions {
		if seen == id {
			return fmt.Errorf("%w: %s", ErrDuplicateInstruction, id)
		}
	}
	s.AppliedInstructions = append(s.AppliedInstructions, id)
	if n := len(s.AppliedInstructions) - MaxAppliedInstructions; n > 0 {
		s.AppliedInstructions = append([]string(nil), s.AppliedInstructions[n:]...)
	}
	return nil
}

func (s *State) isTrader(key solana.PublicKey) bool {
	for _, t := range s.Traders {
		if t.Equals(key) {
			return true
		}
	}
	return false
}

func (c *Core) pairConfig(pair solana.PublicKey) PairConfig {
	for _, p := range c.Pairs {
		if p.Pair.Equals(pair) {
			return p
		}
	}
	return PairConfig{Pair: pair, Mode: ModeView}
}

func (c *Core) position(pair solana.PublicKey) *Position {
	for i := range c.Positions {
		if c.Positions[i].Pair.Equals(pair) {
			return &c.Positions[i]
		}
	}
	c.Positions = append(c.Positions, Position{Pair: pair})
	return &c.Positions[len(c.Positions)-1]
}
