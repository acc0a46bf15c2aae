package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"

	"github.com/rexbrahh/irma-engine/protocol"
)

// ErrMalformed marks an instruction that can never be applied.
var ErrMalformed = errors.New("malformed instruction")

// Instruction is the JSON body of a trade instruction message. Amount is in
// base units: reserve tokens for a sale, IRMA for a buy.
type Instruction struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Signer string `json:"signer,omitempty"`

	Direction protocol.Direction `json:"-"`
	// Units is Amount as parsed by DecodeInstruction.
	Units math.Int `json:"-"`
}

// DecodeInstruction parses a message routed to subject.
func DecodeInstruction(root, subject string, data []byte) (Instruction, error) {
	prefix := root + ".instructions."
	if !strings.HasPrefix(subject, prefix) {
		return Instruction{}, fmt.Errorf("%w: subject %q outside %s*", ErrMalformed, subject, prefix)
	}
	var in Instruction
	if err := json.Unmarshal(data, &in); err != nil {
		return Instruction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch dir := protocol.Direction(strings.TrimPrefix(subject, prefix)); dir {
	case protocol.DirectionSale, protocol.DirectionBuy:
		in.Direction = dir
	default:
		return Instruction{}, fmt.Errorf("%w: unknown direction %q", ErrMalformed, dir)
	}
	if in.Symbol == "" {
		return Instruction{}, fmt.Errorf("%w: symbol is required", ErrMalformed)
	}
	units, ok := math.NewIntFromString(in.Amount)
	if !ok || !units.IsPositive() {
		return Instruction{}, fmt.Errorf("%w: amount %q", ErrMalformed, in.Amount)
	}
	in.Units = units
	return in, nil
}

func (in Instruction) signer(fallback solana.PublicKey) (solana.PublicKey, error) {
	if in.Signer == "" {
		if fallback.IsZero() {
			return solana.PublicKey{}, fmt.Errorf("%w: signer is required", ErrMalformed)
		}
		return fallback, nil
	}
	key, err := solana.PublicKeyFromBase58(in.Signer)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: signer: %v", ErrMalformed, err)
	}
	return key, nil
}
