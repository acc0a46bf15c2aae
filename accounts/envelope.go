package accounts

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	stdmath "math"
	"math/big"
	"sort"
	"time"

	"cosmossdk.io/math"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"

	"github.com/rexbrahh/irma-engine/protocol"
)

// Schema versions of the persisted protocol state.
const (
	// VersionStateMap is the original StateMap layout: reserves only, counters
	// in whole units.
	VersionStateMap uint16 = 1
	// VersionSnapshotV2 is the protocol state layout before applied
	// instruction ids were tracked.
	VersionSnapshotV2 uint16 = 2
	// VersionSnapshot is the current layout, see protocol.SchemaVersion.
	VersionSnapshot = protocol.SchemaVersion
)

const headerSize = 8 + 2

var (
	ErrSchemaMismatch = errors.New("account schema version not supported")
	ErrDiscriminator  = errors.New("account discriminator mismatch")
)

// Discriminators of the enveloped accounts.
var (
	StateMapDiscriminator      = accountDiscriminator("StateMap")
	ProtocolStateDiscriminator = accountDiscriminator("ProtocolState")
)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// Header is the fixed prefix of every enveloped account.
type Header struct {
	Discriminator [8]byte
	Version       uint16
}

// ReadHeader parses the envelope prefix.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	var h Header
	copy(h.Discriminator[:], data[:8])
	h.Version = binary.LittleEndian.Uint16(data[8:10])
	return h, nil
}

func seal(disc [8]byte, version uint16, body any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(disc[:])
	var v [2]byte
	binary.LittleEndian.PutUint16(v[:], version)
	buf.Write(v[:])
	if err := bin.NewBorshEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode account body: %w", err)
	}
	return buf.Bytes(), nil
}

func open(data []byte, disc [8]byte, version uint16, body any) error {
	h, err := ReadHeader(data)
	if err != nil {
		return err
	}
	if h.Discriminator != disc {
		return fmt.Errorf("%w: %x", ErrDiscriminator, h.Discriminator)
	}
	if h.Version != version {
		return fmt.Errorf("%w: got v%d, want v%d", ErrSchemaMismatch, h.Version, version)
	}
	if err := bin.NewBorshDecoder(data[headerSize:]).Decode(body); err != nil {
		return fmt.Errorf("decode account body: %w", err)
	}
	return nil
}

// StableStateV1 is one reserve in the original StateMap. Counters are whole
// token units.
type StableStateV1 struct {
	Symbol            string
	MintAddress       solana.PublicKey
	BackingDecimals   uint64
	MintPrice         float64
	BackingReserves   uint128.Uint128
	IrmaInCirculation uint128.Uint128
	PoolID            solana.PublicKey
	Active            bool
	Extra             [15]uint8
}

// StateMapV1 is the original registry account.
type StateMapV1 struct {
	Reserves []StableStateV1
	Bump     uint8
	Padding  [7]uint8
}

// EncodeStateMapV1 seals a v1 registry; old deployments wrote this layout.
func EncodeStateMapV1(m StateMapV1) ([]byte, error) {
	return seal(StateMapDiscriminator, VersionStateMap, &m)
}

type reserveV2 struct {
	Symbol      string
	Mint        solana.PublicKey
	Decimals    uint8
	Venue       string
	Pair        solana.PublicKey
	MintPrice   float64
	Backing     uint128.Uint128
	Circulation uint128.Uint128
	Active      bool
	Priced      bool
	UpdatedAt   int64
}

type pairConfigV2 struct {
	Pair    solana.PublicKey
	XAmount uint64
	YAmount uint64
	Mode    string
}

type positionV2 struct {
	Pair           solana.PublicKey
	MintBin        int32
	RedeemBin      int32
	Placed         bool
	RebalanceCount uint64
	UpdatedAt      int64
}

type snapshotV2 struct {
	Revision      uint64
	Initialized   bool
	Admin         solana.PublicKey
	Traders       []solana.PublicKey
	Reserves      []reserveV2
	TradeSequence uint64
	LastCrank     int64
	CrankCount    uint64
	Pairs         []pairConfigV2
	Positions     []positionV2
}

type snapshotV3 struct {
	Revision            uint64
	Initialized         bool
	Admin               solana.PublicKey
	Traders             []solana.PublicKey
	Reserves            []reserveV2
	TradeSequence       uint64
	LastCrank           int64
	CrankCount          uint64
	Pairs               []pairConfigV2
	Positions           []positionV2
	AppliedInstructions []string
}

// EncodeSnapshot seals the engine state in the current layout.
func EncodeSnapshot(snap protocol.Snapshot) ([]byte, error) {
	wire := snapshotV3{
		Revision:            snap.Revision,
		Initialized:         snap.State.Initialized,
		Admin:               snap.State.Admin,
		Traders:             snap.State.Traders,
		TradeSequence:       snap.State.TradeSequence,
		LastCrank:           unixNano(snap.State.LastCrank),
		CrankCount:          snap.State.CrankCount,
		AppliedInstructions: snap.State.AppliedInstructions,
	}
	for _, r := range snap.State.Reserves {
		backing, err := toUint128(r.Backing)
		if err != nil {
			return nil, fmt.Errorf("reserve %s backing: %w", r.Symbol, err)
		}
		circulation, err := toUint128(r.Circulation)
		if err != nil {
			return nil, fmt.Errorf("reserve %s circulation: %w", r.Symbol, err)
		}
		wire.Reserves = append(wire.Reserves, reserveV2{
			Symbol:      r.Symbol,
			Mint:        r.Mint,
			Decimals:    r.Decimals,
			Venue:       string(r.Venue),
			Pair:        r.Pair,
			MintPrice:   r.MintPrice,
			Backing:     backing,
			Circulation: circulation,
			Active:      r.Active,
			Priced:      r.Priced,
			UpdatedAt:   unixNano(r.UpdatedAt),
		})
	}
	for _, p := range snap.Core.Pairs {
		wire.Pairs = append(wire.Pairs, pairConfigV2{Pair: p.Pair, XAmount: p.XAmount, YAmount: p.YAmount, Mode: string(p.Mode)})
	}
	for _, p := range snap.Core.Positions {
		wire.Positions = append(wire.Positions, positionV2{
			Pair:           p.Pair,
			MintBin:        p.MintBin,
			RedeemBin:      p.RedeemBin,
			Placed:         p.Placed,
			RebalanceCount: p.RebalanceCount,
			UpdatedAt:      unixNano(p.UpdatedAt),
		})
	}
	return seal(ProtocolStateDiscriminator, VersionSnapshot, &wire)
}

// DecodeSnapshot opens a current-layout account. Older layouts return
// ErrSchemaMismatch and must go through Migrate first.
func DecodeSnapshot(data []byte) (protocol.Snapshot, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	if h.Discriminator == StateMapDiscriminator {
		return protocol.Snapshot{}, fmt.Errorf("%w: legacy state map v%d, run migrate", ErrSchemaMismatch, h.Version)
	}
	var wire snapshotV3
	if err := open(data, ProtocolStateDiscriminator, VersionSnapshot, &wire); err != nil {
		return protocol.Snapshot{}, err
	}
	return snapshotFromWire(wire)
}

func snapshotFromWire(wire snapshotV3) (protocol.Snapshot, error) {
	snap := protocol.Snapshot{
		Revision: wire.Revision,
		State: protocol.State{
			Initialized:         wire.Initialized,
			Admin:               wire.Admin,
			Traders:             wire.Traders,
			TradeSequence:       wire.TradeSequence,
			LastCrank:           fromUnixNano(wire.LastCrank),
			CrankCount:          wire.CrankCount,
			AppliedInstructions: wire.AppliedInstructions,
		},
	}
	for _, r := range wire.Reserves {
		if err := checkStoredPrice(r.Symbol, r.MintPrice); err != nil {
			return protocol.Snapshot{}, err
		}
		snap.State.Reserves = append(snap.State.Reserves, protocol.Reserve{
			Symbol:      r.Symbol,
			Mint:        r.Mint,
			Decimals:    r.Decimals,
			Venue:       protocol.VenueKind(r.Venue),
			Pair:        r.Pair,
			MintPrice:   r.MintPrice,
			Backing:     math.NewIntFromBigInt(r.Backing.Big()),
			Circulation: math.NewIntFromBigInt(r.Circulation.Big()),
			Active:      r.Active,
			Priced:      r.Priced,
			UpdatedAt:   fromUnixNano(r.UpdatedAt),
		})
	}
	for _, p := range wire.Pairs {
		snap.Core.Pairs = append(snap.Core.Pairs, protocol.PairConfig{
			Pair: p.Pair, XAmount: p.XAmount, YAmount: p.YAmount, Mode: protocol.MarketMakingMode(p.Mode),
		})
	}
	for _, p := range wire.Positions {
		snap.Core.Positions = append(snap.Core.Positions, protocol.Position{
			Pair:           p.Pair,
			MintBin:        p.MintBin,
			RedeemBin:      p.RedeemBin,
			Placed:         p.Placed,
			RebalanceCount: p.RebalanceCount,
			UpdatedAt:      fromUnixNano(p.UpdatedAt),
		})
	}
	return snap, nil
}

// Migrate upgrades a v1 StateMap or a v2 protocol state to the current
// layout. The v1 account has no authority, so admin becomes the owner of the
// migrated state. Current layout data is returned unchanged.
func Migrate(data []byte, admin solana.PublicKey, now time.Time) ([]byte, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Discriminator == ProtocolStateDiscriminator {
		switch h.Version {
		case VersionSnapshot:
			return data, nil
		case VersionSnapshotV2:
			return migrateSnapshotV2(data)
		}
	}
	if admin.IsZero() {
		return nil, fmt.Errorf("migrate: %w", protocol.ErrUnauthorized)
	}
	var v1 StateMapV1
	if err := open(data, StateMapDiscriminator, VersionStateMap, &v1); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	snap := protocol.Snapshot{
		Revision: 1,
		State:    protocol.State{Initialized: true, Admin: admin},
	}
	for _, old := range v1.Reserves {
		if old.BackingDecimals == 0 || old.BackingDecimals > 18 {
			return nil, fmt.Errorf("migrate %s: %w", old.Symbol, protocol.ErrInvalidDecimals)
		}
		r, err := protocol.NewReserve(old.Symbol, old.MintAddress, uint8(old.BackingDecimals))
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", old.Symbol, err)
		}
		if err := checkStoredPrice(old.Symbol, old.MintPrice); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		r.MintPrice = old.MintPrice
		r.Priced = old.MintPrice != protocol.DefaultMintPrice
		r.Active = old.Active
		if !old.BackingReserves.IsZero() {
			r.Backing = wholeToBase(old.BackingReserves, r.Decimals)
		}
		if !old.IrmaInCirculation.IsZero() {
			r.Circulation = wholeToBase(old.IrmaInCirculation, protocol.IrmaDecimals)
		}
		if !old.PoolID.IsZero() && !old.PoolID.Equals(solana.SystemProgramID) {
			r.Pair = old.PoolID
			r.Venue = protocol.VenueDLMM
		}
		r.UpdatedAt = now.UTC()
		snap.State.Reserves = append(snap.State.Reserves, r)
	}
	sortReserves(snap.State.Reserves)
	return EncodeSnapshot(snap)
}

// migrateSnapshotV2 carries a v2 account forward with no applied
// instructions recorded.
func migrateSnapshotV2(data []byte) ([]byte, error) {
	var old snapshotV2
	if err := open(data, ProtocolStateDiscriminator, VersionSnapshotV2, &old); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	snap, err := snapshotFromWire(snapshotV3{
		Revision:      old.Revision,
		Initialized:   old.Initialized,
		Admin:         old.Admin,
		Traders:       old.Traders,
		Reserves:      old.Reserves,
		TradeSequence: old.TradeSequence,
		LastCrank:     old.LastCrank,
		CrankCount:    old.CrankCount,
		Pairs:         old.Pairs,
		Positions:     old.Positions,
	})
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return EncodeSnapshot(snap)
}

// checkStoredPrice refuses accounts whose mint price could never have been
// set through the engine.
func checkStoredPrice(symbol string, price float64) error {
	if stdmath.IsNaN(price) || stdmath.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("reserve %s mint price %v: %w", symbol, price, protocol.ErrZeroPrice)
	}
	return nil
}

func wholeToBase(v uint128.Uint128, decimals uint8) math.Int {
	return math.NewIntFromBigInt(v.Big()).Mul(math.NewIntWithDecimal(1, int(decimals)))
}

func toUint128(v math.Int) (uint128.Uint128, error) {
	if v.IsNil() {
		return uint128.Zero, nil
	}
	if v.IsNegative() {
		return uint128.Zero, fmt.Errorf("negative value %s", v)
	}
	b := v.BigInt()
	if b.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("value %s overflows u128", v)
	}
	return uint128.FromBig(new(big.Int).Set(b)), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func sortReserves(reserves []protocol.Reserve) {
	sort.Slice(reserves, func(i, j int) bool { return reserves[i].Symbol < reserves[j].Symbol })
}
