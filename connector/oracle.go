package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rexbrahh/irma-engine/decoder/common"
	"github.com/rexbrahh/irma-engine/decoder/meteora"
	"github.com/rexbrahh/irma-engine/decoder/orca_whirlpool"
	"github.com/rexbrahh/irma-engine/protocol"
)

var (
	ErrWrongOwner       = errors.New("account owned by unexpected program")
	ErrPairDisabled     = errors.New("liquidity pair is disabled")
	ErrUnsupportedVenue = errors.New("no price oracle for venue")
)

// PriceOracle observes one kind of liquidity venue.
type PriceOracle interface {
	Venue() protocol.VenueKind
	Observe(ctx context.Context, pair solana.PublicKey) (protocol.PairObservation, error)
}

type oracleBase struct {
	fetcher AccountFetcher
	mints   common.MintMetadataProvider
	irma    solana.PublicKey
	now     func() time.Time
}

func (b oracleBase) load(ctx context.Context, pair, program solana.PublicKey) (Account, error) {
	acct, err := b.fetcher.FetchAccount(ctx, pair)
	if err != nil {
		return Account{}, err
	}
	if !acct.Owner.IsZero() && !acct.Owner.Equals(program) {
		return Account{}, fmt.Errorf("%w: %s owned by %s", ErrWrongOwner, pair, acct.Owner)
	}
	return acct, nil
}

// orient checks the pool trades IRMA when the IRMA mint is known.
func (b oracleBase) orient(x, y solana.PublicKey) (common.Orientation, error) {
	reserve := y
	if !b.irma.IsZero() && y.Equals(b.irma) {
		reserve = x
	}
	return common.Orient(x, y, b.irma, reserve)
}

func (b oracleBase) decimals(ctx context.Context, x, y solana.PublicKey) (uint8, uint8, error) {
	mx, err := b.mints.MintMetadata(ctx, x)
	if err != nil {
		return 0, 0, fmt.Errorf("mint %s: %w", x, err)
	}
	my, err := b.mints.MintMetadata(ctx, y)
	if err != nil {
		return 0, 0, fmt.Errorf("mint %s: %w", y, err)
	}
	return mx.Decimals, my.Decimals, nil
}

// DlmmPair reads Meteora DLMM pairs. The reported price is token X in token Y
// at the active bin.
type DlmmPair struct {
	oracleBase
}

// NewDlmmPair builds a DLMM oracle. irma may be zero to skip the mint check.
func NewDlmmPair(fetcher AccountFetcher, mints common.MintMetadataProvider, irma solana.PublicKey) *DlmmPair {
	return &DlmmPair{oracleBase{fetcher: fetcher, mints: mints, irma: irma, now: time.Now}}
}

func (*DlmmPair) Venue() protocol.VenueKind { return protocol.VenueDLMM }

func (o *DlmmPair) Observe(ctx context.Context, pair solana.PublicKey) (protocol.PairObservation, error) {
	acct, err := o.load(ctx, pair, meteora.ProgramID)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	lb, err := meteora.DecodeLbPair(acct.Data)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	if !lb.Enabled() {
		return protocol.PairObservation{}, fmt.Errorf("%w: %s", ErrPairDisabled, pair)
	}
	if _, err := o.orient(lb.TokenXMint, lb.TokenYMint); err != nil {
		return protocol.PairObservation{}, err
	}
	decX, decY, err := o.decimals(ctx, lb.TokenXMint, lb.TokenYMint)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	return protocol.PairObservation{
		Pair:       pair,
		Venue:      protocol.VenueDLMM,
		XMint:      lb.TokenXMint,
		YMint:      lb.TokenYMint,
		XDecimals:  decX,
		YDecimals:  decY,
		BinStep:    lb.BinStep,
		ActiveBin:  lb.ActiveID,
		Price:      lb.ActivePrice(decX, decY),
		Slot:       acct.Slot,
		ObservedAt: o.now().UTC(),
	}, nil
}

// OrcaWhirlpool reads Orca Whirlpools. The reported price is reserve tokens
// per IRMA, inverted when IRMA is token B. When Pools is set, observed pools
// that are tracked there get their price and liquidity refreshed.
type OrcaWhirlpool struct {
	oracleBase
	Pools *PoolRegistry
}

// NewOrcaWhirlpool builds a Whirlpool oracle.
func NewOrcaWhirlpool(fetcher AccountFetcher, mints common.MintMetadataProvider, irma solana.PublicKey) *OrcaWhirlpool {
	return &OrcaWhirlpool{oracleBase: oracleBase{fetcher: fetcher, mints: mints, irma: irma, now: time.Now}}
}

func (*OrcaWhirlpool) Venue() protocol.VenueKind { return protocol.VenueWhirlpool }

func (o *OrcaWhirlpool) Observe(ctx context.Context, pair solana.PublicKey) (protocol.PairObservation, error) {
	acct, err := o.load(ctx, pair, orca_whirlpool.ProgramID)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	pool, err := orca_whirlpool.DecodeWhirlpool(acct.Data)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	orientation, err := o.orient(pool.TokenMintA, pool.TokenMintB)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	decA, decB, err := o.decimals(ctx, pool.TokenMintA, pool.TokenMintB)
	if err != nil {
		return protocol.PairObservation{}, err
	}
	obs := protocol.PairObservation{
		Pair:       pair,
		Venue:      protocol.VenueWhirlpool,
		XMint:      pool.TokenMintA,
		YMint:      pool.TokenMintB,
		XDecimals:  decA,
		YDecimals:  decB,
		SqrtPrice:  pool.SqrtPrice.String(),
		Tick:       pool.TickCurrentIndex,
		Price:      orientation.IrmaPrice(pool.Price(decA, decB)),
		Slot:       acct.Slot,
		ObservedAt: o.now().UTC(),
	}
	if o.Pools != nil {
		liquidity := pool.Liquidity.Lo
		if pool.Liquidity.Hi != 0 {
			liquidity = ^uint64(0)
		}
		if err := o.Pools.SyncFromWhirlpool(ctx, obs, liquidity); err != nil && !errors.Is(err, ErrPoolNotFound) {
			return protocol.PairObservation{}, err
		}
	}
	return obs, nil
}
