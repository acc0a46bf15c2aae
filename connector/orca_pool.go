package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/accounts"
	"github.com/rexbrahh/irma-engine/protocol"
)

// PriceScale is the fixed-point scale of Orca pool prices.
const PriceScale = 1_000_000

const maxFeeRateBps = 10_000

var (
	ErrInvalidPoolConfig     = errors.New("invalid orca pool configuration")
	ErrPoolNotActive         = errors.New("orca pool is not active")
	ErrInsufficientAmountOut = errors.New("swap output below minimum")
	ErrPoolNotFound          = errors.New("orca pool not found")
)

// OrcaPoolConfig describes an IRMA pool on Orca. Token A is always IRMA.
type OrcaPoolConfig struct {
	PoolID      solana.PublicKey `json:"pool_id"`
	TokenAMint  solana.PublicKey `json:"token_a_mint"`
	TokenBMint  solana.PublicKey `json:"token_b_mint"`
	TokenAVault solana.PublicKey `json:"token_a_vault"`
	TokenBVault solana.PublicKey `json:"token_b_vault"`
	FeeRate     uint16           `json:"fee_rate"`
	TickSpacing uint16           `json:"tick_spacing"`
	Active      bool             `json:"active"`
}

func (c OrcaPoolConfig) validate() error {
	switch {
	case c.PoolID.IsZero():
		return fmt.Errorf("%w: zero pool id", ErrInvalidPoolConfig)
	case c.TokenAMint.IsZero() || c.TokenBMint.IsZero():
		return fmt.Errorf("%w: zero token mint", ErrInvalidPoolConfig)
	case c.TokenAMint.Equals(c.TokenBMint):
		return fmt.Errorf("%w: identical token mints", ErrInvalidPoolConfig)
	case c.FeeRate > maxFeeRateBps:
		return fmt.Errorf("%w: fee rate %d bps", ErrInvalidPoolConfig, c.FeeRate)
	case c.TickSpacing == 0:
		return fmt.Errorf("%w: zero tick spacing", ErrInvalidPoolConfig)
	}
	return nil
}

// OrcaPoolState is the tracked state of a pool. CurrentPrice is token B per
// token A scaled by PriceScale.
type OrcaPoolState struct {
	Config       OrcaPoolConfig   `json:"config"`
	Address      solana.PublicKey `json:"address"`
	CurrentPrice uint64           `json:"current_price"`
	Liquidity    uint64           `json:"liquidity"`
	Volume24h    uint64           `json:"volume_24h"`
	LastUpdate   time.Time        `json:"last_update"`
}

// SwapQuote is the result of SimulateSwap.
type SwapQuote struct {
	Pool       solana.PublicKey `json:"pool"`
	InputMint  solana.PublicKey `json:"input_mint"`
	OutputMint solana.PublicKey `json:"output_mint"`
	AmountIn   math.Int         `json:"amount_in"`
	AmountOut  math.Int         `json:"amount_out"`
	Price      uint64           `json:"price"`
}

// Authority reports the current admin key.
type Authority interface {
	Admin() solana.PublicKey
}

// PoolRegistry tracks IRMA pools on Orca. Writes require the admin signer.
type PoolRegistry struct {
	programID solana.PublicKey
	authority Authority
	store     accounts.PoolStore
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	pools map[solana.PublicKey]*OrcaPoolState
}

// PoolOption configures a PoolRegistry.
type PoolOption func(*PoolRegistry)

// WithPoolStore persists every pool write as an orca_pool account.
func WithPoolStore(store accounts.PoolStore) PoolOption {
	return func(r *PoolRegistry) { r.store = store }
}

// NewPoolRegistry returns an empty registry. Pool state addresses are derived
// under programID.
func NewPoolRegistry(programID solana.PublicKey, authority Authority, logger *zap.Logger, opts ...PoolOption) *PoolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &PoolRegistry{
		programID: programID,
		authority: authority,
		logger:    logger.Named("orca"),
		now:       time.Now,
		pools:     make(map[solana.PublicKey]*OrcaPoolState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PoolRegistry) requireAdmin(signer solana.PublicKey) error {
	if r.authority == nil {
		return protocol.ErrNotInitialized
	}
	admin := r.authority.Admin()
	if admin.IsZero() {
		return protocol.ErrNotInitialized
	}
	if !signer.Equals(admin) {
		return protocol.ErrUnauthorized
	}
	return nil
}

// put persists next and then installs it. Callers hold r.mu; a failed save
// leaves the tracked pool untouched.
func (r *PoolRegistry) put(ctx context.Context, next OrcaPoolState) error {
	if r.store != nil {
		data, err := accounts.EncodeOrcaPool(next.account())
		if err != nil {
			return err
		}
		if err := r.store.SavePool(ctx, next.Address, data); err != nil {
			return fmt.Errorf("persist orca pool %s: %w", next.Config.PoolID, err)
		}
	}
	r.pools[next.Config.PoolID] = &next
	return nil
}

// Restore loads every persisted pool into the registry and reports how many
// were restored.
func (r *PoolRegistry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	raw, err := r.store.LoadPools(ctx)
	if err != nil {
		return 0, fmt.Errorf("load orca pools: %w", err)
	}
	restored := make(map[solana.PublicKey]*OrcaPoolState, len(raw))
	for _, data := range raw {
		acct, err := accounts.DecodeOrcaPool(data)
		if err != nil {
			return 0, err
		}
		state := poolFromAccount(acct)
		addr, _, err := accounts.OrcaPoolAddress(r.programID, state.Config.PoolID)
		if err != nil {
			return 0, fmt.Errorf("derive pool address: %w", err)
		}
		state.Address = addr
		restored[state.Config.PoolID] = &state
	}
	r.mu.Lock()
	r.pools = restored
	r.mu.Unlock()
	return len(restored), nil
}

func (s OrcaPoolState) account() accounts.OrcaPoolAccount {
	return accounts.OrcaPoolAccount{
		PoolID:       s.Config.PoolID,
		TokenAMint:   s.Config.TokenAMint,
		TokenBMint:   s.Config.TokenBMint,
		TokenAVault:  s.Config.TokenAVault,
		TokenBVault:  s.Config.TokenBVault,
		FeeRate:      s.Config.FeeRate,
		TickSpacing:  s.Config.TickSpacing,
		Active:       s.Config.Active,
		CurrentPrice: s.CurrentPrice,
		Liquidity:    s.Liquidity,
		Volume24h:    s.Volume24h,
		LastUpdate:   s.LastUpdate.UnixNano(),
	}
}

func poolFromAccount(a accounts.OrcaPoolAccount) OrcaPoolState {
	return OrcaPoolState{
		Config: OrcaPoolConfig{
			PoolID:      a.PoolID,
			TokenAMint:  a.TokenAMint,
			TokenBMint:  a.TokenBMint,
			TokenAVault: a.TokenAVault,
			TokenBVault: a.TokenBVault,
			FeeRate:     a.FeeRate,
			TickSpacing: a.TickSpacing,
			Active:      a.Active,
		},
		CurrentPrice: a.CurrentPrice,
		Liquidity:    a.Liquidity,
		Volume24h:    a.Volume24h,
		LastUpdate:   time.Unix(0, a.LastUpdate).UTC(),
	}
}

// CreateOrcaPool registers a pool, marks it active and sets the price to 1.0.
func (r *PoolRegistry) CreateOrcaPool(ctx context.Context, signer solana.PublicKey, cfg OrcaPoolConfig) (OrcaPoolState, error) {
	if err := r.requireAdmin(signer); err != nil {
		return OrcaPoolState{}, err
	}
	if err := cfg.validate(); err != nil {
		return OrcaPoolState{}, err
	}
	addr, _, err := accounts.OrcaPoolAddress(r.programID, cfg.PoolID)
	if err != nil {
		return OrcaPoolState{}, fmt.Errorf("derive pool address: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[cfg.PoolID]; ok {
		return OrcaPoolState{}, fmt.Errorf("%w: pool %s already registered", ErrInvalidPoolConfig, cfg.PoolID)
	}
	cfg.Active = true
	state := OrcaPoolState{
		Config:       cfg,
		Address:      addr,
		CurrentPrice: PriceScale,
		LastUpdate:   r.now().UTC(),
	}
	if err := r.put(ctx, state); err != nil {
		return OrcaPoolState{}, err
	}
	r.logger.Info("orca pool created",
		zap.String("pool", cfg.PoolID.String()),
		zap.String("token_b", cfg.TokenBMint.String()),
		zap.Uint16("fee_rate", cfg.FeeRate))
	return state, nil
}

// UpdatePoolState records a fresh price, liquidity and volume for a pool.
func (r *PoolRegistry) UpdatePoolState(ctx context.Context, signer, pool solana.PublicKey, price, liquidity, volume uint64) (OrcaPoolState, error) {
	if err := r.requireAdmin(signer); err != nil {
		return OrcaPoolState{}, err
	}
	if price == 0 {
		return OrcaPoolState{}, fmt.Errorf("%w: zero price", ErrInvalidPoolConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.pools[pool]
	if !ok {
		return OrcaPoolState{}, fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	next := *state
	next.CurrentPrice = price
	next.Liquidity = liquidity
	next.Volume24h = volume
	next.LastUpdate = r.now().UTC()
	if err := r.put(ctx, next); err != nil {
		return OrcaPoolState{}, err
	}
	return next, nil
}

// SetPoolActive toggles whether a pool accepts swaps.
func (r *PoolRegistry) SetPoolActive(ctx context.Context, signer, pool solana.PublicKey, active bool) error {
	if err := r.requireAdmin(signer); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	next := *state
	next.Config.Active = active
	next.LastUpdate = r.now().UTC()
	return r.put(ctx, next)
}

// GetPoolInfo returns a copy of the pool state.
func (r *PoolRegistry) GetPoolInfo(pool solana.PublicKey) (OrcaPoolState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.pools[pool]
	if !ok {
		return OrcaPoolState{}, fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	return *state, nil
}

// Pools lists every registered pool ordered by pool id.
func (r *PoolRegistry) Pools() []OrcaPoolState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OrcaPoolState, 0, len(r.pools))
	for _, state := range r.pools {
		out = append(out, *state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.PoolID.String() < out[j].Config.PoolID.String() })
	return out
}

// SimulateSwap quotes a swap at the tracked price. A to B pays
// amountIn*price/scale; B to A pays amountIn*scale/price, both rounded down.
func (r *PoolRegistry) SimulateSwap(pool, inputMint solana.PublicKey, amountIn, minAmountOut math.Int) (SwapQuote, error) {
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return SwapQuote{}, fmt.Errorf("%w: amount in must be positive", protocol.ErrInvalidAmount)
	}
	if minAmountOut.IsNil() {
		minAmountOut = math.ZeroInt()
	}
	state, err := r.GetPoolInfo(pool)
	if err != nil {
		return SwapQuote{}, err
	}
	if !state.Config.Active {
		return SwapQuote{}, ErrPoolNotActive
	}
	if state.CurrentPrice == 0 {
		return SwapQuote{}, fmt.Errorf("%w: zero price", ErrInvalidPoolConfig)
	}

	price := math.NewIntFromUint64(state.CurrentPrice)
	scale := math.NewInt(PriceScale)
	quote := SwapQuote{Pool: pool, InputMint: inputMint, AmountIn: amountIn, Price: state.CurrentPrice}
	switch {
	case inputMint.Equals(state.Config.TokenAMint):
		quote.OutputMint = state.Config.TokenBMint
		quote.AmountOut = amountIn.Mul(price).Quo(scale)
	case inputMint.Equals(state.Config.TokenBMint):
		quote.OutputMint = state.Config.TokenAMint
		quote.AmountOut = amountIn.Mul(scale).Quo(price)
	default:
		return SwapQuote{}, fmt.Errorf("%w: mint %s not traded by pool", ErrInvalidPoolConfig, inputMint)
	}
	if quote.AmountOut.LT(minAmountOut) {
		return SwapQuote{}, fmt.Errorf("%w: %s < %s", ErrInsufficientAmountOut, quote.AmountOut, minAmountOut)
	}
	return quote, nil
}

// SyncFromWhirlpool copies an observed on-chain price and liquidity into the
// tracked pool with the same address.
func (r *PoolRegistry) SyncFromWhirlpool(ctx context.Context, obs protocol.PairObservation, liquidity uint64) error {
	if obs.Price <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidPoolConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.pools[obs.Pair]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, obs.Pair)
	}
	next := *state
	next.CurrentPrice = uint64(obs.Price*PriceScale + 0.5)
	next.Liquidity = liquidity
	next.LastUpdate = obs.ObservedAt
	return r.put(ctx, next)
}
