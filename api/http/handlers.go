package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/accounts"
	"github.com/rexbrahh/irma-engine/api/http/cache"
	apitypes "github.com/rexbrahh/irma-engine/api/http/types"
	"github.com/rexbrahh/irma-engine/connector"
	"github.com/rexbrahh/irma-engine/protocol"
)

func (s *Server) initializeHandler(r *http.Request) (int, any, error) {
	var req apitypes.InitializeRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	admin, err := parseKey("admin", req.Admin)
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.Initialize(r.Context(), admin); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, s.engine.Snapshot().State, nil
}

func (s *Server) rotateAdminHandler(r *http.Request) (int, any, error) {
	return s.keyInstruction(r, s.engine.RotateAdmin)
}

func (s *Server) addTraderHandler(r *http.Request) (int, any, error) {
	return s.keyInstruction(r, s.engine.AddTrader)
}

func (s *Server) removeTraderHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	key, err := parseKey("key", chi.URLParam(r, "key"))
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.RemoveTrader(r.Context(), sig, key); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, s.engine.Snapshot().State, nil
}

func (s *Server) keyInstruction(r *http.Request, apply func(ctx context.Context, signer, key solana.PublicKey) error) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.KeyRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	key, err := parseKey("key", req.Key)
	if err != nil {
		return 0, nil, err
	}
	if err := apply(r.Context(), sig, key); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, s.engine.Snapshot().State, nil
}

func (s *Server) addReserveHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.AddReserveRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	mint, err := parseOptionalKey("mint", req.Mint)
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.AddReserve(r.Context(), sig, req.Symbol, mint, req.Decimals); err != nil {
		return 0, nil, err
	}
	return s.reserveView(http.StatusCreated, req.Symbol)
}

func (s *Server) listReservesHandler(r *http.Request) (int, any, error) {
	reserves := s.engine.ListReserves()
	resp := apitypes.ReservesResponse{Reserves: make([]apitypes.ReserveView, 0, len(reserves))}
	for _, res := range reserves {
		resp.Reserves = append(resp.Reserves, apitypes.NewReserveView(res))
	}
	return http.StatusOK, resp, nil
}

func (s *Server) getReserveHandler(r *http.Request) (int, any, error) {
	return s.reserveView(http.StatusOK, chi.URLParam(r, "symbol"))
}

func (s *Server) reserveView(status int, symbol string) (int, any, error) {
	res, err := s.engine.Reserve(symbol)
	if err != nil {
		return 0, nil, err
	}
	return status, apitypes.NewReserveView(res), nil
}

func (s *Server) removeReserveHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	if err := s.engine.RemoveReserve(r.Context(), sig, chi.URLParam(r, "symbol")); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

func (s *Server) disableReserveHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	symbol := chi.URLParam(r, "symbol")
	if err := s.engine.DisableReserve(r.Context(), sig, symbol); err != nil {
		return 0, nil, err
	}
	return s.reserveView(http.StatusOK, symbol)
}

func (s *Server) lbpairHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.LbpairRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	pair, err := parseOptionalKey("pair", req.Pair)
	if err != nil {
		return 0, nil, err
	}
	venue := protocol.VenueKind(req.Venue)
	if venue == protocol.VenueNone {
		venue = protocol.VenueDLMM
	}
	symbol := chi.URLParam(r, "symbol")
	if err := s.engine.UpdateReserveLbpair(r.Context(), sig, symbol, pair, venue); err != nil {
		return 0, nil, err
	}
	return s.reserveView(http.StatusOK, symbol)
}

// pricesHandler serves the price pair, from the cache when the cached quote
// was taken at the engine's current revision. ?format=log renders the
// program return log line instead of JSON.
func (s *Server) pricesHandler(r *http.Request) (int, any, error) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if err := apitypes.ValidateFormat(format); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", apitypes.ErrBadRequest, err)
	}
	symbol := chi.URLParam(r, "symbol")
	ctx := r.Context()

	quote, cached, err := s.quote(r, symbol)
	if err != nil {
		return 0, nil, err
	}
	if !cached && s.cache != nil {
		if err := s.cache.SetQuote(ctx, quote); err != nil && !errors.Is(err, cache.ErrDisabled) {
			s.logger.Warn("cache set failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if format == "log" {
		payload := protocol.EncodePrices(quote.MintPrice, quote.RedemptionPrice)
		return http.StatusOK, protocol.FormatReturnLog(s.programID, payload) + "\n", nil
	}
	return http.StatusOK, apitypes.PricesResponse{
		Symbol:          quote.Symbol,
		MintPrice:       quote.MintPrice,
		RedemptionPrice: quote.RedemptionPrice,
		Revision:        quote.Revision,
		UpdatedAt:       quote.UpdatedAt,
		Cached:          cached,
	}, nil
}

func (s *Server) quote(r *http.Request, symbol string) (protocol.PriceQuote, bool, error) {
	if s.cache != nil {
		quote, err := s.cache.GetQuote(r.Context(), symbol, s.engine.Revision())
		switch {
		case err == nil:
			return quote, true, nil
		case errors.Is(err, cache.ErrDisabled), errors.Is(err, apitypes.ErrNotFound):
		default:
			s.logger.Warn("cache get failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	quote, err := s.engine.Quote(symbol)
	return quote, false, err
}

func (s *Server) mintPriceHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.MintPriceRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	symbol := chi.URLParam(r, "symbol")
	if err := s.engine.SetMintPrice(r.Context(), sig, symbol, req.Price); err != nil {
		return 0, nil, err
	}
	return s.reserveView(http.StatusOK, symbol)
}

func (s *Server) reserveInflationHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.InflationRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	symbol := chi.URLParam(r, "symbol")
	price, err := s.engine.UpdateMintPriceWithInflation(r.Context(), sig, symbol, req.Rate)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, apitypes.InflationResponse{Symbol: symbol, MintPrice: price}, nil
}

func (s *Server) globalInflationHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.GlobalInflationRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if err := s.engine.ApplyInflation(r.Context(), sig, req.BasisPoints); err != nil {
		return 0, nil, err
	}
	return s.listReservesHandler(r)
}

func (s *Server) tradeHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.TradeRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	// an unparsable amount stays nil; the engine rejects it after the signer check
	amount, _ := math.NewIntFromString(strings.TrimSpace(req.Amount))
	id := protocol.InstructionID(req.InstructionID)

	symbol := chi.URLParam(r, "symbol")
	var record protocol.TradeRecord
	switch protocol.Direction(chi.URLParam(r, "direction")) {
	case protocol.DirectionSale:
		record, err = s.engine.SaleTradeEvent(r.Context(), sig, symbol, amount, id)
	case protocol.DirectionBuy:
		record, err = s.engine.BuyTradeEvent(r.Context(), sig, symbol, amount, id)
	default:
		return 0, nil, fmt.Errorf("%w: trade direction %q", apitypes.ErrNotFound, chi.URLParam(r, "direction"))
	}
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, record, nil
}

func (s *Server) tradesHandler(r *http.Request) (int, any, error) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: since: %v", apitypes.ErrBadRequest, err)
		}
		since = parsed
	}
	trades := s.engine.Trades(since)
	if trades == nil {
		trades = []protocol.TradeRecord{}
	}
	return http.StatusOK, apitypes.TradesResponse{Since: since, Trades: trades}, nil
}

func (s *Server) listPairsHandler(r *http.Request) (int, any, error) {
	pairs, positions := s.engine.PairConfigs()
	if pairs == nil {
		pairs = []protocol.PairConfig{}
	}
	if positions == nil {
		positions = []protocol.Position{}
	}
	return http.StatusOK, apitypes.PairsResponse{Pairs: pairs, Positions: positions}, nil
}

func (s *Server) configurePairHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	pair, err := parseKey("pair", chi.URLParam(r, "pair"))
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.PairRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	cfg := protocol.PairConfig{
		Pair:    pair,
		XAmount: req.XAmount,
		YAmount: req.YAmount,
		Mode:    protocol.MarketMakingMode(req.Mode),
	}
	if err := s.engine.ConfigurePair(r.Context(), sig, cfg); err != nil {
		return 0, nil, err
	}
	return s.listPairsHandler(r)
}

func (s *Server) rebalanceHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.RebalanceRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			return 0, nil, err
		}
	}

	var records []protocol.RebalanceRecord
	if len(req.Observations) > 0 {
		records, err = s.engine.ShiftPriceRanges(r.Context(), sig, req.Observations)
	} else {
		records, err = s.engine.CheckShiftPriceRanges(r.Context(), sig)
	}
	if err != nil {
		return 0, nil, err
	}
	if records == nil {
		records = []protocol.RebalanceRecord{}
	}
	return http.StatusOK, apitypes.RebalanceResponse{Rebalances: records}, nil
}

func (s *Server) crankHandler(r *http.Request) (int, any, error) {
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	result, err := s.engine.Crank(r.Context(), sig)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, result, nil
}

func (s *Server) requirePools() error {
	if s.pools == nil {
		return fmt.Errorf("%w: orca pool registry not configured", apitypes.ErrNotFound)
	}
	return nil
}

func (s *Server) createPoolHandler(r *http.Request) (int, any, error) {
	if err := s.requirePools(); err != nil {
		return 0, nil, err
	}
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.OrcaPoolRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	cfg := connector.OrcaPoolConfig{FeeRate: req.FeeRate, TickSpacing: req.TickSpacing}
	for _, f := range []struct {
		name string
		raw  string
		dst  *solana.PublicKey
	}{
		{"pool_id", req.PoolID, &cfg.PoolID},
		{"token_a_mint", req.TokenAMint, &cfg.TokenAMint},
		{"token_b_mint", req.TokenBMint, &cfg.TokenBMint},
		{"token_a_vault", req.TokenAVault, &cfg.TokenAVault},
		{"token_b_vault", req.TokenBVault, &cfg.TokenBVault},
	} {
		key, err := parseOptionalKey(f.name, f.raw)
		if err != nil {
			return 0, nil, err
		}
		*f.dst = key
	}
	state, err := s.pools.CreateOrcaPool(r.Context(), sig, cfg)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, state, nil
}

func (s *Server) listPoolsHandler(r *http.Request) (int, any, error) {
	if err := s.requirePools(); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, s.pools.Pools(), nil
}

func (s *Server) getPoolHandler(r *http.Request) (int, any, error) {
	if err := s.requirePools(); err != nil {
		return 0, nil, err
	}
	pool, err := parseKey("id", chi.URLParam(r, "id"))
	if err != nil {
		return 0, nil, err
	}
	state, err := s.pools.GetPoolInfo(pool)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, state, nil
}

func (s *Server) updatePoolHandler(r *http.Request) (int, any, error) {
	if err := s.requirePools(); err != nil {
		return 0, nil, err
	}
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	pool, err := parseKey("id", chi.URLParam(r, "id"))
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.PoolStateRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Active != nil {
		if err := s.pools.SetPoolActive(r.Context(), sig, pool, *req.Active); err != nil {
			return 0, nil, err
		}
	}
	state, err := s.pools.UpdatePoolState(r.Context(), sig, pool, req.Price, req.Liquidity, req.Volume)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, state, nil
}

func (s *Server) simulateHandler(r *http.Request) (int, any, error) {
	if err := s.requirePools(); err != nil {
		return 0, nil, err
	}
	pool, err := parseKey("id", chi.URLParam(r, "id"))
	if err != nil {
		return 0, nil, err
	}
	var req apitypes.SimulateRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	inputMint, err := parseKey("input_mint", req.InputMint)
	if err != nil {
		return 0, nil, err
	}
	amountIn, ok := math.NewIntFromString(req.AmountIn)
	if !ok {
		return 0, nil, fmt.Errorf("%w: amount_in %q", protocol.ErrInvalidAmount, req.AmountIn)
	}
	minOut := math.ZeroInt()
	if req.MinAmountOut != "" {
		if minOut, ok = math.NewIntFromString(req.MinAmountOut); !ok {
			return 0, nil, fmt.Errorf("%w: min_amount_out %q", protocol.ErrInvalidAmount, req.MinAmountOut)
		}
	}
	quote, err := s.pools.SimulateSwap(pool, inputMint, amountIn, minOut)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, quote, nil
}

// migrateHandler upgrades a legacy stored account in place and loads it. The
// signer becomes the admin of the migrated state; on an initialized engine it
// must already be the admin.
func (s *Server) migrateHandler(r *http.Request) (int, any, error) {
	if s.store == nil {
		return 0, nil, fmt.Errorf("%w: account store not configured", apitypes.ErrNotFound)
	}
	sig, err := signer(r)
	if err != nil {
		return 0, nil, err
	}
	if s.engine.Snapshot().State.Initialized && !s.engine.Admin().Equals(sig) {
		return 0, nil, protocol.ErrUnauthorized
	}
	snap, err := accounts.MigrateStore(r.Context(), s.store, sig, s.now())
	if err != nil {
		return 0, nil, err
	}
	s.engine.Restore(snap)
	s.logger.Info("protocol state migrated",
		zap.Uint64("revision", snap.Revision),
		zap.Int("reserves", len(snap.State.Reserves)))
	return http.StatusOK, snap, nil
}

func (s *Server) stateHandler(r *http.Request) (int, any, error) {
	if s.store == nil {
		return http.StatusOK, s.engine.Snapshot(), nil
	}
	snap, err := s.store.Load(r.Context())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, snap, nil
}
