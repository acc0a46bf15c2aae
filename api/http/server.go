// Package httpapi exposes engine instructions and reads over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/accounts"
	"github.com/rexbrahh/irma-engine/api/http/cache"
	apitypes "github.com/rexbrahh/irma-engine/api/http/types"
	"github.com/rexbrahh/irma-engine/connector"
	"github.com/rexbrahh/irma-engine/observability"
	"github.com/rexbrahh/irma-engine/protocol"
)

// SignerHeader carries the base58 key an instruction is signed by.
const SignerHeader = "X-Irma-Signer"

const maxBodyBytes = 1 << 20

// Option customises the server.
type Option func(*Server)

// WithCache serves price reads through a Redis cache.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithPools exposes the Orca pool registry.
func WithPools(pools *connector.PoolRegistry) Option {
	return func(s *Server) { s.pools = pools }
}

// WithStore enables the migrate and state endpoints.
func WithStore(store accounts.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics records request counts per route.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProgramID sets the program id used in return-log price reads.
func WithProgramID(id solana.PublicKey) Option {
	return func(s *Server) { s.programID = id }
}

// WithClock overrides the time source used for migrations.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server bundles dependencies for the HTTP API.
type Server struct {
	router    *chi.Mux
	engine    *protocol.Engine
	pools     *connector.PoolRegistry
	store     accounts.Store
	cache     *cache.Cache
	metrics   *observability.Metrics
	logger    *zap.Logger
	programID solana.PublicKey
	now       func() time.Time
	started   time.Time
}

// NewServer constructs a Server with registered routes.
func NewServer(engine *protocol.Engine, opts ...Option) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		engine:  engine,
		logger:  zap.NewNop(),
		now:     time.Now,
		started: time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.Named("api")

	s.router.Get("/healthz", s.healthzHandler)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/initialize", s.route("initialize", s.initializeHandler))
		r.Post("/admin/rotate", s.route("admin_rotate", s.rotateAdminHandler))
		r.Post("/admin/traders", s.route("trader_add", s.addTraderHandler))
		r.Delete("/admin/traders/{key}", s.route("trader_remove", s.removeTraderHandler))

		r.Post("/reserves", s.route("reserve_add", s.addReserveHandler))
		r.Get("/reserves", s.route("reserve_list", s.listReservesHandler))
		r.Route("/reserves/{symbol}", func(r chi.Router) {
			r.Get("/", s.route("reserve_get", s.getReserveHandler))
			r.Delete("/", s.route("reserve_remove", s.removeReserveHandler))
			r.Post("/disable", s.route("reserve_disable", s.disableReserveHandler))
			r.Put("/lbpair", s.route("reserve_lbpair", s.lbpairHandler))
			r.Get("/prices", s.route("prices", s.pricesHandler))
			r.Put("/mint-price", s.route("mint_price", s.mintPriceHandler))
			r.Post("/inflation", s.route("reserve_inflation", s.reserveInflationHandler))
			r.Post("/trades/{direction}", s.route("trade", s.tradeHandler))
		})
		r.Post("/inflation", s.route("inflation", s.globalInflationHandler))
		r.Get("/trades", s.route("trades", s.tradesHandler))

		r.Get("/pairs", s.route("pair_list", s.listPairsHandler))
		r.Put("/pairs/{pair}", s.route("pair_configure", s.configurePairHandler))
		r.Post("/rebalance", s.route("rebalance", s.rebalanceHandler))
		r.Post("/crank", s.route("crank", s.crankHandler))

		r.Post("/orca/pools", s.route("orca_create", s.createPoolHandler))
		r.Get("/orca/pools", s.route("orca_list", s.listPoolsHandler))
		r.Get("/orca/pools/{id}", s.route("orca_get", s.getPoolHandler))
		r.Put("/orca/pools/{id}", s.route("orca_update", s.updatePoolHandler))
		r.Post("/orca/pools/{id}/simulate", s.route("orca_simulate", s.simulateHandler))

		r.Post("/migrate", s.route("migrate", s.migrateHandler))
		r.Get("/state", s.route("state", s.stateHandler))
	})

	return s
}

// Handler exposes the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// apiHandler returns the response status and body, or an error mapped by
// statusFor.
type apiHandler func(r *http.Request) (int, any, error)

func (s *Server) route(name string, h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body, err := h(r)
		if err != nil {
			status = statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("request failed", zap.String("route", name), zap.Error(err))
			}
			body = apitypes.ErrorResponse{Error: err.Error(), Name: errorName(err)}
		}
		s.metrics.APIRequest(name, status)
		if raw, ok := body.(string); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, raw)
			return
		}
		writeJSON(w, status, body)
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	resp := apitypes.HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.started).Round(time.Millisecond).String(),
		Initialized: snap.State.Initialized,
		Revision:    snap.Revision,
	}
	writeJSON(w, http.StatusOK, resp)
}

func signer(r *http.Request) (solana.PublicKey, error) {
	raw := r.Header.Get(SignerHeader)
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: missing %s header", protocol.ErrUnauthorized, SignerHeader)
	}
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s header: %v", apitypes.ErrBadRequest, SignerHeader, err)
	}
	return key, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apitypes.ErrBadRequest, err)
	}
	return nil
}

func parseKey(field, raw string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s: %v", apitypes.ErrBadRequest, field, err)
	}
	return key, nil
}

// parseOptionalKey accepts an empty value as the zero key.
func parseOptionalKey(field, raw string) (solana.PublicKey, error) {
	if raw == "" {
		return solana.PublicKey{}, nil
	}
	return parseKey(field, raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs srv until ctx is cancelled and then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return ctx.Err()
}
