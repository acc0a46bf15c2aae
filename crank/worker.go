package crank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rexbrahh/irma-engine/observability"
	"github.com/rexbrahh/irma-engine/protocol"
)

// Cranker runs one rebalancing pass.
type Cranker interface {
	Crank(ctx context.Context, signer solana.PublicKey) (protocol.CrankResult, error)
}

// Option customises the worker.
type Option func(*Worker)

// WithMetrics records pass outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithLogger sets the worker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker cranks the engine on a fixed interval. Passes never overlap: a tick
// that fires while a pass is still running is skipped.
type Worker struct {
	cfg     Config
	engine  Cranker
	signer  solana.PublicKey
	metrics *observability.Metrics
	logger  *zap.Logger
	skipped uint64
}

// New creates a worker with the provided configuration and engine.
func New(cfg Config, engine Cranker, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("cranker must not be nil")
	}
	signer, err := solana.PublicKeyFromBase58(cfg.Signer)
	if err != nil {
		return nil, fmt.Errorf("crank signer: %w", err)
	}
	w := &Worker{cfg: cfg, engine: engine, signer: signer, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger = w.logger.Named("crank")
	return w, nil
}

// Run executes passes until the context is cancelled, MaxRuns is reached, or
// the signer turns out not to be authorized.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, ctx := errgroup.WithContext(ctx)
	ticks := make(chan uint64)

	// Producer: one tick immediately, then one per interval.
	g.Go(func() error {
		defer close(ticks)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for n := uint64(1); w.cfg.MaxRuns == 0 || n <= w.cfg.MaxRuns; {
			if n == 1 {
				select {
				case ticks <- n:
					n++
				case <-ctx.Done():
					return ctx.Err()
				}
			} else {
				select {
				case ticks <- n:
					n++
				default:
					w.skipped++
					w.logger.Debug("previous pass still running, tick skipped", zap.Uint64("tick", n))
				}
			}
			if w.cfg.MaxRuns != 0 && n > w.cfg.MaxRuns {
				break
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// Consumer: passes run one at a time.
	g.Go(func() error {
		for n := range ticks {
			if _, err := w.RunOnce(ctx); err != nil {
				if errors.Is(err, protocol.ErrUnauthorized) {
					return fmt.Errorf("crank pass %d: %w", n, err)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return err
	}
	return nil
}

// RunOnce executes a single bounded pass.
func (w *Worker) RunOnce(ctx context.Context) (protocol.CrankResult, error) {
	passCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := w.engine.Crank(passCtx, w.signer)
	w.metrics.CrankRun(err, len(result.Rebalances))
	if err != nil {
		w.logger.Warn("crank pass failed",
			zap.String("error_name", protocol.ErrorName(err)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return result, err
	}
	w.logger.Info("crank pass",
		zap.Uint64("count", result.CrankCount),
		zap.Int("observed", result.Observed),
		zap.Int("failed", result.Failed),
		zap.Int("rebalances", len(result.Rebalances)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Config exposes a copy of the worker config.
func (w *Worker) Config() Config {
	return w.cfg
}
