package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/inflation"
)

const defaultLedgerCapacity = 10_000

// Committer persists a snapshot before it becomes visible. A commit error
// aborts the instruction.
type Committer interface {
	Commit(ctx context.Context, snap Snapshot) error
}

// Option customises Engine behaviour.
type Option func(*Engine)

// Engine owns the protocol state. Every mutation is applied to a copy, committed,
// and then swapped in under a single lock, so instructions are totally ordered
// and never partially applied.
type Engine struct {
	mu sync.RWMutex
	// pubMu is taken before mu is released so sinks see revisions in order.
	pubMu    sync.Mutex
	snap     Snapshot
	trades   []TradeRecord
	capacity int

	model     inflation.Model
	peg       float64
	sink      EventSink
	committer Committer
	observer  PairObserver
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs an uninitialised Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		capacity: defaultLedgerCapacity,
		model:    inflation.Threshold{},
		peg:      1.0,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.Named("engine")
	return e
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithInflationModel overrides the default threshold model.
func WithInflationModel(model inflation.Model) Option {
	return func(e *Engine) {
		if model != nil {
			e.model = model
		}
	}
}

// WithPeg sets the USD price of reserve stablecoins used by inflation models.
func WithPeg(peg float64) Option {
	return func(e *Engine) {
		if peg > 0 {
			e.peg = peg
		}
	}
}

// WithEventSink registers the destination of committed events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithCommitter registers the snapshot persistence hook.
func WithCommitter(c Committer) Option {
	return func(e *Engine) { e.committer = c }
}

// WithPairObserver registers the venue reader used by CheckShiftPriceRanges.
func WithPairObserver(o PairObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLedgerCapacity bounds the in-memory trade history.
func WithLedgerCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// Restore replaces the engine state with a persisted snapshot.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = snap.clone()
	e.logger.Info("state restored",
		zap.Uint64("revision", snap.Revision),
		zap.Int("reserves", len(snap.State.Reserves)))
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.clone()
}

// Revision is the number of committed mutations.
func (e *Engine) Revision() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Revision
}

// Admin returns the current admin authority.
func (e *Engine) Admin() solana.PublicKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.State.Admin
}

// Initialize creates the protocol state with admin as authority.
func (e *Engine) Initialize(ctx context.Context, admin solana.PublicKey) error {
	if admin.IsZero() {
		return fmt.Errorf("%w: zero admin key", ErrUnauthorized)
	}
	return e.mutate(ctx, func(tx *txn) error {
		if tx.snap.State.Initialized {
			return ErrAlreadyInitialized
		}
		tx.snap.State = State{Initialized: true, Admin: admin}
		tx.snap.Core = Core{}
		tx.emit(Event{Kind: EventAdmin, Action: "initialize"})
		return nil
	})
}

// RotateAdmin hands admin authority to next.
func (e *Engine) RotateAdmin(ctx context.Context, signer, next solana.PublicKey) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		if next.IsZero() {
			return fmt.Errorf("%w: zero admin key", ErrUnauthorized)
		}
		tx.snap.State.Admin = next
		tx.emit(Event{Kind: EventAdmin, Action: "rotate_admin"})
		return nil
	})
}

// AddTrader allows key to submit trade events.
func (e *Engine) AddTrader(ctx context.Context, signer, key solana.PublicKey) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		if key.IsZero() || tx.snap.State.isTrader(key) {
			return nil
		}
		tx.snap.State.Traders = append(tx.snap.State.Traders, key)
		tx.emit(Event{Kind: EventAdmin, Action: "add_trader"})
		return nil
	})
}

// RemoveTrader revokes a trader key.
func (e *Engine) RemoveTrader(ctx context.Context, signer, key solana.PublicKey) error {
	return e.mutate(ctx, func(tx *txn) error {
		if err := tx.requireAdmin(signer); err != nil {
			return err
		}
		traders := tx.snap.State.Traders[:0]
		for _, t := range tx.snap.State.Traders {
			if !t.Equals(key) {
				traders = append(traders, t)
			}
		}
		tx.snap.State.Traders = traders
		tx.emit(Event{Kind: EventAdmin, Action: "remove_trader"})
		return nil
	})
}

// txn is the working copy a single instruction mutates.
type txn struct {
	snap   *Snapshot
	now    time.Time
	events []Event
	trades []TradeRecord
}

func (tx *txn) requireInitialized() error {
	if !tx.snap.State.Initialized {
		return ErrNotInitialized
	}
	return nil
}

func (tx *txn) requireAdmin(signer solana.PublicKey) error {
	if err := tx.requireInitialized(); err != nil {
		return err
	}
	if !signer.Equals(tx.snap.State.Admin) {
		return ErrUnauthorized
	}
	return nil
}

func (tx *txn) requireTrader(signer solana.PublicKey) error {
	if err := tx.requireInitialized(); err != nil {
		return err
	}
	if signer.Equals(tx.snap.State.Admin) || tx.snap.State.isTrader(signer) {
		return nil
	}
	return ErrUnauthorized
}

func (tx *txn) emit(ev Event) {
	ev.At = tx.now
	tx.events = append(tx.events, ev)
}

func (tx *txn) emitPrice(action string, r *Reserve) {
	tx.emit(Event{
		Kind:            EventPrice,
		Action:          action,
		Symbol:          r.Symbol,
		MintPrice:       r.MintPrice,
		RedemptionPrice: r.RedemptionPrice(),
	})
}

func (e *Engine) mutate(ctx context.Context, fn func(tx *txn) error) error {
	e.mu.Lock()
	next := e.snap.clone()
	tx := &txn{snap: &next, now: e.now().UTC()}
	if err := fn(tx); err != nil {
		e.mu.Unlock()
		return err
	}
	next.Revision++
	for i := range tx.events {
		tx.events[i].Revision = next.Revision
	}
	if e.committer != nil {
		if err := e.committer.Commit(ctx, next); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("commit revision %d: %w", next.Revision, err)
		}
	}
	e.snap = next
	e.recordTrades(tx.trades)
	events := tx.events
	if e.sink == nil || len(events) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.pubMu.Lock()
	e.mu.Unlock()
	defer e.pubMu.Unlock()

	e.publish(ctx, events)
	return nil
}

func (e *Engine) recordTrades(records []TradeRecord) {
	if len(records) == 0 {
		return
	}
	e.trades = append(e.trades, records...)
	if over := len(e.trades) - e.capacity; over > 0 {
		e.trades = append([]TradeRecord(nil), e.trades[over:]...)
	}
}

func (e *Engine) publish(ctx context.Context, events []Event) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	if err := e.sink.Publish(ctx, events); err != nil {
		e.logger.Warn("event publish failed",
			zap.Uint64("revision", events[0].Revision),
			zap.Int("events", len(events)),
			zap.Error(err))
	}
}
