package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/observability"
	"github.com/rexbrahh/irma-engine/protocol"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

// SubjectMapper rewrites an incoming subject. Returning ok=false drops the
// message (still acknowledging it).
type SubjectMapper func(subject string) (mapped string, ok bool)

// TradeEngine is the part of the engine the intake drives.
type TradeEngine interface {
	SaleTradeEvent(ctx context.Context, signer solana.PublicKey, symbol string, amount math.Int, opts ...protocol.TradeOption) (protocol.TradeRecord, error)
	BuyTradeEvent(ctx context.Context, signer solana.PublicKey, symbol string, irmaAmount math.Int, opts ...protocol.TradeOption) (protocol.TradeRecord, error)
}

// Option customises Service behaviour.
type Option func(*Service)

const (
	defaultFetchBatch = 32
	defaultFetchWait  = 250 * time.Millisecond
)

// Service pulls trade instructions from JetStream and applies them to the
// engine in delivery order. Instructions the engine rejects are terminated;
// transient failures are redelivered. Each message carries an instruction id
// so a redelivery of an already applied trade is acknowledged, not reapplied.
type Service struct {
	cfg          Config
	engine       TradeEngine
	mapper       SubjectMapper
	signer       solana.PublicKey
	fetchBatch   int
	fetchWait    time.Duration
	customMapper bool
	metrics      *serviceMetrics
	logger       *zap.Logger
}

// New creates a Service with validated configuration.
func New(cfg Config, engine TradeEngine, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("trade engine is required")
	}

	svc := &Service{
		cfg:        cfg,
		engine:     engine,
		mapper:     defaultSubjectMapper,
		fetchBatch: defaultFetchBatch,
		fetchWait:  defaultFetchWait,
		logger:     zap.NewNop(),
	}
	if cfg.DefaultSigner != "" {
		key, err := solana.PublicKeyFromBase58(cfg.DefaultSigner)
		if err != nil {
			return nil, fmt.Errorf("default signer: %w", err)
		}
		svc.signer = key
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	if !svc.customMapper && len(cfg.SubjectMappings) > 0 {
		mapper, err := mapperFromMappings(cfg.SubjectMappings)
		if err != nil {
			return nil, err
		}
		svc.mapper = mapper
	}
	if svc.metrics == nil {
		svc.metrics = newServiceMetrics(nil, nil)
	}
	if svc.fetchBatch <= 0 {
		return nil, fmt.Errorf("fetch batch must be positive")
	}
	if svc.fetchWait <= 0 {
		svc.fetchWait = defaultFetchWait
	}
	svc.logger = svc.logger.Named("intake")
	return svc, nil
}

// WithSubjectMapper overrides the configured subject mappings.
func WithSubjectMapper(mapper SubjectMapper) Option {
	return func(s *Service) {
		if mapper != nil {
			s.mapper = mapper
			s.customMapper = true
		}
	}
}

// WithMetricsRegisterer allows callers to provide a Prometheus registerer.
// When omitted an isolated registry is used.
func WithMetricsRegisterer(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(reg, gatherer)
	}
}

// WithFetch tunes the pull batch size and wait.
func WithFetch(batch int, wait time.Duration) Option {
	return func(s *Service) {
		s.fetchBatch = batch
		s.fetchWait = wait
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Run consumes instructions until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := nats.Connect(s.cfg.NATS.URL, nats.Name("irma-engine-intake"))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer conn.Close()

	js, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	if err := natsx.EnsureStream(js, s.cfg.NATS); err != nil {
		return err
	}

	sub, err := js.PullSubscribe(s.cfg.Subject(), s.cfg.Durable,
		nats.BindStream(s.cfg.NATS.Stream),
		nats.ManualAck(),
		nats.MaxDeliver(s.cfg.MaxDeliver),
		nats.AckWait(s.cfg.AckWait))
	if err != nil {
		return fmt.Errorf("pull subscribe %q: %w", s.cfg.Subject(), err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("consuming instructions",
		zap.String("subject", s.cfg.Subject()),
		zap.String("durable", s.cfg.Durable))
	return s.consumeLoop(ctx, sub)
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) consumeLoop(ctx context.Context, sub *nats.Subscription) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := sub.Fetch(s.fetchBatch, nats.MaxWait(s.fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		for _, msg := range msgs {
			if err := s.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// Outcome is the disposition of one delivered instruction.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDropped   Outcome = "dropped"
	OutcomeRetry     Outcome = "retry"
)

// Apply runs one instruction against the engine without touching JetStream.
// id identifies the instruction across redeliveries; empty disables
// duplicate detection.
func (s *Service) Apply(ctx context.Context, id, subject string, data []byte) (Outcome, protocol.TradeRecord, error) {
	mapped, ok := s.mapper(subject)
	if !ok {
		return OutcomeDropped, protocol.TradeRecord{}, nil
	}
	in, err := DecodeInstruction(s.cfg.NATS.SubjectRoot, mapped, data)
	if err != nil {
		return OutcomeRejected, protocol.TradeRecord{}, err
	}
	signer, err := in.signer(s.signer)
	if err != nil {
		return OutcomeRejected, protocol.TradeRecord{}, err
	}

	var record protocol.TradeRecord
	opt := protocol.InstructionID(id)
	switch in.Direction {
	case protocol.DirectionSale:
		record, err = s.engine.SaleTradeEvent(ctx, signer, in.Symbol, in.Units, opt)
	case protocol.DirectionBuy:
		record, err = s.engine.BuyTradeEvent(ctx, signer, in.Symbol, in.Units, opt)
	}
	switch {
	case err == nil:
		return OutcomeApplied, record, nil
	case errors.Is(err, protocol.ErrDuplicateInstruction):
		return OutcomeDuplicate, protocol.TradeRecord{}, err
	case protocol.ErrorName(err) != "":
		return OutcomeRejected, protocol.TradeRecord{}, err
	default:
		return OutcomeRetry, protocol.TradeRecord{}, err
	}
}

func (s *Service) handle(ctx context.Context, msg *nats.Msg) error {
	md, err := msg.Metadata()
	if err == nil {
		lag := time.Since(md.Timestamp).Seconds()
		if lag < 0 {
			lag = 0
		}
		s.metrics.observeLag(lag)
	}

	outcome, record, err := s.Apply(ctx, instructionID(msg, md), msg.Subject, msg.Data)
	direction := directionLabel(msg.Subject)
	switch outcome {
	case OutcomeApplied:
		s.metrics.incProcessed(direction)
		s.logger.Debug("instruction applied",
			zap.String("subject", msg.Subject),
			zap.Uint64("sequence", record.Sequence))
		return ackErr(msg.Ack())
	case OutcomeDuplicate:
		s.metrics.incRejected(direction, protocol.ErrorName(err))
		s.logger.Info("instruction already applied",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return ackErr(msg.Ack())
	case OutcomeDropped:
		s.metrics.incRejected(direction, "dropped")
		return ackErr(msg.Ack())
	case OutcomeRejected:
		reason := protocol.ErrorName(err)
		if reason == "" {
			reason = "Malformed"
		}
		s.metrics.incRejected(direction, reason)
		s.logger.Warn("instruction rejected",
			zap.String("subject", msg.Subject),
			zap.String("reason", reason),
			zap.Error(err))
		return ackErr(msg.Term())
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("instruction failed, redelivering", zap.String("subject", msg.Subject), zap.Error(err))
		return ackErr(msg.Nak())
	}
}

// instructionID prefers the publisher's Nats-Msg-Id and falls back to the
// stream sequence, which is stable across redeliveries.
func instructionID(msg *nats.Msg, md *nats.MsgMetadata) string {
	if id := msg.Header.Get(nats.MsgIdHdr); id != "" {
		return id
	}
	if md != nil {
		return fmt.Sprintf("%s:%d", md.Stream, md.Sequence.Stream)
	}
	return ""
}

func ackErr(err error) error {
	if err != nil {
		return fmt.Errorf("ack instruction: %w", err)
	}
	return nil
}

func directionLabel(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

func defaultSubjectMapper(subject string) (string, bool) {
	return subject, true
}

type serviceMetrics struct {
	processed *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	lag       prometheus.Gauge
	gatherer  prometheus.Gatherer
}

func newServiceMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *serviceMetrics {
	reg, gatherer = observability.Registries(reg, gatherer)

	processed := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: observability.Namespace,
		Subsystem: "intake",
		Name:      observability.MetricIntakeProcessedTotal,
		Help:      "Trade instructions applied to the engine.",
	}, []string{"direction"})

	rejected := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: observability.Namespace,
		Subsystem: "intake",
		Name:      observability.MetricIntakeRejectedTotal,
		Help:      "Trade instructions terminated or dropped, by program error name.",
	}, []string{"direction", "reason"})

	lag := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: observability.Namespace,
		Subsystem: "intake",
		Name:      observability.MetricIntakeLagSeconds,
		Help:      "Age in seconds between the stream timestamp and intake processing time.",
	})

	return &serviceMetrics{
		processed: processed,
		rejected:  rejected,
		lag:       lag,
		gatherer:  gatherer,
	}
}

func (m *serviceMetrics) incProcessed(direction string) {
	m.processed.WithLabelValues(direction).Inc()
}

func (m *serviceMetrics) incRejected(direction, reason string) {
	m.rejected.WithLabelValues(direction, reason).Inc()
}

func (m *serviceMetrics) observeLag(lag float64) {
	m.lag.Set(lag)
}
