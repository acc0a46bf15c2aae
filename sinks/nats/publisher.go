package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/observability"
	"github.com/rexbrahh/irma-engine/protocol"
)

// Option customises the publisher.
type Option func(*Publisher)

// WithMetrics records acks and failures per event kind.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithLogger sets the publisher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Publisher emits committed engine events as JSON on JetStream. It implements
// protocol.EventSink.
type Publisher struct {
	cfg     Config
	conn    *nats.Conn
	js      nats.JetStreamContext
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPublisher validates configuration and connects to JetStream.
func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Publisher{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.Named("publisher")

	conn, err := nats.Connect(cfg.URL, nats.Name("irma-engine-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	p.conn = conn
	p.js = js
	return p, nil
}

// Publish sends events in order. Each message carries a Nats-Msg-Id derived
// from the revision so a replayed batch is deduplicated by the stream.
func (p *Publisher) Publish(ctx context.Context, events []protocol.Event) error {
	var errs []error
	for i, ev := range events {
		if err := p.publishOne(ctx, ev, i); err != nil {
			p.metrics.PublisherError(string(ev.Kind))
			p.logger.Warn("publish event failed",
				zap.String("kind", string(ev.Kind)),
				zap.Uint64("revision", ev.Revision),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		p.metrics.PublisherAck(string(ev.Kind))
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishOne(ctx context.Context, ev protocol.Event, index int) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	msg := &nats.Msg{
		Subject: p.cfg.EventSubject(string(ev.Kind), ev.Symbol),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, MessageID(ev, index))

	pubCtx, cancel := p.WithTimeout(ctx)
	defer cancel()
	ack, err := p.js.PublishMsg(msg, nats.Context(pubCtx), nats.ExpectStream(p.cfg.Stream))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	if ack != nil && ack.Duplicate {
		p.logger.Debug("duplicate event suppressed", zap.String("subject", msg.Subject))
	}
	return nil
}

// MessageID identifies the index-th event of a revision.
func MessageID(ev protocol.Event, index int) string {
	return fmt.Sprintf("%d:%s:%s:%d", ev.Revision, ev.Kind, ev.Symbol, index)
}

// EnsureStream creates the configured stream when it does not exist yet.
func (p *Publisher) EnsureStream() error {
	return EnsureStream(p.js, p.cfg)
}

// EnsureStream creates cfg.Stream over cfg.StreamSubjects if missing.
func EnsureStream(js nats.JetStreamContext, cfg Config) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("describe stream %q: %w", cfg.Stream, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: cfg.StreamSubjects(),
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("add stream %q: %w", cfg.Stream, err)
	}
	return nil
}

// WithTimeout returns a context with the publisher's timeout applied.
func (p *Publisher) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := p.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return context.WithTimeout(parent, timeout)
}

// Config exposes a copy of the publisher configuration.
func (p *Publisher) Config() Config {
	return p.cfg
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
