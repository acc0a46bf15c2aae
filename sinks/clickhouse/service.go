package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/protocol"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

type eventWriter interface {
	WriteTrades(ctx context.Context, trades []Trade) error
	WritePrices(ctx context.Context, prices []Price) error
	Flush(ctx context.Context) error
}

type processor struct {
	writer eventWriter
	// lastSeq drops ledger entries already written; JetStream redelivers
	// after a failed flush.
	lastSeq uint64
}

func newProcessor(writer eventWriter) *processor {
	return &processor{writer: writer}
}

// handleEvent writes the rows an engine event contributes. Trade events feed
// both tables; price and reserve events feed the price audit.
func (p *processor) handleEvent(ctx context.Context, ev protocol.Event) error {
	switch ev.Kind {
	case protocol.EventTrade:
		if ev.Trade == nil {
			return nil
		}
		if ev.Trade.Sequence <= p.lastSeq {
			return nil
		}
		if err := p.writer.WriteTrades(ctx, []Trade{TradeFromRecord(*ev.Trade)}); err != nil {
			return err
		}
		p.lastSeq = ev.Trade.Sequence
		return p.writer.WritePrices(ctx, []Price{priceRow(ev, ev.Trade.MintPrice, ev.Trade.RedemptionPrice)})
	case protocol.EventPrice, protocol.EventReserve:
		if ev.Symbol == "" || ev.MintPrice == 0 {
			return nil
		}
		return p.writer.WritePrices(ctx, []Price{priceRow(ev, ev.MintPrice, ev.RedemptionPrice)})
	default:
		return nil
	}
}

func priceRow(ev protocol.Event, mint, redemption float64) Price {
	return Price{
		Timestamp:       ev.At,
		Revision:        ev.Revision,
		Symbol:          ev.Symbol,
		Action:          string(ev.Kind) + ":" + ev.Action,
		MintPrice:       mint,
		RedemptionPrice: redemption,
	}
}

// Option customises the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Service struct {
	cfg       ServiceConfig
	conn      *nats.Conn
	sub       *nats.Subscription
	processor *processor
	logger    *zap.Logger
}

// NewService connects to ClickHouse and binds the durable consumer.
func NewService(ctx context.Context, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	writer, err := NewWithConfig(ctx, cfg.Writer)
	if err != nil {
		return nil, err
	}
	return NewServiceWithWriter(cfg, writer, opts...)
}

// NewServiceWithWriter binds the durable consumer and feeds writer.
func NewServiceWithWriter(cfg ServiceConfig, writer eventWriter, opts ...Option) (*Service, error) {
	conn, sub, err := natsx.Subscribe(cfg.Consumer, "irma-clickhouse-sink")
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		conn:      conn,
		sub:       sub,
		processor: newProcessor(writer),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.Named("clickhouse")
	return s, nil
}

// Run consumes until ctx is cancelled. Messages are acknowledged only after
// the batch they landed in has been flushed.
func (s *Service) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(s.cfg.Writer.FlushInterval)
	defer flushTicker.Stop()
	defer s.conn.Drain()
	defer s.processor.writer.Flush(context.Background())

	var pending []*nats.Msg
	flush := func(ctx context.Context) error {
		if err := s.processor.writer.Flush(ctx); err != nil {
			for _, msg := range pending {
				_ = msg.Nak()
			}
			pending = pending[:0]
			return err
		}
		for _, msg := range pending {
			_ = msg.Ack()
		}
		pending = pending[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush(context.Background())
			return ctx.Err()
		case <-flushTicker.C:
			if err := flush(ctx); err != nil {
				return err
			}
		default:
		}

		msgs, err := s.sub.Fetch(s.cfg.Consumer.PullBatch, nats.MaxWait(s.cfg.Consumer.PullTimeout))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				_ = flush(context.Background())
				return ctx.Err()
			}
			return fmt.Errorf("fetch messages: %w", err)
		}

		for _, msg := range msgs {
			if err := s.handleMessage(ctx, msg); err != nil {
				if errors.Is(err, errPoison) {
					s.logger.Warn("dropping undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
					_ = msg.Term()
					continue
				}
				_ = msg.Nak()
				return err
			}
			pending = append(pending, msg)
		}
	}
}

var errPoison = errors.New("undecodable event")

func (s *Service) handleMessage(ctx context.Context, msg *nats.Msg) error {
	var ev protocol.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	return s.processor.handleEvent(ctx, ev)
}
