package parquet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/config"
	"github.com/rexbrahh/irma-engine/protocol"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

// ServiceConfig pairs the event consumer with the archive writer.
type ServiceConfig struct {
	Consumer natsx.ConsumerConfig `mapstructure:",squash"`
	Writer   Config               `mapstructure:",squash"`
}

func (c ServiceConfig) Validate() error {
	if err := c.Consumer.Validate(); err != nil {
		return err
	}
	return c.Writer.Validate()
}

// Subject is the wildcard the archive consumes. Only trade and price events
// produce rows.
func (c ServiceConfig) Subject() string {
	return c.Consumer.Subject()
}

// ServiceConfigFromEnv reads PARQUET_* variables (PARQUET_NATS_URL,
// PARQUET_S3_BUCKET, PARQUET_FLUSH_INTERVAL=15m, ...).
func ServiceConfigFromEnv() (ServiceConfig, error) {
	defaults := natsx.ConsumerDefaults("irma_parquet")
	for key, value := range writerDefaults() {
		defaults[key] = value
	}
	var cfg ServiceConfig
	if err := config.LoadEnv(envPrefix, defaults, &cfg); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, cfg.Validate()
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
	cfg    ServiceConfig
	conn   *nats.Conn
	sub    *nats.Subscription
	writer *Writer
	logger *zap.Logger
}

func NewService(ctx context.Context, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	writer, err := NewWriter(cfg.Writer)
	if err != nil {
		return nil, err
	}
	return NewServiceWithWriter(cfg, writer, opts...)
}

// NewServiceWithWriter binds the durable consumer and archives into writer.
func NewServiceWithWriter(cfg ServiceConfig, writer *Writer, opts ...Option) (*Service, error) {
	conn, sub, err := natsx.Subscribe(cfg.Consumer, "irma-parquet-sink")
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		conn:   conn,
		sub:    sub,
		writer: writer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.Named("parquet")
	return s, nil
}

// Run consumes until ctx is cancelled. A message is acknowledged once the
// object holding its rows has been uploaded.
func (s *Service) Run(ctx context.Context) error {
	defer s.conn.Drain()

	var pending []*nats.Msg
	flush := func(ctx context.Context) error {
		if err := s.writer.Flush(ctx); err != nil {
			for _, msg := range pending {
				_ = msg.Nak()
			}
			pending = pending[:0]
			return err
		}
		for _, msg := range pending {
			_ = msg.Ack()
		}
		if len(pending) > 0 {
			s.logger.Debug("archived batch", zap.Int("messages", len(pending)))
		}
		pending = pending[:0]
		return nil
	}

	for {
		if ctx.Err() != nil {
			_ = flush(context.Background())
			return ctx.Err()
		}
		if s.writer.Due() {
			if err := flush(ctx); err != nil {
				return err
			}
		}

		msgs, err := s.sub.Fetch(s.cfg.Consumer.PullBatch, nats.MaxWait(s.cfg.Consumer.PullTimeout))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("fetch messages: %w", err)
		}

		for _, msg := range msgs {
			var ev protocol.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.logger.Warn("dropping undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Term()
				continue
			}
			if s.writer.AppendEvent(ev) == 0 {
				_ = msg.Ack()
				continue
			}
			pending = append(pending, msg)
		}
	}
}
