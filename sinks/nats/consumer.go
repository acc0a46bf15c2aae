package natsx

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ConsumerDefaults are the environment defaults of a ConsumerConfig, keyed by
// its mapstructure names.
func ConsumerDefaults(durable string) map[string]any {
	return map[string]any{
		"nats_url":     "",
		"nats_stream":  "",
		"subject_root": "irma",
		"consumer":     durable,
		"pull_batch":   256,
		"pull_timeout": 500 * time.Millisecond,
	}
}

// ConsumerConfig describes a durable pull consumer over the engine event
// stream.
type ConsumerConfig struct {
	URL         string        `mapstructure:"nats_url"`
	Stream      string        `mapstructure:"nats_stream"`
	SubjectRoot string        `mapstructure:"subject_root"`
	Durable     string        `mapstructure:"consumer"`
	PullBatch   int           `mapstructure:"pull_batch"`
	PullTimeout time.Duration `mapstructure:"pull_timeout"`
}

func (c ConsumerConfig) Validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("nats url is required")
	case c.Stream == "":
		return fmt.Errorf("nats stream is required")
	case c.SubjectRoot == "":
		return fmt.Errorf("subject root is required")
	case c.Durable == "":
		return fmt.Errorf("consumer name is required")
	case c.PullBatch <= 0:
		return fmt.Errorf("pull batch must be positive")
	case c.PullTimeout <= 0:
		return fmt.Errorf("pull timeout must be positive")
	}
	return nil
}

// Subject is the wildcard every engine event is published under.
func (c ConsumerConfig) Subject() string {
	return c.SubjectRoot + ".events.>"
}

func (c ConsumerConfig) stream() Config {
	cfg := DefaultConfig()
	cfg.URL, cfg.Stream, cfg.SubjectRoot = c.URL, c.Stream, c.SubjectRoot
	return cfg
}

// Subscribe connects as name, makes sure the event stream exists and binds the
// durable pull consumer with manual acks. The caller owns the connection.
func Subscribe(cfg ConsumerConfig, name string) (*nats.Conn, *nats.Subscription, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name(name))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := EnsureStream(js, cfg.stream()); err != nil {
		conn.Close()
		return nil, nil, err
	}
	sub, err := js.PullSubscribe(cfg.Subject(), cfg.Durable, nats.BindStream(cfg.Stream), nats.ManualAck())
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("pull subscribe: %w", err)
	}
	return conn, sub, nil
}
