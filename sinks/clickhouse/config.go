package clickhouse

import (
	"time"

	"github.com/rexbrahh/irma-engine/config"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

const envPrefix = "CH_SINK"

// ServiceConfig drives the sink: engine events consumed from
// <root>.events.> are written to the trade ledger and price audit tables.
type ServiceConfig struct {
	Consumer natsx.ConsumerConfig `mapstructure:",squash"`
	Writer   Config               `mapstructure:",squash"`
}

func (c ServiceConfig) Validate() error {
	if err := c.Consumer.Validate(); err != nil {
		return err
	}
	return validateConfig(c.Writer)
}

func (c ServiceConfig) Subject() string {
	return c.Consumer.Subject()
}

func writerDefaults() map[string]any {
	return map[string]any{
		"dsn":               "",
		"database":          "irma",
		"trades_table":      "irma_trades",
		"prices_table":      "irma_prices",
		"batch_size":        512,
		"flush_interval":    time.Second,
		"max_retries":       3,
		"retry_backoff":     200 * time.Millisecond,
		"retry_backoff_max": 5 * time.Second,
	}
}

// ServiceConfigFromEnv reads CH_SINK_* variables, for example
// CH_SINK_NATS_URL, CH_SINK_DSN and CH_SINK_FLUSH_INTERVAL=2s.
func ServiceConfigFromEnv() (ServiceConfig, error) {
	defaults := natsx.ConsumerDefaults("irma_clickhouse")
	for key, value := range writerDefaults() {
		defaults[key] = value
	}
	var cfg ServiceConfig
	if err := config.LoadEnv(envPrefix, defaults, &cfg); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, cfg.Validate()
}
