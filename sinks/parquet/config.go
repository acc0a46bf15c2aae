package parquet

import (
	"errors"
	"time"

	"github.com/rexbrahh/irma-engine/config"
)

const envPrefix = "PARQUET"

// Config holds parameters for the Parquet archive writer. Objects land under
// <Prefix>/dataset=<trades|prices>/date=<UTC day>/.
type Config struct {
	Endpoint      string        `mapstructure:"s3_endpoint"`
	Bucket        string        `mapstructure:"s3_bucket"`
	AccessKey     string        `mapstructure:"s3_access_key"`
	SecretKey     string        `mapstructure:"s3_secret_key"`
	Region        string        `mapstructure:"region"`
	Prefix        string        `mapstructure:"prefix"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BatchRows     int           `mapstructure:"batch_rows"`
}

func writerDefaults() map[string]any {
	return map[string]any{
		"s3_endpoint":    "",
		"s3_bucket":      "",
		"s3_access_key":  "",
		"s3_secret_key":  "",
		"region":         "us-east-1",
		"prefix":         "irma/",
		"flush_interval": 15 * time.Minute,
		"batch_rows":     5000,
	}
}

func DefaultConfig() Config {
	return Config{
		Region:        "us-east-1",
		Prefix:        "irma/",
		FlushInterval: 15 * time.Minute,
		BatchRows:     5000,
	}
}

func (c Config) Validate() error {
	var errs []error
	for _, field := range []struct{ name, value string }{
		{"s3 endpoint", c.Endpoint},
		{"s3 bucket", c.Bucket},
		{"s3 access key", c.AccessKey},
		{"s3 secret key", c.SecretKey},
		{"region", c.Region},
		{"object prefix", c.Prefix},
	} {
		if field.value == "" {
			errs = append(errs, errors.New(field.name+" is required"))
		}
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush interval must be positive"))
	}
	if c.BatchRows <= 0 {
		errs = append(errs, errors.New("batch rows must be positive"))
	}
	return errors.Join(errs...)
}

// FromEnv reads the writer settings from PARQUET_* variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := config.LoadEnv(envPrefix, writerDefaults(), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}
