package intake

import (
	"fmt"
	"os"
	"time"

	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

const (
	envDurable    = "INTAKE_DURABLE"
	envSubjectMap = "INTAKE_SUBJECT_MAP"
	envSigner     = "INTAKE_DEFAULT_SIGNER"

	defaultDurable = "irma_intake"
)

// Config controls which JetStream stream the intake consumes from.
type Config struct {
	NATS            natsx.Config
	Durable         string
	SubjectMappings []SubjectMapping
	// DefaultSigner applies to instructions that carry no signer.
	DefaultSigner string
	// MaxDeliver bounds redeliveries of instructions that fail transiently.
	MaxDeliver int
	AckWait    time.Duration
}

// DefaultConfig returns defaults for the optional fields.
func DefaultConfig() Config {
	return Config{
		NATS:       natsx.DefaultConfig(),
		Durable:    defaultDurable,
		MaxDeliver: 5,
		AckWait:    30 * time.Second,
	}
}

// Validate ensures required fields are populated.
func (c Config) Validate() error {
	if err := c.NATS.Validate(); err != nil {
		return err
	}
	if c.Durable == "" {
		return fmt.Errorf("durable consumer name is required")
	}
	if c.MaxDeliver <= 0 {
		return fmt.Errorf("max deliver must be positive")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("ack wait must be positive")
	}
	return nil
}

// Subject is the wildcard the intake consumes.
func (c Config) Subject() string {
	return c.NATS.SubjectRoot + ".instructions.>"
}

// FromEnv loads configuration from environment variables.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	natsCfg, err := natsx.FromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.NATS = natsCfg
	if v := os.Getenv(envDurable); v != "" {
		cfg.Durable = v
	}
	cfg.DefaultSigner = os.Getenv(envSigner)
	if path := os.Getenv(envSubjectMap); path != "" {
		mappings, err := LoadSubjectMappings(path)
		if err != nil {
			return Config{}, err
		}
		cfg.SubjectMappings = mappings
	}
	return cfg, cfg.Validate()
}
