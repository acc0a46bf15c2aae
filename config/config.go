// Package config loads the engine process configuration from an optional
// file plus IRMA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"github.com/rexbrahh/irma-engine/accounts"
	"github.com/rexbrahh/irma-engine/api/http/cache"
	"github.com/rexbrahh/irma-engine/crank"
	"github.com/rexbrahh/irma-engine/ingestor/geyser"
	"github.com/rexbrahh/irma-engine/intake"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

const envPrefix = "IRMA"

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	ProgramID string `mapstructure:"program_id"`
	IrmaMint  string `mapstructure:"irma_mint"`
	// Admin initializes a fresh engine; ignored when state is restored.
	Admin string `mapstructure:"admin"`
	// Manifest is a YAML file of reserves and pairs seeded at startup.
	Manifest string `mapstructure:"manifest"`

	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Inflation InflationConfig `mapstructure:"inflation"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Crank     CrankConfig     `mapstructure:"crank"`
	Geyser    GeyserConfig    `mapstructure:"geyser"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// RPCConfig drives venue account reads. An empty endpoint disables the
// observer; pairs are then only shifted from submitted observations.
type RPCConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Commitment     string        `mapstructure:"commitment"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	MaxTries       uint          `mapstructure:"max_tries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type InflationConfig struct {
	Model     string  `mapstructure:"model"`
	Threshold float64 `mapstructure:"threshold"`
	Peg       float64 `mapstructure:"peg"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	SubjectRoot    string        `mapstructure:"subject_root"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type IntakeConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Durable       string        `mapstructure:"durable"`
	SubjectMap    string        `mapstructure:"subject_map"`
	DefaultSigner string        `mapstructure:"default_signer"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
}

type CrankConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxRuns  uint64        `mapstructure:"max_runs"`
	Signer   string        `mapstructure:"signer"`
}

type GeyserConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Insecure bool   `mapstructure:"insecure"`
}

var defaults = map[string]any{
	"program_id": accounts.ProgramID.String(),

	"log.level":       "info",
	"log.development": false,

	"http.addr":                ":8080",
	"http.read_header_timeout": 5 * time.Second,

	"store.backend":        StoreMemory,
	"store.redis_addr":     "",
	"store.redis_password": "",
	"store.redis_db":       0,
	"store.key_prefix":     "irma",

	"cache.enabled":  false,
	"cache.addr":     "",
	"cache.password": "",
	"cache.db":       0,
	"cache.ttl":      30 * time.Second,
	"cache.prefix":   "irma",

	"rpc.endpoint":        "",
	"rpc.commitment":      "confirmed",
	"rpc.rate_limit":      10.0,
	"rpc.burst":           5,
	"rpc.max_tries":       4,
	"rpc.initial_backoff": 250 * time.Millisecond,

	"inflation.model":     "threshold",
	"inflation.threshold": 0.02,
	"inflation.peg":       1.0,

	"nats.enabled":         false,
	"nats.url":             "",
	"nats.stream":          "IRMA",
	"nats.subject_root":    "irma",
	"nats.publish_timeout": 5 * time.Second,

	"intake.enabled":        false,
	"intake.durable":        "irma_intake",
	"intake.subject_map":    "",
	"intake.default_signer": "",
	"intake.max_deliver":    5,
	"intake.ack_wait":       30 * time.Second,

	"crank.enabled":  false,
	"crank.interval": 30 * time.Second,
	"crank.timeout":  20 * time.Second,
	"crank.max_runs": 0,
	"crank.signer":   "",

	"geyser.enabled":  false,
	"geyser.endpoint": "",
	"geyser.api_key":  "",
	"geyser.insecure": false,

	"irma_mint": "",
	"admin":     "",
	"manifest":  "",
}

// Load reads path when set, then applies IRMA_* environment overrides
// (IRMA_NATS_URL overrides nats.url).
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
		return fmt.Errorf("invalid program_id: %w", err)
	}
	for name, key := range map[string]string{
		"irma_mint":             c.IrmaMint,
		"admin":                 c.Admin,
		"crank.signer":          c.Crank.Signer,
		"intake.default_signer": c.Intake.DefaultSigner,
	} {
		if _, err := parseOptionalKey(key); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache.addr is required when the cache is enabled")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}

	if c.Intake.Enabled && !c.NATS.Enabled {
		return errors.New("intake requires nats.enabled")
	}
	if c.NATS.Enabled {
		if err := c.NATSConfig().Validate(); err != nil {
			return err
		}
	}
	if c.Crank.Enabled && c.Crank.Signer == "" {
		return errors.New("crank.signer is required when the crank is enabled")
	}
	if c.Geyser.Enabled {
		if c.Geyser.Endpoint == "" {
			return errors.New("geyser.endpoint is required when geyser is enabled")
		}
		if c.RPC.Endpoint == "" {
			return errors.New("geyser requires rpc.endpoint for cache misses")
		}
	}
	if c.RPC.RateLimit < 0 || c.RPC.Burst < 0 {
		return errors.New("rpc rate limit and burst must be non-negative")
	}
	return nil
}

// ProgramKey returns the program id the PDAs and return logs derive from.
func (c *Config) ProgramKey() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.ProgramID)
}

// IrmaMintKey returns the configured IRMA mint, or the zero key.
func (c *Config) IrmaMintKey() solana.PublicKey {
	key, _ := parseOptionalKey(c.IrmaMint)
	return key
}

// AdminKey returns the bootstrap admin, or the zero key.
func (c *Config) AdminKey() solana.PublicKey {
	key, _ := parseOptionalKey(c.Admin)
	return key
}

func (c *Config) NATSConfig() natsx.Config {
	return natsx.Config{
		URL:            c.NATS.URL,
		Stream:         c.NATS.Stream,
		SubjectRoot:    c.NATS.SubjectRoot,
		PublishTimeout: c.NATS.PublishTimeout,
	}
}

// IntakeConfig loads the subject mapping file when one is configured.
func (c *Config) IntakeConfig() (intake.Config, error) {
	cfg := intake.Config{
		NATS:          c.NATSConfig(),
		Durable:       c.Intake.Durable,
		DefaultSigner: c.Intake.DefaultSigner,
		MaxDeliver:    c.Intake.MaxDeliver,
		AckWait:       c.Intake.AckWait,
	}
	if c.Intake.SubjectMap != "" {
		mappings, err := intake.LoadSubjectMappings(c.Intake.SubjectMap)
		if err != nil {
			return intake.Config{}, err
		}
		cfg.SubjectMappings = mappings
	}
	return cfg, cfg.Validate()
}

func (c *Config) CrankConfig() crank.Config {
	return crank.Config{
		Interval: c.Crank.Interval,
		Timeout:  c.Crank.Timeout,
		MaxRuns:  c.Crank.MaxRuns,
		Signer:   c.Crank.Signer,
	}
}

func (c *Config) GeyserConfig() *geyser.Config {
	return &geyser.Config{
		Endpoint: c.Geyser.Endpoint,
		APIKey:   c.Geyser.APIKey,
		Insecure: c.Geyser.Insecure,
		Accounts: make(map[string]string),
	}
}

func (c *Config) RedisStoreConfig() accounts.RedisConfig {
	return accounts.RedisConfig{
		Addr:      c.Store.RedisAddr,
		Password:  c.Store.RedisPassword,
		DB:        c.Store.RedisDB,
		KeyPrefix: c.Store.KeyPrefix,
		ProgramID: c.ProgramKey(),
	}
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Enabled:  c.Cache.Enabled,
		Addr:     c.Cache.Addr,
		Password: c.Cache.Password,
		DB:       c.Cache.DB,
		TTL:      c.Cache.TTL,
		Prefix:   c.Cache.Prefix,
	}
}

func parseOptionalKey(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(s)
}
