package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rexbrahh/irma-engine/api/http/types"
	"github.com/rexbrahh/irma-engine/protocol"
)

// ErrDisabled indicates the cache layer is disabled via configuration.
var ErrDisabled = errors.New("redis cache disabled")

// Config represents Redis client configuration options.
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// LoadConfigFromEnv constructs a Config from environment variables.
//
// Recognized variables:
//   - API_REDIS_ADDR (required to enable the cache)
//   - API_REDIS_PASSWORD (optional)
//   - API_REDIS_DB (defaults to 0)
//   - API_REDIS_TTL (parseable duration, defaults to 30s)
//   - API_REDIS_PREFIX (defaults to "irma")
func LoadConfigFromEnv() (Config, error) {
	prefix := os.Getenv("API_REDIS_PREFIX")
	if prefix == "" {
		prefix = "irma"
	}
	addr := os.Getenv("API_REDIS_ADDR")
	if addr == "" {
		return Config{Enabled: false, TTL: 30 * time.Second, Prefix: prefix}, nil
	}

	db := 0
	if rawDB := os.Getenv("API_REDIS_DB"); rawDB != "" {
		parsed, err := strconv.Atoi(rawDB)
		if err != nil {
			return Config{}, fmt.Errorf("invalid API_REDIS_DB: %w", err)
		}
		db = parsed
	}

	ttl := 30 * time.Second
	if rawTTL := os.Getenv("API_REDIS_TTL"); rawTTL != "" {
		parsed, err := time.ParseDuration(rawTTL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid API_REDIS_TTL: %w", err)
		}
		ttl = parsed
	}

	return Config{
		Enabled:  true,
		Addr:     addr,
		Password: os.Getenv("API_REDIS_PASSWORD"),
		DB:       db,
		TTL:      ttl,
		Prefix:   prefix,
	}, nil
}

// Cache keeps the latest price quote per reserve in Redis.
type Cache struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Cache from the provided configuration.
func New(cfg Config) (*Cache, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "irma"
	}
	if !cfg.Enabled {
		return &Cache{cfg: cfg}, nil
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client, cfg: cfg}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, prefix string) *Cache {
	if prefix == "" {
		prefix = "irma"
	}
	return &Cache{client: client, cfg: Config{Enabled: client != nil, TTL: ttl, Prefix: prefix}}
}

func (c *Cache) key(symbol string) string {
	return fmt.Sprintf("%s:prices:%s", c.cfg.Prefix, symbol)
}

// GetQuote retrieves the cached quote for symbol. A quote taken at a revision
// other than current is treated as missing.
func (c *Cache) GetQuote(ctx context.Context, symbol string, current uint64) (protocol.PriceQuote, error) {
	if c == nil || c.client == nil {
		return protocol.PriceQuote{}, ErrDisabled
	}

	payload, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return protocol.PriceQuote{}, types.ErrNotFound
	}
	if err != nil {
		return protocol.PriceQuote{}, err
	}

	var quote protocol.PriceQuote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return protocol.PriceQuote{}, err
	}
	if quote.Revision != current {
		return protocol.PriceQuote{}, types.ErrNotFound
	}
	return quote, nil
}

// SetQuote stores the quote for its symbol.
func (c *Cache) SetQuote(ctx context.Context, quote protocol.PriceQuote) error {
	if c == nil || c.client == nil {
		return ErrDisabled
	}

	payload, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(quote.Symbol), payload, c.cfg.TTL).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
