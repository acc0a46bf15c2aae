package geyser

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Config holds the geyser account watcher configuration.
type Config struct {
	// Endpoint is the Yellowstone gRPC endpoint (e.g., "grpc.chainstack.com:443")
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as the x-token header
	APIKey string `yaml:"api_key"`

	// Accounts maps friendly names to the pair accounts to stream
	Accounts map[string]string `yaml:"accounts"`

	// Insecure dials without TLS; local validators only
	Insecure bool `yaml:"insecure"`
}

// LoadConfig loads configuration from environment variables and an optional
// accounts YAML file.
func LoadConfig(accountsYAMLPath string) (*Config, error) {
	cfg := &Config{
		Endpoint: os.Getenv("GEYSER_ENDPOINT"),
		APIKey:   os.Getenv("GEYSER_API_KEY"),
		Accounts: make(map[string]string),
		Insecure: os.Getenv("GEYSER_INSECURE") == "1",
	}

	if accountsYAMLPath != "" {
		accounts, err := loadAccounts(accountsYAMLPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load watched accounts: %w", err)
		}
		cfg.Accounts = accounts
	}

	return cfg, nil
}

func loadAccounts(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var doc struct {
		Accounts map[string]string `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse accounts YAML: %w", err)
	}
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]string)
	}
	return doc.Accounts, nil
}

// Watch adds an account under name, overwriting an earlier entry.
func (c *Config) Watch(name string, key solana.PublicKey) {
	if c.Accounts == nil {
		c.Accounts = make(map[string]string)
	}
	c.Accounts[name] = key.String()
}

// PublicKeys returns the watched accounts, sorted by name.
func (c *Config) PublicKeys() ([]solana.PublicKey, error) {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := make([]solana.PublicKey, 0, len(names))
	for _, name := range names {
		key, err := solana.PublicKeyFromBase58(c.Accounts[name])
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Validate checks that required configuration fields are set
func (c *Config) Validate() error {
	var errs []string

	if c.Endpoint == "" {
		errs = append(errs, "GEYSER_ENDPOINT is required")
	}
	if c.APIKey == "" && !c.Insecure {
		errs = append(errs, "GEYSER_API_KEY is required")
	}
	if len(c.Accounts) == 0 {
		errs = append(errs, "at least one watched account is required")
	}
	for name, key := range c.Accounts {
		if _, err := solana.PublicKeyFromBase58(key); err != nil {
			errs = append(errs, fmt.Sprintf("account '%s' is not a valid public key: %s", name, key))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a sanitized string representation of the config
func (c *Config) String() string {
	maskedKey := c.APIKey
	if len(maskedKey) > 8 {
		maskedKey = maskedKey[:4] + "****" + maskedKey[len(maskedKey)-4:]
	} else if maskedKey != "" {
		maskedKey = "****"
	}

	accounts := make([]string, 0, len(c.Accounts))
	for name, key := range c.Accounts {
		accounts = append(accounts, fmt.Sprintf("%s=%s", name, key))
	}
	sort.Strings(accounts)

	return fmt.Sprintf("Config{Endpoint=%s, APIKey=%s, Accounts=[%s]}",
		c.Endpoint, maskedKey, strings.Join(accounts, ", "))
}
