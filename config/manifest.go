package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rexbrahh/irma-engine/protocol"
)

// Manifest lists the reserves, pairs and traders an engine is seeded with.
//
//	traders:
//	  - 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
//	reserves:
//	  - symbol: devUSDC
//	    mint: 4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU
//	    decimals: 6
//	    mint_price: 1.0
//	    pair: 5BUwFW4nRbftYTDMbgxykoFWqWHPzahFSNAaaaJtVKsq
//	    venue: dlmm
//	    liquidity:
//	      x_amount: 1000000
//	      y_amount: 1000000
//	      mode: view
type Manifest struct {
	Traders  []string          `yaml:"traders"`
	Reserves []ManifestReserve `yaml:"reserves"`
}

type ManifestReserve struct {
	Symbol    string             `yaml:"symbol"`
	Mint      string             `yaml:"mint"`
	Decimals  uint8              `yaml:"decimals"`
	MintPrice float64            `yaml:"mint_price"`
	Pair      string             `yaml:"pair"`
	Venue     string             `yaml:"venue"`
	Liquidity *ManifestLiquidity `yaml:"liquidity"`
}

type ManifestLiquidity struct {
	XAmount uint64 `yaml:"x_amount"`
	YAmount uint64 `yaml:"y_amount"`
	Mode    string `yaml:"mode"`
}

// Registrar is the part of the engine a manifest drives.
type Registrar interface {
	Reserve(symbol string) (protocol.Reserve, error)
	AddReserve(ctx context.Context, signer solana.PublicKey, symbol string, mint solana.PublicKey, decimals uint8) error
	SetMintPrice(ctx context.Context, signer solana.PublicKey, symbol string, price float64) error
	UpdateReserveLbpair(ctx context.Context, signer solana.PublicKey, symbol string, pair solana.PublicKey, venue protocol.VenueKind) error
	ConfigurePair(ctx context.Context, signer solana.PublicKey, cfg protocol.PairConfig) error
	AddTrader(ctx context.Context, signer, key solana.PublicKey) error
}

// LoadManifest parses and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, m.Validate()
}

func (m *Manifest) Validate() error {
	for _, t := range m.Traders {
		if _, err := solana.PublicKeyFromBase58(t); err != nil {
			return fmt.Errorf("trader %q: %w", t, err)
		}
	}
	seen := make(map[string]struct{}, len(m.Reserves))
	for _, r := range m.Reserves {
		if _, dup := seen[r.Symbol]; dup {
			return fmt.Errorf("reserve %q listed twice", r.Symbol)
		}
		seen[r.Symbol] = struct{}{}
		mint, err := solana.PublicKeyFromBase58(r.Mint)
		if err != nil {
			return fmt.Errorf("reserve %q mint: %w", r.Symbol, err)
		}
		if _, err := protocol.NewReserve(r.Symbol, mint, r.Decimals); err != nil {
			return fmt.Errorf("reserve %q: %w", r.Symbol, err)
		}
		if r.Pair != "" {
			if _, err := solana.PublicKeyFromBase58(r.Pair); err != nil {
				return fmt.Errorf("reserve %q pair: %w", r.Symbol, err)
			}
		} else if r.Liquidity != nil {
			return fmt.Errorf("reserve %q: liquidity needs a pair", r.Symbol)
		}
		if r.Liquidity != nil && r.Liquidity.Mode != "" && !protocol.MarketMakingMode(r.Liquidity.Mode).Valid() {
			return fmt.Errorf("reserve %q: unknown mode %q", r.Symbol, r.Liquidity.Mode)
		}
	}
	return nil
}

// Apply seeds engine from the manifest. Entries already present are left as
// they are, so Apply is safe to run on every start.
func (m *Manifest) Apply(ctx context.Context, engine Registrar, admin solana.PublicKey, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, t := range m.Traders {
		key := solana.MustPublicKeyFromBase58(t)
		if err := engine.AddTrader(ctx, admin, key); err != nil {
			return fmt.Errorf("add trader %s: %w", t, err)
		}
	}

	for _, r := range m.Reserves {
		existing, err := engine.Reserve(r.Symbol)
		switch {
		case errors.Is(err, protocol.ErrSymbolNotFound):
			if err := engine.AddReserve(ctx, admin, r.Symbol, solana.MustPublicKeyFromBase58(r.Mint), r.Decimals); err != nil {
				return fmt.Errorf("add reserve %s: %w", r.Symbol, err)
			}
			logger.Info("seeded reserve", zap.String("symbol", r.Symbol))
			if r.MintPrice > 0 {
				if err := engine.SetMintPrice(ctx, admin, r.Symbol, r.MintPrice); err != nil {
					return fmt.Errorf("set mint price %s: %w", r.Symbol, err)
				}
			}
		case err != nil:
			return err
		default:
			logger.Debug("reserve already registered", zap.String("symbol", existing.Symbol))
		}

		if r.Pair == "" {
			continue
		}
		pair := solana.MustPublicKeyFromBase58(r.Pair)
		if !existing.Pair.Equals(pair) {
			if err := engine.UpdateReserveLbpair(ctx, admin, r.Symbol, pair, protocol.VenueKind(r.Venue)); err != nil {
				return fmt.Errorf("bind pair for %s: %w", r.Symbol, err)
			}
		}
		if r.Liquidity != nil {
			cfg := protocol.PairConfig{
				Pair:    pair,
				XAmount: r.Liquidity.XAmount,
				YAmount: r.Liquidity.YAmount,
				Mode:    protocol.MarketMakingMode(r.Liquidity.Mode),
			}
			if err := engine.ConfigurePair(ctx, admin, cfg); err != nil {
				return fmt.Errorf("configure pair for %s: %w", r.Symbol, err)
			}
		}
	}
	return nil
}
