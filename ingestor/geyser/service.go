package geyser

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/connector"
	"github.com/rexbrahh/irma-engine/observability"
)

// ClientInterface captures the subset of the geyser client used by the watcher.
type ClientInterface interface {
	Connect() error
	Subscribe(startSlot uint64) (<-chan *pb.SubscribeUpdate, <-chan error)
	Close() error
	Name() string
}

// Watcher applies streamed pair account updates to a connector.WatchCache so
// oracle reads are served from memory.
type Watcher struct {
	client  ClientInterface
	cache   *connector.WatchCache
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewWatcher wires a client to the cache. The cache is told to track every
// configured account.
func NewWatcher(cfg *Config, cache *connector.WatchCache, metrics *observability.Metrics, logger *zap.Logger) (*Watcher, error) {
	if cache == nil {
		return nil, errors.New("watch cache is required")
	}
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init geyser client: %w", err)
	}
	keys, err := cfg.PublicKeys()
	if err != nil {
		return nil, err
	}
	cache.Watch(keys...)
	return NewWatcherWithClient(client, cache, metrics, logger), nil
}

// NewWatcherWithClient wraps an existing stream client.
func NewWatcherWithClient(client ClientInterface, cache *connector.WatchCache, metrics *observability.Metrics, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		client:  client,
		cache:   cache,
		metrics: metrics,
		logger:  logger.Named("watcher"),
	}
}

// Run connects and applies updates until the context is cancelled or the
// stream closes. Stream errors are logged; the client reconnects on its own.
func (w *Watcher) Run(ctx context.Context, startSlot uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", w.client.Name(), err)
	}
	defer w.client.Close()

	updates, errs := w.client.Subscribe(startSlot)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("stream error", zap.String("source", w.client.Name()), zap.Error(err))
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			w.HandleUpdate(update)
		}
	}
}

// HandleUpdate applies one stream message. Non-account messages are ignored.
func (w *Watcher) HandleUpdate(update *pb.SubscribeUpdate) bool {
	u, ok := update.GetUpdateOneof().(*pb.SubscribeUpdate_Account)
	if !ok || u.Account == nil {
		return false
	}
	acct, err := accountFromUpdate(u.Account)
	if err != nil {
		w.logger.Warn("malformed account update", zap.Error(err))
		return false
	}
	applied := w.cache.Apply(acct)
	w.metrics.WatcherUpdate(applied, acct.Slot)
	if applied {
		w.logger.Debug("account updated",
			zap.Stringer("account", acct.Address),
			zap.Uint64("slot", acct.Slot),
			zap.Int("bytes", len(acct.Data)))
	}
	return applied
}

func accountFromUpdate(u *pb.SubscribeUpdateAccount) (connector.Account, error) {
	info := u.GetAccount()
	if info == nil {
		return connector.Account{}, errors.New("update has no account info")
	}
	if len(info.GetPubkey()) != solana.PublicKeyLength {
		return connector.Account{}, fmt.Errorf("pubkey length %d", len(info.GetPubkey()))
	}
	if len(info.GetOwner()) != solana.PublicKeyLength {
		return connector.Account{}, fmt.Errorf("owner length %d", len(info.GetOwner()))
	}
	return connector.Account{
		Address: solana.PublicKeyFromBytes(info.GetPubkey()),
		Owner:   solana.PublicKeyFromBytes(info.GetOwner()),
		Data:    info.GetData(),
		Slot:    u.GetSlot(),
	}, nil
}
