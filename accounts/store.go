package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/rexbrahh/irma-engine/protocol"
)

var (
	// ErrNotFound is returned by Load when nothing has been stored yet.
	ErrNotFound = errors.New("account not stored")
	// ErrStaleRevision rejects a commit that does not advance the revision.
	ErrStaleRevision = errors.New("snapshot revision does not advance stored state")
)

// Store persists the enveloped protocol state account. Commit makes it usable
// as the engine's protocol.Committer.
type Store interface {
	protocol.Committer
	Load(ctx context.Context) (protocol.Snapshot, error)
	LoadRaw(ctx context.Context) ([]byte, error)
	SaveRaw(ctx context.Context, data []byte) error
}

// Restore loads the stored snapshot into the engine. A missing account is not
// an error; the engine stays uninitialized.
func Restore(ctx context.Context, store Store, engine *protocol.Engine) (bool, error) {
	snap, err := store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	engine.Restore(snap)
	return true, nil
}

// MigrateStore rewrites a stored legacy account in the current layout and
// returns the migrated snapshot.
func MigrateStore(ctx context.Context, store Store, admin solana.PublicKey, now time.Time) (protocol.Snapshot, error) {
	raw, err := store.LoadRaw(ctx)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	upgraded, err := Migrate(raw, admin, now)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	if err := store.SaveRaw(ctx, upgraded); err != nil {
		return protocol.Snapshot{}, err
	}
	return DecodeSnapshot(upgraded)
}

func checkRevision(current []byte, next protocol.Snapshot) error {
	if current == nil {
		return nil
	}
	prev, err := DecodeSnapshot(current)
	if err != nil {
		return fmt.Errorf("stored account: %w", err)
	}
	if next.Revision <= prev.Revision {
		return fmt.Errorf("%w: stored %d, commit %d", ErrStaleRevision, prev.Revision, next.Revision)
	}
	return nil
}

// MemoryStore keeps the account in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	pools map[solana.PublicKey][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Commit(_ context.Context, snap protocol.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkRevision(s.data, snap); err != nil {
		return err
	}
	s.data = data
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (protocol.Snapshot, error) {
	raw, err := s.LoadRaw(ctx)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	return DecodeSnapshot(raw)
}

func (s *MemoryStore) LoadRaw(context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) SaveRaw(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) SavePool(_ context.Context, address solana.PublicKey, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pools == nil {
		s.pools = make(map[solana.PublicKey][]byte)
	}
	s.pools[address] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) LoadPools(context.Context) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, 0, len(s.pools))
	for _, data := range s.pools {
		out = append(out, append([]byte(nil), data...))
	}
	return out, nil
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	ProgramID solana.PublicKey
}

// RedisConfigFromEnv reads IRMA_REDIS_ADDR, IRMA_REDIS_PASSWORD and
// IRMA_REDIS_DB. An empty address disables the store.
func RedisConfigFromEnv() (RedisConfig, bool, error) {
	cfg := RedisConfig{
		Addr:      os.Getenv("IRMA_REDIS_ADDR"),
		Password:  os.Getenv("IRMA_REDIS_PASSWORD"),
		KeyPrefix: "irma",
		ProgramID: ProgramID,
	}
	if cfg.Addr == "" {
		return cfg, false, nil
	}
	if raw := os.Getenv("IRMA_REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return RedisConfig{}, false, fmt.Errorf("invalid IRMA_REDIS_DB: %w", err)
		}
		cfg.DB = db
	}
	return cfg, true, nil
}

// RedisStore keeps the account under a key derived from the state PDA, so a
// store shared by several program deployments keeps them apart. Pool accounts
// live in a hash next to it, one field per pool PDA.
type RedisStore struct {
	client  *redis.Client
	key     string
	poolKey string
}

// NewRedisStore connects a store. The client is owned by the store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.ProgramID)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, programID solana.PublicKey) (*RedisStore, error) {
	if programID.IsZero() {
		programID = ProgramID
	}
	if prefix == "" {
		prefix = "irma"
	}
	addr, _, err := StateAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state address: %w", err)
	}
	return &RedisStore{
		client:  client,
		key:     fmt.Sprintf("%s:account:%s", prefix, addr),
		poolKey: fmt.Sprintf("%s:%s:%s", prefix, KindOrcaPool, addr),
	}, nil
}

// Key is the Redis key holding the account.
func (s *RedisStore) Key() string { return s.key }

// Commit writes the snapshot if it advances the stored revision. The
// read-check-write runs under WATCH so concurrent writers cannot interleave.
func (s *RedisStore) Commit(ctx context.Context, snap protocol.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, s.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err := checkRevision(current, snap); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}, s.key)
}

func (s *RedisStore) Load(ctx context.Context) (protocol.Snapshot, error) {
	raw, err := s.LoadRaw(ctx)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	return DecodeSnapshot(raw)
}

func (s *RedisStore) LoadRaw(ctx context.Context) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *RedisStore) SaveRaw(ctx context.Context, data []byte) error {
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) SavePool(ctx context.Context, address solana.PublicKey, data []byte) error {
	return s.client.HSet(ctx, s.poolKey, address.String(), data).Err()
}

func (s *RedisStore) LoadPools(ctx context.Context) ([][]byte, error) {
	fields, err := s.client.HGetAll(ctx, s.poolKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(fields))
	for _, v := range fields {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
