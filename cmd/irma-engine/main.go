package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rexbrahh/irma-engine/accounts"
	httpapi "github.com/rexbrahh/irma-engine/api/http"
	"github.com/rexbrahh/irma-engine/api/http/cache"
	"github.com/rexbrahh/irma-engine/config"
	"github.com/rexbrahh/irma-engine/connector"
	"github.com/rexbrahh/irma-engine/crank"
	"github.com/rexbrahh/irma-engine/decoder/common"
	"github.com/rexbrahh/irma-engine/inflation"
	"github.com/rexbrahh/irma-engine/ingestor/geyser"
	"github.com/rexbrahh/irma-engine/intake"
	"github.com/rexbrahh/irma-engine/logging"
	"github.com/rexbrahh/irma-engine/observability"
	"github.com/rexbrahh/irma-engine/protocol"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

func main() {
	configPath := flag.String("config", os.Getenv("IRMA_CONFIG"), "path to the engine config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("engine stopped", zap.Error(err))
	}
	logger.Info("engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry, registry)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	model, err := inflation.ByName(cfg.Inflation.Model, cfg.Inflation.Threshold)
	if err != nil {
		return err
	}

	var sinks protocol.MultiSink
	var publisher *natsx.Publisher
	if cfg.NATS.Enabled {
		publisher, err = natsx.NewPublisher(cfg.NATSConfig(), natsx.WithMetrics(metrics), natsx.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(); err != nil {
			return err
		}
		sinks = append(sinks, publisher)
	}

	opts := []protocol.Option{
		protocol.WithLogger(logger),
		protocol.WithInflationModel(model),
		protocol.WithPeg(cfg.Inflation.Peg),
		protocol.WithCommitter(store),
		protocol.WithEventSink(sinks),
	}

	var poolOpts []connector.PoolOption
	if ps, ok := store.(accounts.PoolStore); ok {
		poolOpts = append(poolOpts, connector.WithPoolStore(ps))
	}

	var (
		watchCache *connector.WatchCache
		pools      *connector.PoolRegistry
		engine     *protocol.Engine
	)
	if cfg.RPC.Endpoint != "" {
		fetcher := connector.NewRPCFetcher(solanarpc.New(cfg.RPC.Endpoint),
			connector.WithCommitment(solanarpc.CommitmentType(cfg.RPC.Commitment)),
			connector.WithRateLimit(cfg.RPC.RateLimit, cfg.RPC.Burst),
			connector.WithRetry(cfg.RPC.MaxTries, cfg.RPC.InitialBackoff),
			connector.WithFetcherLogger(logger),
		)
		var source connector.AccountFetcher = fetcher
		if cfg.Geyser.Enabled {
			watchCache = connector.NewWatchCache(fetcher)
			source = watchCache
		}
		mints := common.NewStaticMintMetadata(connector.MintMetadataFetcher{Fetcher: source})
		whirlpool := connector.NewOrcaWhirlpool(source, mints, cfg.IrmaMintKey())
		observer := connector.NewObserver(logger, metrics,
			connector.NewDlmmPair(source, mints, cfg.IrmaMintKey()),
			whirlpool,
		)
		opts = append(opts, protocol.WithPairObserver(observer))
		engine = protocol.New(opts...)
		pools = connector.NewPoolRegistry(cfg.ProgramKey(), engine, logger, poolOpts...)
		whirlpool.Pools = pools
	} else {
		engine = protocol.New(opts...)
		pools = connector.NewPoolRegistry(cfg.ProgramKey(), engine, logger, poolOpts...)
	}

	restored, err := accounts.Restore(ctx, store, engine)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	restoredPools, err := pools.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore orca pools: %w", err)
	}
	if restoredPools > 0 {
		logger.Info("orca pools restored", zap.Int("count", restoredPools))
	}
	if err := bootstrap(ctx, cfg, engine, restored, logger); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	apiOpts := []httpapi.Option{
		httpapi.WithPools(pools),
		httpapi.WithStore(store),
		httpapi.WithMetrics(metrics),
		httpapi.WithLogger(logger),
		httpapi.WithProgramID(cfg.ProgramKey()),
	}
	if cacheCfg := cfg.CacheConfig(); cacheCfg.Enabled {
		priceCache, err := cache.New(cacheCfg)
		if err != nil {
			return fmt.Errorf("init price cache: %w", err)
		}
		defer priceCache.Close()
		apiOpts = append(apiOpts, httpapi.WithCache(priceCache))
	}
	server := httpapi.NewServer(engine, apiOpts...)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	g.Go(func() error { return httpapi.Serve(ctx, srv, logger) })

	if cfg.Intake.Enabled {
		intakeCfg, err := cfg.IntakeConfig()
		if err != nil {
			return err
		}
		svc, err := intake.New(intakeCfg, engine,
			intake.WithMetricsRegisterer(registry, registry),
			intake.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("init intake: %w", err)
		}
		g.Go(func() error { return svc.Run(ctx) })
	}

	if cfg.Crank.Enabled {
		worker, err := crank.New(cfg.CrankConfig(), engine, crank.WithMetrics(metrics), crank.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("init crank: %w", err)
		}
		g.Go(func() error { return worker.Run(ctx) })
	}

	if watchCache != nil {
		geyserCfg := cfg.GeyserConfig()
		for _, r := range engine.ListReserves() {
			if !r.Pair.IsZero() {
				geyserCfg.Watch(r.Symbol, r.Pair)
			}
		}
		watcher, err := geyser.NewWatcher(geyserCfg, watchCache, metrics, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(ctx, 0) })
	}

	logger.Info("engine running",
		zap.Bool("restored", restored),
		zap.Uint64("revision", engine.Revision()),
		zap.String("http", cfg.HTTP.Addr),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("intake", cfg.Intake.Enabled),
		zap.Bool("crank", cfg.Crank.Enabled),
		zap.Bool("geyser", watchCache != nil))
	return g.Wait()
}

func openStore(cfg *config.Config) (accounts.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		store, err := accounts.NewRedisStore(cfg.RedisStoreConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return accounts.NewMemoryStore(), func() {}, nil
	}
}

// bootstrap initializes a fresh engine with the configured admin and seeds
// the manifest. A restored engine keeps its admin.
func bootstrap(ctx context.Context, cfg *config.Config, engine *protocol.Engine, restored bool, logger *zap.Logger) error {
	admin := engine.Admin()
	if !restored || admin.IsZero() {
		admin = cfg.AdminKey()
		if admin.IsZero() {
			logger.Warn("no admin configured, engine waits for POST /v1/initialize")
			return nil
		}
		if err := engine.Initialize(ctx, admin); err != nil && !errors.Is(err, protocol.ErrAlreadyInitialized) {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	if cfg.Manifest == "" {
		return nil
	}
	manifest, err := config.LoadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	if configured := cfg.AdminKey(); !configured.IsZero() && !configured.Equals(admin) {
		logger.Warn("configured admin differs from restored admin, manifest applied as restored admin",
			zap.String("admin", admin.String()))
	}
	return manifest.Apply(ctx, engine, admin, logger)
}
