package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"horse.fit/dailybrief/internal/cli"
	"horse.fit/dailybrief/internal/config"
	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/db"
	"horse.fit/dailybrief/internal/dedup"
	"horse.fit/dailybrief/internal/logging"
	"horse.fit/dailybrief/internal/pipeline"
	"horse.fit/dailybrief/internal/policy"
	"horse.fit/dailybrief/internal/scoring"
	"horse.fit/dailybrief/internal/source"
)

// loadRuntime loads the env file, config and logger shared by every command.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load env: %v\n", err)
			return nil, zerolog.Nop(), false
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), false
	}
	return cfg, logger, true
}

// storeHandle is the configured store plus an optional run ledger and its cleanup.
type storeHandle struct {
	store  daily.Store
	ledger pipeline.RunLedger
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storeHandle, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return storeHandle{}, fmt.Errorf("connect to database: %w", err)
		}
		return storeHandle{
			store:  db.NewDailyStore(pool),
			ledger: db.NewRunLedger(pool),
			close: func() {
				if err := pool.Close(); err != nil {
					logger.Warn().Err(err).Msg("failed to close database pool")
				}
			},
		}, nil
	default:
		return storeHandle{
			store: daily.NewFileStore(cfg.DailyDir, logging.ForComponent(logger, "store")),
			close: func() {},
		}, nil
	}
}

type serviceOptions struct {
	noOracle bool
}

// newService wires policy, catalog, adapters, dedup, scoring and the store into a pipeline.
// The returned cleanup closes the store and any oracle cache connection.
func newService(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts serviceOptions) (*pipeline.Service, func(), error) {
	p, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load policy: %w", err)
	}
	catalog, err := source.LoadCatalog(cfg.SourcesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load sources: %w", err)
	}
	adapters, err := catalog.Adapters(source.NewSnapshotFetcher(cfg.RawDir))
	if err != nil {
		return nil, nil, fmt.Errorf("build source adapters: %w", err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	normalizer, err := dedup.NewCachedNormalizer(cfg.LangDetectEnabled, cfg.NormalizeCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("build normalizer: %w", err)
	}

	scorerOpts := scoring.Options{
		Normalizer:    normalizer,
		Concurrency:   cfg.OracleConcurrency,
		RatePerSecond: cfg.OracleRatePerSecond,
		CallTimeout:   cfg.OracleTimeout,
	}
	if cfg.OracleEnabled && !opts.noOracle {
		scorerOpts.Oracle = scoring.NewLLMOracle(scoring.LLMOptions{
			Endpoint:    cfg.OracleEndpoint,
			Model:       cfg.OracleModel,
			APIKey:      cfg.OracleAPIKey,
			MaxDelta:    p.Scoring.OracleMaxDelta,
			MaxAttempts: cfg.OracleMaxAttempts,
		})

		cache, closeCache, err := openOracleCache(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		scorerOpts.Cache = cache
		closers = append(closers, closeCache)
	}

	handle, err := openStore(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, handle.close)

	svc, err := pipeline.NewService(pipeline.Deps{
		Adapters:      adapters,
		Policy:        p,
		Engine:        dedup.NewEngine(p, normalizer, logging.ForComponent(logger, "dedup")),
		Scorer:        scoring.NewScorer(p, logging.ForComponent(logger, "scoring"), scorerOpts),
		Store:         handle.store,
		Ledger:        handle.ledger,
		Location:      cfg.Location(),
		SourceTimeout: cfg.SourceTimeout,
		Logger:        logging.ForComponent(logger, "pipeline"),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Debug().
		Str("policy_version", p.Version).
		Str("catalog_version", catalog.Version).
		Int("sources", len(adapters)).
		Str("store", cfg.StoreBackend).
		Bool("oracle", scorerOpts.Oracle != nil).
		Msg("pipeline configured")
	return svc, cleanup, nil
}

func openOracleCache(ctx context.Context, cfg *config.Config) (scoring.Cache, func(), error) {
	switch cfg.OracleCache {
	case config.OracleCacheRedis:
		cache, err := scoring.NewRedisCache(ctx, cfg.RedisURL, cfg.OracleCacheTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("oracle cache: %w", err)
		}
		return cache, func() { _ = cache.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
