package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/subletwatch/subletwatch/internal/cost"
	"github.com/subletwatch/subletwatch/internal/detect"
	"github.com/subletwatch/subletwatch/internal/geocode"
	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/internal/scheduler"
	"github.com/subletwatch/subletwatch/internal/scrape"
	"github.com/subletwatch/subletwatch/internal/store"
	"github.com/subletwatch/subletwatch/pkg/postcodes"
	"github.com/subletwatch/subletwatch/pkg/scrapingbee"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "subletwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// scanEnv bundles everything a scanning command needs.
type scanEnv struct {
	Store      store.Store
	Scheduler  *scheduler.Scheduler
	Calculator *cost.Calculator
	Platforms  []model.Platform
}

func (e *scanEnv) Close() {
	e.Store.Close() //nolint:errcheck
}

// initScanEnv opens the store, runs migrations, and wires the full scan
// pipeline: geocoder, strategy executor, detector, and scheduler.
func initScanEnv(ctx context.Context) (*scanEnv, error) {
	if err := cfg.Validate("scan"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	platforms, err := parsePlatforms(cfg.Scan.Platforms)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	profiles := scrape.DefaultProfiles()
	if cfg.ScrapingBee.ProfilesPath != "" {
		data, err := os.ReadFile(cfg.ScrapingBee.ProfilesPath)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "read profiles file")
		}
		profiles, err = scrape.LoadProfiles(data)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
	}

	sbClient := scrapingbee.NewClient(cfg.ScrapingBee.Key, scrapingbee.WithBaseURL(cfg.ScrapingBee.BaseURL))
	pcClient := postcodes.NewClient(postcodes.WithBaseURL(cfg.Postcodes.BaseURL))

	resolver := geocode.NewResolver(pcClient,
		geocode.WithCache(st),
		geocode.WithConcurrency(cfg.Postcodes.Concurrency),
	)

	calc := cost.NewCalculator(cost.DefaultRates())

	execCfg := scrape.DefaultExecutorConfig()
	execCfg.CountryCode = cfg.ScrapingBee.CountryCode
	execCfg.RequestsPerSecond = cfg.ScrapingBee.RequestsPerSecond
	if cfg.Scan.InterStrategySecs > 0 {
		execCfg.InterStrategyDelay = time.Duration(cfg.Scan.InterStrategySecs) * time.Second
	}
	detector := detect.New(cfg.Scan.ContentPreviewLen)
	executor := scrape.NewExecutor(sbClient, detector, profiles, calc, execCfg)

	sched := scheduler.New(st, resolver, executor, scheduler.Config{
		ChunkSize:   cfg.Scan.ChunkSize,
		Platforms:   platforms,
		Concurrency: cfg.Scan.Concurrency,
		ChunkPace:   time.Duration(cfg.Scan.ChunkPaceSecs) * time.Second,
	})

	return &scanEnv{
		Store:      st,
		Scheduler:  sched,
		Calculator: calc,
		Platforms:  platforms,
	}, nil
}

func parsePlatforms(names []string) ([]model.Platform, error) {
	if len(names) == 0 {
		return model.AllPlatforms(), nil
	}
	out := make([]model.Platform, 0, len(names))
	for _, name := range names {
		p, ok := model.ParsePlatform(name)
		if !ok {
			return nil, eris.Errorf("unknown platform: %s", name)
		}
		out = append(out, p)
	}
	return out, nil
}
