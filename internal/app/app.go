// Package app builds the collector's object graph from a Config.
// The server and the CLI share it so they behave identically.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/codyseavey/albion-tracker/internal/config"
	"github.com/codyseavey/albion-tracker/internal/services"
	"github.com/codyseavey/albion-tracker/internal/store"
)

type App struct {
	Config  *config.Config
	Stores  *store.Stores
	Catalog *services.Catalog
	Client  *services.AlbionClient
	Worker  *services.IngestWorker
	Profit  *services.ProfitService
}

// New opens the stores and loads the catalog. Either failing is fatal.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	catalog, err := services.LoadCatalog(cfg.CatalogPath, cfg.Locales)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	log.Printf("Loaded %d catalog items from %s", catalog.Len(), cfg.CatalogPath)

	limiter := services.NewRateLimiter(cfg.RateLimit, cfg.RatePeriod)
	client := services.NewAlbionClient(cfg.AlbionBaseURL, limiter, services.RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.BackoffBase,
		RateLimitCooldown: cfg.RateLimitCooldown,
	}, cfg.RequestTimeout)
	log.Printf("Albion client: %s against %s", limiter, cfg.AlbionBaseURL)

	worker := services.NewIngestWorker(client, catalog, stores, services.IngestConfig{
		Cities:              cfg.Cities(),
		BatchSize:           cfg.BatchSize,
		CallDelay:           cfg.CallDelay,
		BatchLocations:      cfg.BatchLocations,
		LocationConcurrency: cfg.LocationConcurrency,
		Interval:            cfg.IngestInterval,
		RunOnStartup:        cfg.IngestOnStartup,
		MaxHeldRuns:         cfg.MaxHeldRuns,
	})

	profit := services.NewProfitService(stores.Prices, cfg.ProfitCacheTTL)
	worker.OnRunComplete(func(*services.RunResult) { profit.Purge() })

	return &App{
		Config:  cfg,
		Stores:  stores,
		Catalog: catalog,
		Client:  client,
		Worker:  worker,
		Profit:  profit,
	}, nil
}

// OpenStores picks Postgres when DATABASE_URL is set, SQLite otherwise
func OpenStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	if cfg.DatabaseURL != "" {
		stores, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		log.Println("Using Postgres store")
		return stores, nil
	}

	stores, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	log.Printf("Using SQLite store at %s", cfg.DBPath)
	return stores, nil
}

// Close releases the stores
func (a *App) Close() error {
	return a.Stores.Close()
}
