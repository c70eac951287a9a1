// Package config loads runtime settings from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/codyseavey/albion-tracker/internal/models"
)

// MaxAttemptsLimit bounds MAX_ATTEMPTS
const MaxAttemptsLimit = 10

// Config holds every setting the server and CLI read from the environment
type Config struct {
	// Storage: SQLite by default, Postgres when DATABASE_URL is set
	DBPath      string `env:"DB_PATH" envDefault:"./albion_tracker.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Catalog
	CatalogPath string   `env:"CATALOG_PATH" envDefault:"./items.json"`
	Locales     []string `env:"LOCALES" envSeparator:"," envDefault:"PT-BR,EN-US"`
	Locations   []string `env:"LOCATIONS" envSeparator:","`

	// Albion Online Data API
	AlbionBaseURL     string        `env:"ALBION_BASE_URL" envDefault:"https://west.albion-online-data.com"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	RateLimit         int           `env:"RATE_LIMIT" envDefault:"280"`
	RatePeriod        time.Duration `env:"RATE_PERIOD" envDefault:"300s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase       time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	RateLimitCooldown time.Duration `env:"RATE_LIMIT_COOLDOWN" envDefault:"30s"`

	// Ingestion
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"30"`
	CallDelay           time.Duration `env:"CALL_DELAY" envDefault:"0s"`
	BatchLocations      bool          `env:"BATCH_LOCATIONS" envDefault:"false"`
	LocationConcurrency int           `env:"LOCATION_CONCURRENCY" envDefault:"1"`
	IngestInterval      time.Duration `env:"INGEST_INTERVAL" envDefault:"15m"`
	IngestOnStartup     bool          `env:"INGEST_ON_STARTUP" envDefault:"true"`
	// MaxHeldRuns is how many runs the cursor waits on an item whose writes keep failing
	MaxHeldRuns int `env:"MAX_HELD_RUNS" envDefault:"3"`

	// HTTP
	Port               string        `env:"PORT" envDefault:"8080"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ProfitCacheTTL     time.Duration `env:"PROFIT_CACHE_TTL" envDefault:"1m"`
}

// Load parses the environment into a Config and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the collector cannot run with
func (c *Config) Validate() error {
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit)
	}
	if c.RatePeriod <= 0 {
		return fmt.Errorf("RATE_PERIOD must be positive, got %v", c.RatePeriod)
	}
	if c.MaxAttempts <= 0 || c.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("MAX_ATTEMPTS must be between 1 and %d, got %d", MaxAttemptsLimit, c.MaxAttempts)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.MaxHeldRuns <= 0 {
		return fmt.Errorf("MAX_HELD_RUNS must be positive, got %d", c.MaxHeldRuns)
	}
	if c.LocationConcurrency <= 0 {
		c.LocationConcurrency = 1
	}
	return nil
}

// Cities returns the configured locations, or every known city when none are set
func (c *Config) Cities() []models.City {
	var cities []models.City
	for _, loc := range c.Locations {
		if strings.TrimSpace(loc) == "" {
			continue
		}
		cities = append(cities, models.NormalizeCity(loc))
	}
	if len(cities) == 0 {
		return models.AllCities()
	}
	return cities
}
