package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/albion-tracker/internal/metrics"
	"github.com/codyseavey/albion-tracker/internal/models"
	"github.com/codyseavey/albion-tracker/internal/store"
)

// Constants for ingest worker configuration
const (
	// defaultIngestBatchSize is the number of catalog items fetched per run
	defaultIngestBatchSize = 30
	defaultIngestInterval  = 15 * time.Minute
	defaultMaxHeldRuns     = 3

	blacklistReasonNoData = "no market data in any city"
)

// ErrRunInProgress is returned when a batch is requested while another one runs in this process
var ErrRunInProgress = errors.New("ingestion run already in progress")

// PriceFetcher fetches observations for items in a set of cities
type PriceFetcher interface {
	FetchPrices(ctx context.Context, itemIDs []string, cities []models.City) ([]models.ItemPrice, error)
}

// IngestState is the worker's position in the run state machine
type IngestState string

const (
	StateIdle         IngestState = "idle"
	StateLoading      IngestState = "loading"
	StateProcessing   IngestState = "processing"
	StateSaving       IngestState = "saving"
	StateBlacklisting IngestState = "blacklisting"
	StateAdvancing    IngestState = "advancing"
	StateDone         IngestState = "done"
)

// IngestConfig controls pacing and batch size
type IngestConfig struct {
	Cities    []models.City
	BatchSize int
	// CallDelay is an extra fixed pause after every API call, on top of the rate limiter
	CallDelay time.Duration
	// BatchLocations requests all cities of an item in a single API call
	BatchLocations bool
	// LocationConcurrency > 1 fetches the cities of one item in parallel
	LocationConcurrency int
	Interval            time.Duration
	RunOnStartup        bool
	// MaxHeldRuns is how many runs in a row the cursor waits on an item whose
	// writes fail before the worker moves past it
	MaxHeldRuns int
}

// RunResult summarizes one ingestion batch
type RunResult struct {
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	StartCursor       int       `json:"start_cursor"`
	EndCursor         int       `json:"end_cursor"`
	ItemsProcessed    int       `json:"items_processed"`
	ItemsSkipped      int       `json:"items_skipped"`
	ItemsBlacklisted  int       `json:"items_blacklisted"`
	ObservationsSaved int       `json:"observations_saved"`
	PersistenceErrors int       `json:"persistence_errors"`
	ItemsAbandoned    int       `json:"items_abandoned"`
	ReachedEnd        bool      `json:"reached_end"`
	Error             string    `json:"error,omitempty"`
}

// IngestStatus is the worker state exposed over the API
type IngestStatus struct {
	State          IngestState    `json:"state"`
	Running        bool           `json:"running"`
	CurrentItem    string         `json:"current_item,omitempty"`
	Cursor         int            `json:"cursor"`
	CatalogSize    int            `json:"catalog_size"`
	CatalogEnd     int            `json:"catalog_end"`
	BatchSize      int            `json:"batch_size"`
	Cities         []string       `json:"cities"`
	RunsCompleted  int            `json:"runs_completed"`
	LastRun        *RunResult     `json:"last_run,omitempty"`
	NextRunTime    time.Time      `json:"next_run_time,omitempty"`
	HeldItems      map[string]int `json:"held_items,omitempty"`
	RequestsMade   int            `json:"requests_made"`
	LastRequestAt  time.Time      `json:"last_request_at,omitempty"`
	RateLimitAvail float64        `json:"rate_limit_available"`
}

// IngestWorker walks the catalog from the saved cursor, fetches prices for
// every city, upserts them and advances the cursor one item at a time.
// Items with no data in any city are blacklisted and never fetched again.
type IngestWorker struct {
	fetcher   PriceFetcher
	catalog   *Catalog
	blacklist store.BlacklistStore
	progress  store.ProgressStore
	prices    store.PriceStore
	cfg       IngestConfig
	sleep     func(ctx context.Context, d time.Duration) error

	running atomic.Bool

	mu            sync.RWMutex
	state         IngestState
	currentItem   string
	lastRun       *RunResult
	runsCompleted int
	nextRun       time.Time
	heldRuns      map[string]int // item -> consecutive runs with failed writes
	onComplete    []func(*RunResult)
}

func NewIngestWorker(fetcher PriceFetcher, catalog *Catalog, stores *store.Stores, cfg IngestConfig) *IngestWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultIngestBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultIngestInterval
	}
	if cfg.LocationConcurrency <= 0 {
		cfg.LocationConcurrency = 1
	}
	if len(cfg.Cities) == 0 {
		cfg.Cities = models.AllCities()
	}
	if cfg.MaxHeldRuns <= 0 {
		cfg.MaxHeldRuns = defaultMaxHeldRuns
	}

	metrics.CatalogSize.Set(float64(catalog.Len()))

	return &IngestWorker{
		fetcher:   fetcher,
		catalog:   catalog,
		blacklist: stores.Blacklist,
		progress:  stores.Progress,
		prices:    stores.Prices,
		cfg:       cfg,
		sleep:     sleepContext,
		state:     StateIdle,
		heldRuns:  make(map[string]int),
	}
}

// OnRunComplete registers fn to be called after every finished run
func (w *IngestWorker) OnRunComplete(fn func(*RunResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onComplete = append(w.onComplete, fn)
}

// Start runs a batch on startup (if configured) and then every Interval until ctx is done
func (w *IngestWorker) Start(ctx context.Context) {
	log.Printf("Ingest worker started: will fetch %d items in %d cities every %v",
		w.cfg.BatchSize, len(w.cfg.Cities), w.cfg.Interval)

	if w.cfg.RunOnStartup {
		w.runScheduled(ctx)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.setNextRun(time.Now().Add(w.cfg.Interval))
	defer w.setNextRun(time.Time{})

	for {
		select {
		case <-ctx.Done():
			log.Println("Ingest worker stopping...")
			return
		case tick := <-ticker.C:
			w.setNextRun(tick.Add(w.cfg.Interval))
			w.runScheduled(ctx)
		}
	}
}

func (w *IngestWorker) runScheduled(ctx context.Context) {
	result, err := w.RunBatch(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		log.Println("Ingest worker: previous run still in progress, skipping tick")
	case err != nil:
		log.Printf("Ingest worker: batch failed: %v", err)
	case result.ItemsProcessed > 0 || result.ItemsSkipped > 0:
		log.Printf("Ingest worker: batch processed %d items (cursor %d -> %d)",
			result.ItemsProcessed, result.StartCursor, result.EndCursor)
	}
}

// Trigger starts a run in the background. Returns false if one is already running.
func (w *IngestWorker) Trigger(ctx context.Context) bool {
	if !w.running.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer w.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in ingest run: %v", r)
				w.setState(StateIdle, "")
			}
		}()

		if _, err := w.runBatch(ctx); err != nil {
			log.Printf("Ingest worker: triggered batch failed: %v", err)
		}
	}()
	return true
}

// RunBatch processes up to BatchSize catalog items starting at the saved cursor.
// Per-item failures never abort the run; only loading the cursor or the
// blacklist (fatal) or cancellation of ctx return an error.
func (w *IngestWorker) RunBatch(ctx context.Context) (*RunResult, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer w.running.Store(false)

	return w.runBatch(ctx)
}

func (w *IngestWorker) runBatch(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}
	defer w.finishRun(result, start)

	w.setState(StateLoading, "")

	cursor, err := w.progress.Get(ctx)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("load cursor: %w", err)
	}
	// The blacklist is read once per run; names added below are tracked in this snapshot
	blacklisted, err := w.blacklist.Snapshot(ctx)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("load blacklist: %w", err)
	}

	result.StartCursor = cursor
	result.EndCursor = cursor
	metrics.CursorIndex.Set(float64(cursor))

	log.Printf("Ingest worker: run %s starting at index %d (%d blacklisted items)",
		result.RunID, cursor, len(blacklisted))

	// hold is the index of the first item whose writes failed; the cursor never passes it
	hold := -1

	for _, item := range w.catalog.From(cursor) {
		if result.ItemsProcessed >= w.cfg.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result, err
		}

		if _, ok := blacklisted[item.UniqueName]; ok {
			result.ItemsSkipped++
			w.advance(ctx, result, item, hold)
			continue
		}

		w.setState(StateProcessing, item.UniqueName)
		observations, err := w.fetchItem(ctx, item)
		if err != nil {
			// Cancelled mid-item: keep whatever was committed and leave the cursor on this item
			result.Error = err.Error()
			return result, err
		}
		result.ItemsProcessed++
		metrics.ItemsProcessedTotal.Inc()

		if len(observations) == 0 {
			w.setState(StateBlacklisting, item.UniqueName)
			log.Printf("Ingest worker: no data for %s in any city, adding to blacklist", item.UniqueName)
			if err := w.blacklist.Add(ctx, item.UniqueName, blacklistReasonNoData); err != nil {
				log.Printf("Ingest worker: failed to blacklist %s: %v", item.UniqueName, err)
				metrics.PersistenceErrorsTotal.WithLabelValues("blacklist").Inc()
				result.PersistenceErrors++
				w.holdOrAbandon(result, item, &hold)
			} else {
				w.clearHeld(item.UniqueName)
				blacklisted[item.UniqueName] = struct{}{}
				result.ItemsBlacklisted++
				metrics.ItemsBlacklistedTotal.Inc()
			}
		} else {
			w.setState(StateSaving, item.UniqueName)
			if failed := w.saveObservations(ctx, result, item, observations); failed {
				w.holdOrAbandon(result, item, &hold)
			} else {
				w.clearHeld(item.UniqueName)
			}
		}

		w.advance(ctx, result, item, hold)
	}

	if result.EndCursor >= w.catalog.EndIndex() {
		result.ReachedEnd = true
		log.Printf("Ingest worker: reached the end of the catalog at index %d; reset the cursor to start over",
			result.EndCursor)
	}
	return result, nil
}

// fetchItem collects observations for item across all configured cities.
// Failures are per city and only logged; an error is returned only when ctx is done.
func (w *IngestWorker) fetchItem(ctx context.Context, item models.CatalogItem) ([]models.ItemPrice, error) {
	if w.cfg.BatchLocations {
		prices, err := w.fetch(ctx, item, w.cfg.Cities)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			w.logFetchError(item, "all cities", err)
		}
		return prices, nil
	}

	results := make([][]models.ItemPrice, len(w.cfg.Cities))

	if w.cfg.LocationConcurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.LocationConcurrency)
		for i, city := range w.cfg.Cities {
			i, city := i, city
			g.Go(func() error {
				prices, err := w.fetch(gctx, item, []models.City{city})
				if err != nil && gctx.Err() == nil {
					w.logFetchError(item, string(city), err)
				}
				results[i] = prices
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, city := range w.cfg.Cities {
			prices, err := w.fetch(ctx, item, []models.City{city})
			if ctx.Err() != nil {
				break
			}
			if err != nil {
				w.logFetchError(item, string(city), err)
			}
			results[i] = prices
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var observations []models.ItemPrice
	for _, prices := range results {
		observations = append(observations, prices...)
	}
	return observations, nil
}

// fetch performs one API call for item and applies the fixed call delay
func (w *IngestWorker) fetch(ctx context.Context, item models.CatalogItem, cities []models.City) ([]models.ItemPrice, error) {
	prices, err := w.fetcher.FetchPrices(ctx, []string{item.UniqueName}, cities)

	if w.cfg.CallDelay > 0 {
		if sleepErr := w.sleep(ctx, w.cfg.CallDelay); sleepErr != nil && err == nil {
			err = sleepErr
		}
	}
	if err != nil {
		return nil, err
	}

	// Ignore rows for items or cities we did not ask for
	wanted := make(map[models.City]bool, len(cities))
	for _, c := range cities {
		wanted[c] = true
	}
	kept := prices[:0]
	for _, p := range prices {
		if p.UniqueName == item.UniqueName && wanted[p.City] {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func (w *IngestWorker) logFetchError(item models.CatalogItem, where string, err error) {
	if errors.Is(err, ErrNoMarketData) {
		log.Printf("Ingest worker: no data for %s in %s", item.UniqueName, where)
		return
	}
	log.Printf("Ingest worker: failed to fetch %s in %s: %v", item.UniqueName, where, err)
}

// saveObservations upserts each row independently. Returns true if any write failed.
func (w *IngestWorker) saveObservations(ctx context.Context, result *RunResult, item models.CatalogItem, observations []models.ItemPrice) bool {
	failed := false
	now := time.Now().UTC()
	name := w.catalog.DisplayName(item)

	for i := range observations {
		obs := &observations[i]
		obs.ItemName = name
		obs.ItemIndex = int(item.Index)
		obs.LastSavedAt = now

		if err := w.prices.Upsert(ctx, obs); err != nil {
			log.Printf("Ingest worker: failed to save %s in %s: %v", obs.UniqueName, obs.City, err)
			metrics.PersistenceErrorsTotal.WithLabelValues("prices").Inc()
			result.PersistenceErrors++
			failed = true
			continue
		}
		result.ObservationsSaved++
		metrics.ObservationsUpsertedTotal.Inc()
		log.Printf("Ingest worker: %s (%s) in %s: buy max %d, sell min %d",
			name, obs.UniqueName, obs.City, obs.BuyPriceMax, obs.SellPriceMin)
	}
	return failed
}

// holdOrAbandon keeps the cursor on item so the next run retries its writes,
// unless the item has already been held for MaxHeldRuns runs in a row
func (w *IngestWorker) holdOrAbandon(result *RunResult, item models.CatalogItem, hold *int) {
	w.mu.Lock()
	w.heldRuns[item.UniqueName]++
	runs := w.heldRuns[item.UniqueName]
	abandon := runs >= w.cfg.MaxHeldRuns
	if abandon {
		delete(w.heldRuns, item.UniqueName)
	}
	w.mu.Unlock()

	if abandon {
		log.Printf("Ingest worker: writes for %s failed in %d runs in a row, moving past it", item.UniqueName, runs)
		metrics.PersistenceErrorsTotal.WithLabelValues("abandoned").Inc()
		result.ItemsAbandoned++
		return
	}
	if *hold < 0 {
		*hold = int(item.Index)
	}
}

func (w *IngestWorker) clearHeld(uniqueName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.heldRuns, uniqueName)
}

// advance moves the cursor past item unless an earlier item in this run is being held
func (w *IngestWorker) advance(ctx context.Context, result *RunResult, item models.CatalogItem, hold int) {
	w.setState(StateAdvancing, item.UniqueName)

	next := int(item.Index) + 1
	if hold >= 0 && hold < next {
		next = hold
	}
	if next <= result.EndCursor {
		return
	}

	if err := w.progress.Set(ctx, next); err != nil {
		// The next item's write supersedes this one
		log.Printf("Ingest worker: failed to save cursor %d: %v", next, err)
		metrics.PersistenceErrorsTotal.WithLabelValues("progress").Inc()
		result.PersistenceErrors++
		return
	}
	result.EndCursor = next
	metrics.CursorIndex.Set(float64(next))
}

func (w *IngestWorker) finishRun(result *RunResult, start time.Time) {
	result.FinishedAt = time.Now()
	metrics.RunDuration.Observe(time.Since(start).Seconds())

	state := StateIdle
	if result.ReachedEnd {
		state = StateDone
	}
	w.setState(state, "")

	w.mu.Lock()
	w.lastRun = result
	w.runsCompleted++
	hooks := append([]func(*RunResult){}, w.onComplete...)
	w.mu.Unlock()

	for _, fn := range hooks {
		fn(result)
	}

	log.Printf("Ingest worker: run %s finished in %v: %d processed, %d skipped, %d blacklisted, %d prices saved, %d write errors, %d abandoned",
		result.RunID, time.Since(start).Round(time.Millisecond), result.ItemsProcessed, result.ItemsSkipped,
		result.ItemsBlacklisted, result.ObservationsSaved, result.PersistenceErrors, result.ItemsAbandoned)
}

// ResetCursor moves the cursor back to the start of the catalog.
// This is the only way the cursor ever decreases.
func (w *IngestWorker) ResetCursor(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer w.running.Store(false)

	if err := w.progress.Set(ctx, 0); err != nil {
		return err
	}
	metrics.CursorIndex.Set(0)
	w.setState(StateIdle, "")

	w.mu.Lock()
	clear(w.heldRuns)
	w.mu.Unlock()
	log.Println("Ingest worker: cursor reset to 0")
	return nil
}

func (w *IngestWorker) setState(state IngestState, item string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.currentItem = item
}

func (w *IngestWorker) setNextRun(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextRun = t
}

// IsRunning reports whether a batch is in flight
func (w *IngestWorker) IsRunning() bool {
	return w.running.Load()
}

// GetStatus returns the current status
func (w *IngestWorker) GetStatus(ctx context.Context) (IngestStatus, error) {
	cursor, err := w.progress.Get(ctx)
	if err != nil {
		return IngestStatus{}, err
	}

	cities := make([]string, len(w.cfg.Cities))
	for i, c := range w.cfg.Cities {
		cities[i] = string(c)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	status := IngestStatus{
		State:         w.state,
		Running:       w.running.Load(),
		CurrentItem:   w.currentItem,
		Cursor:        cursor,
		CatalogSize:   w.catalog.Len(),
		CatalogEnd:    w.catalog.EndIndex(),
		BatchSize:     w.cfg.BatchSize,
		Cities:        cities,
		RunsCompleted: w.runsCompleted,
		LastRun:       w.lastRun,
		NextRunTime:   w.nextRun,
	}
	if len(w.heldRuns) > 0 {
		status.HeldItems = make(map[string]int, len(w.heldRuns))
		for name, runs := range w.heldRuns {
			status.HeldItems[name] = runs
		}
	}
	if client, ok := w.fetcher.(*AlbionClient); ok {
		status.RequestsMade, status.LastRequestAt = client.RequestsMade()
		status.RateLimitAvail = client.limiter.Available()
	}
	return status, nil
}
