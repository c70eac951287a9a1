package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codyseavey/albion-tracker/internal/models"
	"github.com/codyseavey/albion-tracker/internal/store"
)

var testCities = []models.City{models.CityCaerleon, models.CityMartlock}

// fakeFetcher serves canned prices and records how often each item was requested
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string]map[models.City][2]int64 // item -> city -> {buy, sell}
	calls map[string]int
	block chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data: map[string]map[models.City][2]int64{
			"T1_ROCK":  {models.CityCaerleon: {100, 150}, models.CityMartlock: {90, 200}},
			"T3_ORE":   {models.CityCaerleon: {50, 40}},
			"T4_BAG":   {models.CityCaerleon: {1000, 1300}, models.CityMartlock: {1100, 1200}},
			"T4_CAPE":  {models.CityMartlock: {0, 800}},
			"T5_SWORD": {},
		},
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchPrices(ctx context.Context, itemIDs []string, cities []models.City) ([]models.ItemPrice, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := itemIDs[0]
	f.calls[id]++

	var out []models.ItemPrice
	for _, city := range cities {
		p, ok := f.data[id][city]
		if !ok {
			continue
		}
		out = append(out, models.ItemPrice{UniqueName: id, City: city, BuyPriceMax: p[0], SellPriceMin: p[1]})
	}
	if len(out) == 0 {
		return nil, ErrNoMarketData
	}
	return out, nil
}

func (f *fakeFetcher) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// failingPrices rejects writes for one item
type failingPrices struct {
	store.PriceStore
	failFor string
}

func (f *failingPrices) Upsert(ctx context.Context, p *models.ItemPrice) error {
	if p.UniqueName == f.failFor {
		return errors.New("disk I/O error")
	}
	return f.PriceStore.Upsert(ctx, p)
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	items := []models.CatalogItem{
		{UniqueName: "T1_ROCK", Index: 1, LocalizedNames: map[string]string{models.LocaleEnglish: "Rough Stone"}},
		{UniqueName: "T2_WOOD", Index: 2},
		{UniqueName: "T3_ORE", Index: 3},
		{UniqueName: "T4_BAG", Index: 4, LocalizedNames: map[string]string{models.LocaleEnglish: "Adept's Bag"}},
		{UniqueName: "T4_CAPE", Index: 5},
		{UniqueName: "T5_SWORD", Index: 6},
	}
	catalog, err := NewCatalog(items, nil)
	require.NoError(t, err)
	return catalog
}

func testStores(t *testing.T) *store.Stores {
	t.Helper()
	stores, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func newTestWorker(t *testing.T, fetcher PriceFetcher, stores *store.Stores, cfg IngestConfig) *IngestWorker {
	t.Helper()
	if cfg.Cities == nil {
		cfg.Cities = testCities
	}
	return NewIngestWorker(fetcher, testCatalog(t), stores, cfg)
}

// dumpPrices returns "item|city" -> "buy/sell" for every stored row
func dumpPrices(t *testing.T, prices store.PriceStore) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := prices.Scan(context.Background(), func(p models.ItemPrice) error {
		out[p.UniqueName+"|"+string(p.City)] = fmt.Sprintf("%d/%d %s #%d", p.BuyPriceMax, p.SellPriceMin, p.ItemName, p.ItemIndex)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRunBatchSkipsBlacklistedAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	fetcher := newFakeFetcher()
	require.NoError(t, stores.Blacklist.Add(ctx, "T2_WOOD", "manual"))

	worker := newTestWorker(t, fetcher, stores, IngestConfig{BatchSize: 2})
	result, err := worker.RunBatch(ctx)
	require.NoError(t, err)

	require.Equal(t, 0, result.StartCursor)
	require.Equal(t, 4, result.EndCursor)
	require.Equal(t, 2, result.ItemsProcessed)
	require.Equal(t, 1, result.ItemsSkipped)
	require.False(t, result.ReachedEnd)
	require.NotEmpty(t, result.RunID)

	cursor, err := stores.Progress.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, cursor)

	require.Zero(t, fetcher.callsFor("T2_WOOD"))
	require.Equal(t, 2, fetcher.callsFor("T1_ROCK"), "one call per city")

	rows := dumpPrices(t, stores.Prices)
	require.Equal(t, map[string]string{
		"T1_ROCK|Caerleon": "100/150 Rough Stone #1",
		"T1_ROCK|Martlock": "90/200 Rough Stone #1",
		"T3_ORE|Caerleon":  "50/40 T3_ORE #3",
	}, rows)
}

func TestRunBatchBlacklistsItemsWithoutData(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	fetcher := newFakeFetcher()
	worker := newTestWorker(t, fetcher, stores, IngestConfig{BatchSize: 30})

	result, err := worker.RunBatch(ctx)
	require.NoError(t, err)
	require.True(t, result.ReachedEnd)
	require.Equal(t, 7, result.EndCursor)
	// T2_WOOD is unknown to the API and T5_SWORD has no orders anywhere
	require.Equal(t, 2, result.ItemsBlacklisted)

	names, err := stores.Blacklist.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "T2_WOOD")
	require.Contains(t, names, "T5_SWORD")
	require.NotContains(t, names, "T4_CAPE", "an item with data in one city is not blacklisted")

	require.NoError(t, worker.ResetCursor(ctx))
	_, err = worker.RunBatch(ctx)
	require.NoError(t, err)

	require.Equal(t, len(testCities), fetcher.callsFor("T5_SWORD"), "blacklisted items are never fetched again")
	require.Equal(t, 2*len(testCities), fetcher.callsFor("T4_BAG"))
}

func TestRunBatchRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 30})

	_, err := worker.RunBatch(ctx)
	require.NoError(t, err)
	first := dumpPrices(t, stores.Prices)

	require.NoError(t, worker.ResetCursor(ctx))
	_, err = worker.RunBatch(ctx)
	require.NoError(t, err)

	require.Equal(t, first, dumpPrices(t, stores.Prices))
	require.Len(t, first, 6)
}

func TestRunBatchHoldsCursorOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	base := testStores(t)
	stores := &store.Stores{
		Blacklist: base.Blacklist,
		Progress:  base.Progress,
		Prices:    &failingPrices{PriceStore: base.Prices, failFor: "T3_ORE"},
	}
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 30})

	result, err := worker.RunBatch(ctx)
	require.NoError(t, err, "write failures do not abort the run")
	require.Equal(t, 1, result.PersistenceErrors)
	require.Equal(t, 3, result.EndCursor)
	require.False(t, result.ReachedEnd)

	cursor, err := base.Progress.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, cursor, "cursor stays on the first failed item")

	// later items were still processed
	rows := dumpPrices(t, base.Prices)
	require.Contains(t, rows, "T4_BAG|Martlock")
	require.NotContains(t, rows, "T3_ORE|Caerleon")
}

func TestRunBatchAtEndOfCatalog(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	fetcher := newFakeFetcher()
	require.NoError(t, stores.Progress.Set(ctx, 7))

	worker := newTestWorker(t, fetcher, stores, IngestConfig{})
	result, err := worker.RunBatch(ctx)
	require.NoError(t, err)

	require.True(t, result.ReachedEnd)
	require.Zero(t, result.ItemsProcessed)
	require.Equal(t, 7, result.EndCursor, "the cursor never wraps")
	require.Empty(t, fetcher.calls)
}

func TestRunBatchFetchModes(t *testing.T) {
	tests := []struct {
		name          string
		cfg           IngestConfig
		callsPerItems int
	}{
		{"sequential", IngestConfig{BatchSize: 30}, 2},
		{"concurrent cities", IngestConfig{BatchSize: 30, LocationConcurrency: 4}, 2},
		{"single request", IngestConfig{BatchSize: 30, BatchLocations: true}, 1},
	}

	var reference map[string]string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := testStores(t)
			fetcher := newFakeFetcher()
			worker := newTestWorker(t, fetcher, stores, tt.cfg)

			_, err := worker.RunBatch(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.callsPerItems, fetcher.callsFor("T4_BAG"))

			rows := dumpPrices(t, stores.Prices)
			if reference == nil {
				reference = rows
			}
			require.Equal(t, reference, rows)
		})
	}
}

func TestRunBatchCallDelay(t *testing.T) {
	stores := testStores(t)
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 1, CallDelay: 1500 * time.Millisecond})

	var delays []time.Duration
	worker.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := worker.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, delays)
}

func TestTriggerRejectsOverlappingRun(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	worker := newTestWorker(t, fetcher, stores, IngestConfig{BatchSize: 1})

	done := make(chan *RunResult, 1)
	worker.OnRunComplete(func(r *RunResult) { done <- r })

	require.True(t, worker.Trigger(ctx))
	require.False(t, worker.Trigger(ctx))

	_, err := worker.RunBatch(ctx)
	require.ErrorIs(t, err, ErrRunInProgress)
	require.ErrorIs(t, worker.ResetCursor(ctx), ErrRunInProgress)

	close(fetcher.block)
	select {
	case result := <-done:
		require.Equal(t, 1, result.ItemsProcessed)
	case <-time.After(5 * time.Second):
		t.Fatal("triggered run did not finish")
	}

	require.Eventually(t, func() bool { return !worker.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestRunBatchCancelledLeavesCursorOnItem(t *testing.T) {
	stores := testStores(t)
	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	worker := newTestWorker(t, fetcher, stores, IngestConfig{BatchSize: 30})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := worker.RunBatch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, result.ItemsProcessed)

	cursor, err := stores.Progress.Get(context.Background())
	require.NoError(t, err)
	require.Zero(t, cursor)

	names, err := stores.Blacklist.Snapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, names, "cancelled fetches never blacklist")
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 2, Interval: time.Minute})

	status, err := worker.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, StateIdle, status.State)
	require.Equal(t, 6, status.CatalogSize)
	require.Equal(t, 7, status.CatalogEnd)
	require.Nil(t, status.LastRun)

	result, err := worker.RunBatch(ctx)
	require.NoError(t, err)

	status, err = worker.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, result.EndCursor, status.Cursor)
	require.Equal(t, 1, status.RunsCompleted)
	require.True(t, status.NextRunTime.IsZero(), "no schedule until Start")
	require.Equal(t, []string{"Caerleon", "Martlock"}, status.Cities)
}

func TestRunBatchOfThreeWithEmptyMiddleItem(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 3})

	result, err := worker.RunBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, result.ItemsProcessed)

	cursor, err := stores.Progress.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, cursor, "cursor points past item 3")

	names, err := stores.Blacklist.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"T2_WOOD": {}}, names)

	rows := dumpPrices(t, stores.Prices)
	require.Contains(t, rows, "T1_ROCK|Caerleon")
	require.Contains(t, rows, "T3_ORE|Caerleon")
}

func TestRunBatchMovesPastItemAfterRepeatedWriteFailures(t *testing.T) {
	ctx := context.Background()
	base := testStores(t)
	stores := &store.Stores{
		Blacklist: base.Blacklist,
		Progress:  base.Progress,
		Prices:    &failingPrices{PriceStore: base.Prices, failFor: "T1_ROCK"},
	}
	fetcher := newFakeFetcher()
	worker := newTestWorker(t, fetcher, stores, IngestConfig{BatchSize: 2, MaxHeldRuns: 3})

	var results []*RunResult
	for i := 0; i < 20; i++ {
		result, err := worker.RunBatch(ctx)
		require.NoError(t, err)
		results = append(results, result)
		if result.ReachedEnd {
			break
		}
	}

	last := results[len(results)-1]
	require.True(t, last.ReachedEnd, "ingestion must not stall on one item")
	require.Len(t, results, 5)

	// held on T1_ROCK for two runs, then moved past it
	require.Equal(t, 1, results[0].EndCursor)
	require.Equal(t, 1, results[1].EndCursor)
	require.Equal(t, 1, results[2].ItemsAbandoned)
	require.Greater(t, results[2].EndCursor, 1)

	require.Equal(t, 3*len(testCities), fetcher.callsFor("T1_ROCK"))
	require.Equal(t, len(testCities), fetcher.callsFor("T4_BAG"))

	status, err := worker.GetStatus(ctx)
	require.NoError(t, err)
	require.Empty(t, status.HeldItems)
}

func TestGetStatusReportsHeldItems(t *testing.T) {
	ctx := context.Background()
	base := testStores(t)
	stores := &store.Stores{
		Blacklist: base.Blacklist,
		Progress:  base.Progress,
		Prices:    &failingPrices{PriceStore: base.Prices, failFor: "T3_ORE"},
	}
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 30})

	_, err := worker.RunBatch(ctx)
	require.NoError(t, err)

	status, err := worker.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"T3_ORE": 1}, status.HeldItems)

	require.NoError(t, worker.ResetCursor(ctx))
	status, err = worker.GetStatus(ctx)
	require.NoError(t, err)
	require.Empty(t, status.HeldItems)
}

// gatedProgress blocks Set until release is closed
type gatedProgress struct {
	store.ProgressStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProgress) Set(ctx context.Context, index int) error {
	close(g.entered)
	<-g.release
	return g.ProgressStore.Set(ctx, index)
}

func TestResetCursorExcludesRuns(t *testing.T) {
	ctx := context.Background()
	base := testStores(t)
	gate := &gatedProgress{ProgressStore: base.Progress, entered: make(chan struct{}), release: make(chan struct{})}
	stores := &store.Stores{Blacklist: base.Blacklist, Progress: gate, Prices: base.Prices}
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 1})

	errc := make(chan error, 1)
	go func() { errc <- worker.ResetCursor(ctx) }()
	<-gate.entered

	require.False(t, worker.Trigger(ctx), "no run may start while the cursor is being reset")
	_, err := worker.RunBatch(ctx)
	require.ErrorIs(t, err, ErrRunInProgress)

	close(gate.release)
	require.NoError(t, <-errc)
	require.False(t, worker.IsRunning())

	// The gate only opens once; run against the plain store afterwards
	worker.progress = base.Progress
	result, err := worker.RunBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsProcessed)
}

func TestNextRunTimeFollowsTicker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores := testStores(t)
	worker := newTestWorker(t, newFakeFetcher(), stores, IngestConfig{BatchSize: 1, Interval: time.Hour})

	before := time.Now()
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	var scheduled time.Time
	require.Eventually(t, func() bool {
		status, err := worker.GetStatus(context.Background())
		if err != nil {
			return false
		}
		scheduled = status.NextRunTime
		return !scheduled.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	require.WithinDuration(t, before.Add(time.Hour), scheduled, 5*time.Second)

	// A manual run does not move the schedule
	_, err := worker.RunBatch(context.Background())
	require.NoError(t, err)
	status, err := worker.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, scheduled, status.NextRunTime)

	cancel()
	<-done
	status, err = worker.GetStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.NextRunTime.IsZero())
}
