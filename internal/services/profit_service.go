package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/codyseavey/albion-tracker/internal/metrics"
	"github.com/codyseavey/albion-tracker/internal/models"
	"github.com/codyseavey/albion-tracker/internal/store"
)

const (
	// MinProfitPercentage is the margin an item must beat to be reported
	MinProfitPercentage = 15.0
	// MaxProfitResults caps the report size
	MaxProfitResults = 100

	defaultProfitCacheTTL = time.Minute
	profitCacheSize       = 16
)

// ComputeProfitSummary picks the most profitable city per item, keeps items whose
// margin is above minPct and returns them sorted by absolute profit.
// Rows missing either a buy or a sell price are ignored.
func ComputeProfitSummary(records []models.ItemPrice, minPct float64, limit int) []models.ProfitSummary {
	best := make(map[string]models.ItemPrice)
	for _, r := range records {
		if r.BuyPriceMax <= 0 || r.SellPriceMin <= 0 {
			continue
		}
		cur, ok := best[r.UniqueName]
		if !ok || r.Profit() > cur.Profit() || (r.Profit() == cur.Profit() && r.City < cur.City) {
			best[r.UniqueName] = r
		}
	}

	summaries := make([]models.ProfitSummary, 0, len(best))
	for _, r := range best {
		pct := r.ProfitPercentage()
		if pct <= minPct {
			continue
		}
		name := r.ItemName
		if name == "" {
			name = r.UniqueName
		}
		summaries = append(summaries, models.ProfitSummary{
			UniqueName:       r.UniqueName,
			ItemName:         name,
			City:             r.City,
			BuyPriceMax:      r.BuyPriceMax,
			SellPriceMin:     r.SellPriceMin,
			Profit:           r.Profit(),
			ProfitPercentage: pct,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Profit != summaries[j].Profit {
			return summaries[i].Profit > summaries[j].Profit
		}
		return summaries[i].UniqueName < summaries[j].UniqueName
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// ProfitService serves the profit report from the price store
type ProfitService struct {
	prices store.PriceStore
	minPct float64
	cache  *expirable.LRU[int, []models.ProfitSummary]
}

// NewProfitService caches reports for ttl; a non-positive ttl uses one minute
func NewProfitService(prices store.PriceStore, ttl time.Duration) *ProfitService {
	if ttl <= 0 {
		ttl = defaultProfitCacheTTL
	}
	return &ProfitService{
		prices: prices,
		minPct: MinProfitPercentage,
		cache:  expirable.NewLRU[int, []models.ProfitSummary](profitCacheSize, nil, ttl),
	}
}

// TopProfits returns at most limit summaries (clamped to 1..MaxProfitResults)
func (s *ProfitService) TopProfits(ctx context.Context, limit int) ([]models.ProfitSummary, error) {
	if limit <= 0 || limit > MaxProfitResults {
		limit = MaxProfitResults
	}

	if cached, ok := s.cache.Get(limit); ok {
		metrics.ProfitCacheRequestsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.ProfitCacheRequestsTotal.WithLabelValues("miss").Inc()

	var records []models.ItemPrice
	err := s.prices.Scan(ctx, func(p models.ItemPrice) error {
		records = append(records, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan prices: %w", err)
	}

	summaries := ComputeProfitSummary(records, s.minPct, limit)
	s.cache.Add(limit, summaries)
	return summaries, nil
}

// Purge drops cached reports; called after every ingestion run
func (s *ProfitService) Purge() {
	s.cache.Purge()
}
