package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codyseavey/albion-tracker/internal/models"
)

func price(item string, city models.City, buy, sell int64) models.ItemPrice {
	return models.ItemPrice{UniqueName: item, City: city, BuyPriceMax: buy, SellPriceMin: sell}
}

func TestComputeProfitSummary(t *testing.T) {
	tests := []struct {
		name     string
		records  []models.ItemPrice
		expected []string // unique_name@city in order
	}{
		{
			name: "best city wins, losing city ignored",
			records: []models.ItemPrice{
				price("A", models.CityCaerleon, 100, 120),
				price("A", models.CityMartlock, 50, 40),
			},
			expected: []string{"A@Caerleon"},
		},
		{
			name:     "equal buy and sell is excluded",
			records:  []models.ItemPrice{price("A", models.CityCaerleon, 100, 100)},
			expected: []string{},
		},
		{
			name:     "exactly fifteen percent is excluded",
			records:  []models.ItemPrice{price("A", models.CityCaerleon, 100, 115)},
			expected: []string{},
		},
		{
			name: "missing prices are ignored",
			records: []models.ItemPrice{
				price("A", models.CityCaerleon, 0, 500),
				price("A", models.CityMartlock, 100, 0),
				price("A", models.CityLymhurst, 100, 130),
			},
			expected: []string{"A@Lymhurst"},
		},
		{
			name: "best city below threshold drops the item",
			records: []models.ItemPrice{
				price("A", models.CityCaerleon, 1000, 1100), // +100, 10%
				price("A", models.CityMartlock, 10, 60),     // +50, 500%
			},
			expected: []string{},
		},
		{
			name: "sorted by absolute profit then name",
			records: []models.ItemPrice{
				price("SMALL", models.CityCaerleon, 10, 80),
				price("BIG", models.CityCaerleon, 1000, 2000),
				price("TIE_B", models.CityMartlock, 100, 190),
				price("TIE_A", models.CityThetford, 100, 190),
			},
			expected: []string{"BIG@Caerleon", "TIE_A@Thetford", "TIE_B@Martlock", "SMALL@Caerleon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeProfitSummary(tt.records, MinProfitPercentage, MaxProfitResults)
			keys := make([]string, 0, len(got))
			for _, s := range got {
				keys = append(keys, s.UniqueName+"@"+string(s.City))
			}
			require.Equal(t, tt.expected, keys)
		})
	}
}

func TestComputeProfitSummaryValues(t *testing.T) {
	got := ComputeProfitSummary([]models.ItemPrice{price("A", models.CityCaerleon, 100, 120)}, MinProfitPercentage, 0)
	require.Len(t, got, 1)
	require.Equal(t, int64(20), got[0].Profit)
	require.InDelta(t, 20.0, got[0].ProfitPercentage, 0.0001)
	require.Equal(t, "A", got[0].ItemName, "falls back to the unique name")
}

func TestComputeProfitSummaryLimit(t *testing.T) {
	var records []models.ItemPrice
	for i := 0; i < 150; i++ {
		records = append(records, price(fmt.Sprintf("ITEM_%03d", i), models.CityCaerleon, 100, int64(200+i)))
	}

	got := ComputeProfitSummary(records, MinProfitPercentage, MaxProfitResults)
	require.Len(t, got, MaxProfitResults)
	require.Equal(t, int64(349-100), got[0].Profit)
}

func TestProfitServiceCachesUntilPurged(t *testing.T) {
	ctx := context.Background()
	stores := testStores(t)
	require.NoError(t, stores.Prices.Upsert(ctx, &models.ItemPrice{
		UniqueName: "T4_BAG", ItemName: "Adept's Bag", City: models.CityCaerleon, BuyPriceMax: 1000, SellPriceMin: 1500,
	}))

	svc := NewProfitService(stores.Prices, time.Hour)

	first, err := svc.TopProfits(ctx, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "Adept's Bag", first[0].ItemName)

	require.NoError(t, stores.Prices.Upsert(ctx, &models.ItemPrice{
		UniqueName: "T5_BAG", City: models.CityMartlock, BuyPriceMax: 1000, SellPriceMin: 3000,
	}))

	cached, err := svc.TopProfits(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cached, 1, "served from cache")

	svc.Purge()
	fresh, err := svc.TopProfits(ctx, 500)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	require.Equal(t, "T5_BAG", fresh[0].UniqueName)
}
