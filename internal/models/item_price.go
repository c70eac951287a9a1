package models

import (
	"strings"
	"time"
)

// City is a trading hub the Albion Online Data API reports prices for
type City string

const (
	CityBridgewatch  City = "Bridgewatch"
	CityCaerleon     City = "Caerleon"
	CityFortSterling City = "Fort Sterling"
	CityLymhurst     City = "Lymhurst"
	CityMartlock     City = "Martlock"
	CityThetford     City = "Thetford"
	CityBlackMarket  City = "Black Market"
)

// AllCities returns every city the collector visits by default
func AllCities() []City {
	return []City{
		CityBridgewatch,
		CityCaerleon,
		CityFortSterling,
		CityLymhurst,
		CityMartlock,
		CityThetford,
		CityBlackMarket,
	}
}

// NormalizeCity maps the API's city spellings (and user input) to our City type.
// Returns the trimmed input unchanged for cities we don't know about.
func NormalizeCity(city string) City {
	trimmed := strings.TrimSpace(city)
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(trimmed))
	switch key {
	case "bridgewatch":
		return CityBridgewatch
	case "caerleon":
		return CityCaerleon
	case "fortsterling":
		return CityFortSterling
	case "lymhurst":
		return CityLymhurst
	case "martlock":
		return CityMartlock
	case "thetford":
		return CityThetford
	case "blackmarket":
		return CityBlackMarket
	default:
		return City(trimmed)
	}
}

// ItemPrice stores the latest observed market prices for an item in one city.
// There is at most one row per (unique_name, city); newer fetches overwrite it.
type ItemPrice struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	UniqueName       string     `json:"unique_name" gorm:"not null;uniqueIndex:idx_item_city"`
	City             City       `json:"city" gorm:"not null;uniqueIndex:idx_item_city"`
	ItemName         string     `json:"item_name"`
	ItemIndex        int        `json:"index" gorm:"index"`
	SellPriceMin     int64      `json:"sell_price_min"`
	BuyPriceMax      int64      `json:"buy_price_max"`
	SellPriceMinDate *time.Time `json:"last_updated_date"` // reported by the API
	LastSavedAt      time.Time  `json:"last_saved_date"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasMarket returns true if the API reported at least one live order
func (p ItemPrice) HasMarket() bool {
	return p.SellPriceMin > 0 || p.BuyPriceMax > 0
}

// Profit is the flip margin of buying at the best buy order and selling at the cheapest sell order
func (p ItemPrice) Profit() int64 {
	return p.SellPriceMin - p.BuyPriceMax
}

// ProfitPercentage returns Profit relative to the buy price, or 0 when there is no buy price
func (p ItemPrice) ProfitPercentage() float64 {
	if p.BuyPriceMax <= 0 {
		return 0
	}
	return float64(p.Profit()) * 100 / float64(p.BuyPriceMax)
}
