package models

import (
	"time"
)

// CollectionStatusID is the primary key of the single progress row
const CollectionStatusID = 1

// CollectionStatus holds the resumable cursor of the price collector.
// CurrentIndex is the catalog index of the next item to process.
type CollectionStatus struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CurrentIndex int       `json:"current_index" gorm:"not null;default:0"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BlacklistEntry marks an item that returned no market data in any city.
// Entries are never removed automatically.
type BlacklistEntry struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UniqueName string    `json:"unique_name" gorm:"not null;uniqueIndex"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProfitSummary is the best city to flip an item in, derived from ItemPrice rows
type ProfitSummary struct {
	UniqueName       string  `json:"unique_name"`
	ItemName         string  `json:"item_name"`
	City             City    `json:"city"`
	BuyPriceMax      int64   `json:"buy_price_max"`
	SellPriceMin     int64   `json:"sell_price_min"`
	Profit           int64   `json:"profit"`
	ProfitPercentage float64 `json:"profit_percentage"`
}
