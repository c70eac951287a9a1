package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/albion-tracker/internal/database"
	"github.com/codyseavey/albion-tracker/internal/models"
)

// scanBatchSize is how many price rows Scan loads per query
const scanBatchSize = 500

var (
	_ BlacklistStore = (*GormBlacklist)(nil)
	_ ProgressStore  = (*GormProgress)(nil)
	_ PriceStore     = (*GormPrices)(nil)
)

// OpenSQLite opens (and migrates) the SQLite database and returns gorm-backed stores
func OpenSQLite(dbPath string) (*Stores, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return NewGormStores(db), nil
}

// NewGormStores wraps an already migrated gorm connection
func NewGormStores(db *gorm.DB) *Stores {
	return &Stores{
		Blacklist: &GormBlacklist{db: db},
		Progress:  &GormProgress{db: db},
		Prices:    &GormPrices{db: db},
		close: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

// GormBlacklist stores blacklist entries in the blacklist_entries table
type GormBlacklist struct {
	db *gorm.DB
}

func (b *GormBlacklist) Add(ctx context.Context, uniqueName, reason string) error {
	entry := models.BlacklistEntry{UniqueName: uniqueName, Reason: reason}
	err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "unique_name"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", uniqueName, err)
	}
	return nil
}

func (b *GormBlacklist) Remove(ctx context.Context, uniqueName string) error {
	err := b.db.WithContext(ctx).Where("unique_name = ?", uniqueName).Delete(&models.BlacklistEntry{}).Error
	if err != nil {
		return fmt.Errorf("remove %s from blacklist: %w", uniqueName, err)
	}
	return nil
}

func (b *GormBlacklist) Snapshot(ctx context.Context) (map[string]struct{}, error) {
	var names []string
	if err := b.db.WithContext(ctx).Model(&models.BlacklistEntry{}).Pluck("unique_name", &names).Error; err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

func (b *GormBlacklist) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	var entries []models.BlacklistEntry
	if err := b.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	return entries, nil
}

// GormProgress keeps the cursor in the single collection_status row
type GormProgress struct {
	db *gorm.DB
}

func (p *GormProgress) Get(ctx context.Context) (int, error) {
	var status models.CollectionStatus
	err := p.db.WithContext(ctx).Where("id = ?", models.CollectionStatusID).Limit(1).Find(&status).Error
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return status.CurrentIndex, nil
}

func (p *GormProgress) Set(ctx context.Context, index int) error {
	status := models.CollectionStatus{ID: models.CollectionStatusID, CurrentIndex: index, UpdatedAt: time.Now()}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_index", "updated_at"}),
	}).Create(&status).Error
	if err != nil {
		return fmt.Errorf("save cursor %d: %w", index, err)
	}
	return nil
}

// GormPrices stores observations in item_prices
type GormPrices struct {
	db *gorm.DB
}

// Upsert inserts or overwrites the row for (unique_name, city)
func (s *GormPrices) Upsert(ctx context.Context, price *models.ItemPrice) error {
	if price.LastSavedAt.IsZero() {
		price.LastSavedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "unique_name"}, {Name: "city"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"item_name", "item_index", "sell_price_min", "buy_price_max",
			"sell_price_min_date", "last_saved_at", "updated_at",
		}),
	}).Create(price).Error
	if err != nil {
		return fmt.Errorf("upsert price %s/%s: %w", price.UniqueName, price.City, err)
	}
	return nil
}

func (s *GormPrices) Scan(ctx context.Context, fn func(models.ItemPrice) error) error {
	var batch []models.ItemPrice
	result := s.db.WithContext(ctx).FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
		for _, p := range batch {
			if err := fn(p); err != nil {
				return err
			}
		}
		return nil
	})
	if result.Error != nil {
		return fmt.Errorf("scan prices: %w", result.Error)
	}
	return nil
}

func (s *GormPrices) ListByItem(ctx context.Context, uniqueName string) ([]models.ItemPrice, error) {
	var prices []models.ItemPrice
	err := s.db.WithContext(ctx).Where("unique_name = ?", uniqueName).Order("city ASC").Find(&prices).Error
	if err != nil {
		return nil, fmt.Errorf("list prices for %s: %w", uniqueName, err)
	}
	return prices, nil
}
