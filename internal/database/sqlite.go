package database

import (
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/albion-tracker/internal/models"
)

// Open connects to the SQLite database at dbPath and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// SQLite allows a single writer; one connection avoids "database is locked"
	// and keeps in-memory databases shared across calls.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	log.Println("Database connected successfully")

	if err := cleanupDuplicateItemPrices(db); err != nil {
		return nil, fmt.Errorf("cleanup duplicate item prices: %w", err)
	}

	err = db.AutoMigrate(&models.ItemPrice{}, &models.BlacklistEntry{}, &models.CollectionStatus{})
	if err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Println("Database migration completed")
	return db, nil
}
