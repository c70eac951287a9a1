package database

import (
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/albion-tracker/internal/models"
)

// cleanupDuplicateItemPrices removes duplicate item_prices rows before the unique index is added.
// Databases imported from the old collector scripts have no (unique_name, city) constraint.
// This runs BEFORE AutoMigrate to prevent constraint violations
func cleanupDuplicateItemPrices(db *gorm.DB) error {
	if !db.Migrator().HasTable("item_prices") {
		return nil
	}

	// Normalize NULL city values so they group together
	result := db.Exec(`UPDATE item_prices SET city = '' WHERE city IS NULL`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize city values: %v", result.Error)
	}

	// Keep the most recently inserted row per (unique_name, city)
	result = db.Exec(`
		DELETE FROM item_prices
		WHERE id NOT IN (
			SELECT MAX(id)
			FROM item_prices
			GROUP BY unique_name, city
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d duplicate item_prices entries", result.RowsAffected)
	}

	return nil
}

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	return ensureCollectionStatusRow(db)
}

// ensureCollectionStatusRow seeds the single progress row so cursor updates never race an insert
func ensureCollectionStatusRow(db *gorm.DB) error {
	result := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.CollectionStatus{ID: models.CollectionStatusID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Println("Initialized collection status at index 0")
	}
	return nil
}
