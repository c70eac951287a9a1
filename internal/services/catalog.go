package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/codyseavey/albion-tracker/internal/models"
)

// Catalog is the immutable, index-ordered list of items the collector walks
type Catalog struct {
	items   []models.CatalogItem
	byName  map[string]int
	locales []string
}

// LoadCatalog reads an items.json dump (ao-bin-dumps format).
// A missing or corrupt file is fatal for the collector.
func LoadCatalog(path string, locales []string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var items []models.CatalogItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return NewCatalog(items, locales)
}

// NewCatalog sorts items by Index and rejects duplicates
func NewCatalog(items []models.CatalogItem, locales []string) (*Catalog, error) {
	cleaned := make([]models.CatalogItem, 0, len(items))
	for _, item := range items {
		item.UniqueName = strings.TrimSpace(item.UniqueName)
		if item.UniqueName == "" {
			continue
		}
		cleaned = append(cleaned, item)
	}

	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Index < cleaned[j].Index
	})

	byName := make(map[string]int, len(cleaned))
	for i, item := range cleaned {
		if _, dup := byName[item.UniqueName]; dup {
			return nil, fmt.Errorf("duplicate catalog item %s", item.UniqueName)
		}
		if i > 0 && cleaned[i-1].Index == item.Index {
			return nil, fmt.Errorf("duplicate catalog index %d (%s, %s)", item.Index, cleaned[i-1].UniqueName, item.UniqueName)
		}
		byName[item.UniqueName] = i
	}

	return &Catalog{items: cleaned, byName: byName, locales: locales}, nil
}

// Len returns the number of items
func (c *Catalog) Len() int {
	return len(c.items)
}

// From returns the items whose Index is at or after cursor, in order
func (c *Catalog) From(cursor int) []models.CatalogItem {
	start := sort.Search(len(c.items), func(i int) bool {
		return int(c.items[i].Index) >= cursor
	})
	return c.items[start:]
}

// Lookup finds an item by unique name
func (c *Catalog) Lookup(uniqueName string) (models.CatalogItem, bool) {
	i, ok := c.byName[uniqueName]
	if !ok {
		return models.CatalogItem{}, false
	}
	return c.items[i], true
}

// DisplayName returns the item's name in the configured locales
func (c *Catalog) DisplayName(item models.CatalogItem) string {
	return item.DisplayName(c.locales...)
}

// EndIndex is the cursor value after the last catalog item
func (c *Catalog) EndIndex() int {
	if len(c.items) == 0 {
		return 0
	}
	return int(c.items[len(c.items)-1].Index) + 1
}
