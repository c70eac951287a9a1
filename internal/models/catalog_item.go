package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Locale keys used by the items.json dump
const (
	LocaleEnglish    = "EN-US"
	LocalePortuguese = "PT-BR"
)

// CatalogItem is one tradeable item definition from items.json
type CatalogItem struct {
	UniqueName     string            `json:"UniqueName"`
	LocalizedNames map[string]string `json:"LocalizedNames"`
	Index          CatalogIndex      `json:"Index"`
}

// DisplayName returns the name in the first locale that has one,
// falling back to English and finally the unique name.
func (c CatalogItem) DisplayName(locales ...string) string {
	for _, locale := range locales {
		if name := strings.TrimSpace(c.LocalizedNames[locale]); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(c.LocalizedNames[LocaleEnglish]); name != "" {
		return name
	}
	return c.UniqueName
}

// CatalogIndex is the item's ordinal in the catalog.
// The dump stores it as a quoted string ("42"); plain numbers are accepted too.
type CatalogIndex int

func (i *CatalogIndex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = 0
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid catalog index %q: %w", raw, err)
	}
	*i = CatalogIndex(n)
	return nil
}
