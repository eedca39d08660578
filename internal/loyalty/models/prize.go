package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prize is one redeemable catalog entry.
type Prize struct {
	Name string `yaml:"name" json:"name"`
	Cost int64  `yaml:"cost" json:"cost"`
}

// PrizeTable is the read-only redemption catalog. Lookups are
// case-insensitive.
type PrizeTable []Prize

// DefaultPrizeTable is the shop's built-in catalog.
func DefaultPrizeTable() PrizeTable {
	return PrizeTable{
		{Name: "Caffè omaggio", Cost: 30},
		{Name: "Gelato piccolo", Cost: 80},
		{Name: "Buono 5 euro", Cost: 200},
		{Name: "Buono 15 euro", Cost: 500},
	}
}

// Find resolves a prize by name.
func (pt PrizeTable) Find(name string) (Prize, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, p := range pt {
		if strings.ToLower(p.Name) == needle {
			return p, true
		}
	}
	return Prize{}, false
}

// Validate rejects catalogs with free or duplicate prizes.
func (pt PrizeTable) Validate() error {
	seen := make(map[string]struct{}, len(pt))
	for _, p := range pt {
		if p.Cost <= 0 {
			return fmt.Errorf("prize %q must cost a positive amount", p.Name)
		}
		key := strings.ToLower(p.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate prize %q", p.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// LoadPrizeTable reads a YAML catalog file.
func LoadPrizeTable(path string) (PrizeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prize table: %w", err)
	}
	var doc struct {
		Prizes PrizeTable `yaml:"prizes"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse prize table: %w", err)
	}
	if err := doc.Prizes.Validate(); err != nil {
		return nil, err
	}
	return doc.Prizes, nil
}
