// Package levels classifies a points balance into a display tier. The
// classifier is pure: levels are configuration, never stored per customer,
// so threshold changes take effect for everyone on the next read.
package levels

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Level is one row of the threshold table. MinPoints thresholds are
// ascending; display attributes ride along for the UI.
type Level struct {
	Name      string `yaml:"name" json:"name"`
	MinPoints int64  `yaml:"min_points" json:"min_points"`
	Color     string `yaml:"color" json:"color,omitempty"`
	Icon      string `yaml:"icon" json:"icon,omitempty"`
}

// Table is the ordered set of levels for one deployment.
type Table []Level

// DefaultTable is the fallback configuration when no YAML file is provided.
func DefaultTable() Table {
	return Table{
		{Name: "Bronzo", MinPoints: 0, Color: "#cd7f32"},
		{Name: "Argento", MinPoints: 100, Color: "#c0c0c0"},
		{Name: "Oro", MinPoints: 300, Color: "#ffd700"},
		{Name: "Platino", MinPoints: 700, Color: "#e5e4e2"},
	}
}

// fallback is returned when the table is empty or no threshold qualifies.
var fallback = Level{Name: "Bronzo", MinPoints: 0, Color: "#cd7f32"}

// Classify returns the highest-threshold level whose MinPoints is at or
// below the balance. Monotonic: a higher balance never yields a lower level.
func Classify(points int64, table Table) Level {
	sorted := make(Table, len(table))
	copy(sorted, table)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPoints < sorted[j].MinPoints
	})

	best := fallback
	found := false
	for _, level := range sorted {
		if points >= level.MinPoints {
			best = level
			found = true
		}
	}
	if !found {
		return fallback
	}
	return best
}

// NextInfo describes progress toward the next level, for display.
type NextInfo struct {
	HasNext      bool   `json:"has_next"`
	NextName     string `json:"next_name,omitempty"`
	PointsNeeded int64  `json:"points_needed"`
}

// Next computes how far the balance is from the next threshold.
func Next(points int64, table Table) NextInfo {
	sorted := make(Table, len(table))
	copy(sorted, table)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPoints < sorted[j].MinPoints
	})

	for _, level := range sorted {
		if level.MinPoints > points {
			return NextInfo{
				HasNext:      true,
				NextName:     level.Name,
				PointsNeeded: level.MinPoints - points,
			}
		}
	}
	return NextInfo{HasNext: false}
}

// Load reads a YAML level table from disk.
func Load(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level table: %w", err)
	}
	var doc struct {
		Levels Table `yaml:"levels"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse level table: %w", err)
	}
	if len(doc.Levels) == 0 {
		return nil, fmt.Errorf("level table %s defines no levels", path)
	}
	return doc.Levels, nil
}
