package levels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		points int64
		want   string
	}{
		{0, "Bronzo"},
		{99, "Bronzo"},
		{100, "Argento"},
		{299, "Argento"},
		{300, "Oro"},
		{700, "Platino"},
		{10_000, "Platino"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.points, table).Name, "points=%d", tt.points)
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	table := DefaultTable()
	prev := int64(-1)
	for points := int64(0); points <= 800; points += 25 {
		level := Classify(points, table)
		assert.GreaterOrEqual(t, level.MinPoints, prev, "level threshold regressed at %d points", points)
		prev = level.MinPoints
	}
}

func TestClassifyUnsortedTable(t *testing.T) {
	table := Table{
		{Name: "Oro", MinPoints: 300},
		{Name: "Bronzo", MinPoints: 0},
		{Name: "Argento", MinPoints: 100},
	}
	assert.Equal(t, "Argento", Classify(150, table).Name)
}

func TestClassifyFallsBackOnEmptyTable(t *testing.T) {
	level := Classify(500, nil)
	assert.Equal(t, "Bronzo", level.Name)
}

func TestNext(t *testing.T) {
	table := DefaultTable()

	next := Next(40, table)
	require.True(t, next.HasNext)
	assert.Equal(t, "Argento", next.NextName)
	assert.Equal(t, int64(60), next.PointsNeeded)

	// Exactly at a threshold the next level is the one above.
	next = Next(100, table)
	require.True(t, next.HasNext)
	assert.Equal(t, "Oro", next.NextName)
	assert.Equal(t, int64(200), next.PointsNeeded)

	next = Next(900, table)
	assert.False(t, next.HasNext)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "levels.yaml")
	doc := `levels:
  - name: Base
    min_points: 0
  - name: Top
    min_points: 50
    color: "#ff0000"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	table, err := Load(path)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "Top", Classify(60, table).Name)
	assert.Equal(t, "#ff0000", table[1].Color)
}

func TestLoadRejectsEmptyTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "levels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("levels: []\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
