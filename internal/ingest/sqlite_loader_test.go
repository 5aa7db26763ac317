package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.Add(&graph.Activity{
		Name: "electricity production, hard coal", Product: "electricity, high voltage", Location: "DE",
		Unit: "kilowatt hour", Code: "abc",
		Parameters: map[string]float64{"efficiency": 0.38},
		Exchanges: []graph.Exchange{
			{Name: "electricity production, hard coal", Product: "electricity, high voltage", Location: "DE",
				Unit: "kilowatt hour", Amount: 1, Type: graph.Production, ProductionVolume: 1e9},
			{Name: "hard coal supply", Product: "hard coal", Location: "RER", Unit: "kilogram",
				Amount: 0.35, Type: graph.Technosphere},
			{Name: "Sulfur dioxide", Unit: "kilogram", Amount: 1e-3, Type: graph.Biosphere,
				Categories: []string{"air", "urban air close to ground"}},
		},
	}))
	require.NoError(t, g.Add(&graph.Activity{
		Name: "hard coal supply", Product: "hard coal", Location: "RER", Unit: "kilogram",
		Exchanges: []graph.Exchange{
			{Name: "hard coal supply", Product: "hard coal", Location: "RER", Unit: "kilogram",
				Amount: 1, Type: graph.Production},
		},
	}))
	return g
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := sampleGraph(t)
	dbPath := filepath.Join(t.TempDir(), "inventory.db")
	require.NoError(t, WriteSnapshot(dbPath, g))

	loaded, err := LoadActivities(dbPath)
	require.NoError(t, err)
	require.Equal(t, g.Len(), loaded.Len())
	assert.Equal(t, g.Identities(), loaded.Identities(), "insertion order preserved")

	for _, a := range g.Activities() {
		b, err := loaded.Get(a.Identity())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	t.Run("overwrite clears previous snapshot", func(t *testing.T) {
		small := graph.New()
		require.NoError(t, small.Add(&graph.Activity{Name: "a", Product: "b", Location: "GLO"}))
		require.NoError(t, WriteSnapshot(dbPath, small))
		loaded, err := LoadActivities(dbPath)
		require.NoError(t, err)
		assert.Equal(t, 1, loaded.Len())
	})
}

func TestStreamActivities_StopsOnError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "inventory.db")
	require.NoError(t, WriteSnapshot(dbPath, sampleGraph(t)))

	seen := 0
	err := StreamActivities(dbPath, func(*graph.Activity) error {
		seen++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, seen)
}

func TestInventory(t *testing.T) {
	dir := t.TempDir()
	g := sampleGraph(t)

	t.Run("json round trip", func(t *testing.T) {
		p := filepath.Join(dir, "inventory.json")
		require.NoError(t, WriteInventory(p, g))
		loaded, err := ReadInventory(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, g.Identities(), loaded.Identities())
	})

	t.Run("directory skips unknown files", func(t *testing.T) {
		sub := filepath.Join(dir, "tree")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		require.NoError(t, WriteInventory(filepath.Join(sub, "a.db"), g))
		require.NoError(t, os.WriteFile(filepath.Join(sub, "README.txt"), []byte("x"), 0o644))
		loaded, err := ReadInventory(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Len())
	})

	t.Run("unsupported single file", func(t *testing.T) {
		p := filepath.Join(dir, "inventory.csv")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		_, err := ReadInventory(context.Background(), p)
		assert.ErrorIs(t, err, ErrUnsupportedInventory)
		assert.ErrorIs(t, WriteInventory(p, g), ErrUnsupportedInventory)
	})
}
