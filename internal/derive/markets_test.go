package derive

import (
	"math"
	"testing"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMarginalRegion(t *testing.T) {
	t.Run("declining market", func(t *testing.T) {
		shares, decline := marginalRegion(
			[]float64{10, 10}, []float64{2, 1}, []float64{40, 20}, []bool{false, false})
		require.True(t, decline)
		require.Len(t, shares, 2)
		assert.InDelta(t, 0.825/1.775, shares[0], 1e-9)
		assert.InDelta(t, 0.95/1.775, shares[1], 1e-9)
	})

	t.Run("growing market weighted by volume", func(t *testing.T) {
		shares, decline := marginalRegion(
			[]float64{10, 30}, []float64{20, 60}, []float64{20, 20}, []bool{false, false})
		require.False(t, decline)
		assert.InDelta(t, 0.25, shares[0], 1e-9)
		assert.InDelta(t, 0.75, shares[1], 1e-9)
	})

	t.Run("excluded technology", func(t *testing.T) {
		shares, _ := marginalRegion(
			[]float64{10, 10}, []float64{20, 30}, []float64{20, 20}, []bool{true, false})
		assert.Equal(t, []float64{0, 1}, shares)
	})

	t.Run("flat market takes the increase branch", func(t *testing.T) {
		// totals 20 -> 20; a grows by half, b shrinks by half
		shares, decline := marginalRegion(
			[]float64{10, 10}, []float64{15, 5}, []float64{40, 20}, []bool{false, false})
		assert.False(t, decline)
		require.Len(t, shares, 2)
		assert.InDelta(t, 1, shares[0], 1e-9)
		assert.Zero(t, shares[1])
	})

	t.Run("nothing qualifies", func(t *testing.T) {
		shares, decline := marginalRegion(
			[]float64{10, 0}, []float64{10, 0}, []float64{40, 20}, []bool{false, false})
		assert.False(t, decline)
		assert.Nil(t, shares)
	})

	t.Run("empty region", func(t *testing.T) {
		nan := math.NaN()
		shares, _ := marginalRegion(
			[]float64{nan, nan}, []float64{nan, nan}, []float64{40, 20}, []bool{false, false})
		assert.Nil(t, shares)
	})
}

func TestAttributionalShares(t *testing.T) {
	c := cube.New(
		cube.NewAxis(cube.RegionAxis, "EUR", "LAM"),
		cube.NewAxis(cube.VariableAxis, "a", "b"),
		cube.NewYearAxis(2020, 2030),
	)
	require.NoError(t, c.Set(1, "EUR", "a", "2020"))
	require.NoError(t, c.Set(3, "EUR", "a", "2030"))
	require.NoError(t, c.Set(1, "EUR", "b", "2020"))
	require.NoError(t, c.Set(1, "EUR", "b", "2030"))

	shares, err := attributionalShares(c, 2025)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, at(t, shares, "EUR", "a"), 1e-9)
	assert.InDelta(t, 1.0/3, at(t, shares, "EUR", "b"), 1e-9)
	assert.Zero(t, at(t, shares, "LAM", "a"), "zero total gives zero shares")

	_, err = attributionalShares(c, 2040)
	assert.ErrorIs(t, err, cube.ErrOutOfRange)
}

func TestFixWorld(t *testing.T) {
	c := cube.NaNs(
		cube.NewAxis(cube.RegionAxis, "EUR", "LAM", geo.World),
		cube.NewAxis(cube.VariableAxis, "kept", "fixed"),
		cube.NewYearAxis(2020),
	)
	for _, cell := range []struct {
		v      float64
		labels []string
	}{
		{2, []string{"EUR", "kept", "2020"}},
		{3, []string{"LAM", "kept", "2020"}},
		{100, []string{geo.World, "kept", "2020"}},
		{2, []string{"EUR", "fixed", "2020"}},
		{4, []string{"LAM", "fixed", "2020"}},
		{0, []string{geo.World, "fixed", "2020"}},
	} {
		require.NoError(t, c.Set(cell.v, cell.labels...))
	}

	out, err := fixWorld(c, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 100.0, at(t, out, geo.World, "kept", "2020"), "a World row with data is left alone")
	assert.Equal(t, 6.0, at(t, out, geo.World, "fixed", "2020"))
	assert.Equal(t, 0.0, at(t, c, geo.World, "fixed", "2020"), "input untouched")

	t.Run("no World region", func(t *testing.T) {
		sub, err := c.Sel(cube.RegionAxis, "EUR", "LAM")
		require.NoError(t, err)
		out, err := fixWorld(sub, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 5.0, at(t, out, geo.World, "kept", "2020"))
	})
}

func TestIsMarginExcluded(t *testing.T) {
	assert.True(t, isMarginExcluded("Gas CHP"))
	assert.True(t, isMarginExcluded("biomethane"))
	assert.False(t, isMarginExcluded("Coal PC"))
}
