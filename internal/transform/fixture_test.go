package transform

import (
	"testing"
	"time"

	"github.com/agentic-research/lcimorph/internal/audit"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/derive"
	"github.com/agentic-research/lcimorph/internal/geo"
	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	cementMarket  = "market for cement"
	cementProduct = "cement, Portland"
	cementMaker   = "cement production, Portland"
	mvElectricity = "market for electricity, medium voltage"
)

var regions = []string{"CHA", "EUR", geo.World}

func testCollection(t *testing.T) *derive.Collection {
	t.Helper()
	pv := cube.NaNs(
		cube.NewAxis(cube.RegionAxis, regions...),
		cube.NewAxis(cube.VariableAxis, "cement", "clinker"),
		cube.NewYearAxis(2030, 2040),
	)
	for _, c := range []struct {
		region, variable string
		v2030, v2040     float64
	}{
		{"EUR", "cement", 100, 200},
		{"EUR", "clinker", 10, 10},
		{"CHA", "cement", 50, 50},
	} {
		require.NoError(t, pv.Set(c.v2030, c.region, c.variable, "2030"))
		require.NoError(t, pv.Set(c.v2040, c.region, c.variable, "2040"))
	}

	eff := cube.Full(1,
		cube.NewAxis(cube.RegionAxis, regions...),
		cube.NewAxis(cube.VariableAxis, "Coal PC", derive.CementLabel))
	require.NoError(t, eff.Set(1.25, "EUR", "Coal PC"))

	em := cube.Full(1,
		cube.NewAxis(cube.RegionAxis, "CHN", "WEU", geo.World),
		cube.NewAxis(cube.PollutantAxis, "SO2", "NOx"),
		cube.NewAxis(cube.SectorAxis, derive.CementLabel))
	require.NoError(t, em.Set(2, "WEU", "SO2", derive.CementLabel))
	require.NoError(t, em.Set(1.6, "WEU", "NOx", derive.CementLabel))

	ccs := cube.New(
		cube.NewAxis(cube.RegionAxis, regions...),
		cube.NewAxis(cube.VariableAxis, derive.CementLabel, "steel"))
	require.NoError(t, ccs.Set(0.5, "EUR", derive.CementLabel))

	return &derive.Collection{
		Model:             "remind",
		Pathway:           "SSP2-Base",
		Year:              2035,
		SystemModel:       derive.Attributional,
		Regions:           regions,
		ProductionVolumes: pv,
		Efficiency:        eff,
		Emissions:         em,
		CarbonCaptureRate: ccs,
	}
}

func production(name, product, loc, unit string, pv float64) graph.Exchange {
	return graph.Exchange{Name: name, Product: product, Location: loc, Unit: unit, Amount: 1, Type: graph.Production, ProductionVolume: pv}
}

func supply(name, product, loc, unit string, amount float64) graph.Exchange {
	return graph.Exchange{Name: name, Product: product, Location: loc, Unit: unit, Amount: amount, Type: graph.Technosphere}
}

func activity(name, product, loc, unit string, pv float64, exchanges ...graph.Exchange) *graph.Activity {
	return &graph.Activity{
		Name: name, Product: product, Location: loc, Unit: unit,
		Code:      name + "@" + loc,
		Exchanges: append([]graph.Exchange{production(name, product, loc, unit, pv)}, exchanges...),
	}
}

// testGraph is a small cement supply chain with markets in DE and RoW, and
// consumers in FR, US and CN.
func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	market := func(loc string) *graph.Activity {
		a := activity(cementMarket, cementProduct, loc, "kilogram", 5,
			supply(cementMaker, cementProduct, loc, "kilogram", 1),
			supply(mvElectricity, "electricity, medium voltage", loc, "kilowatt hour", 0.1))
		a.Input = "db:" + loc
		a.Exchanges[0].Input = "db:" + loc
		return a
	}
	for _, a := range []*graph.Activity{
		market("DE"),
		market("RoW"),
		activity(cementMaker, cementProduct, "DE", "kilogram", 1),
		activity(cementMaker, cementProduct, "FR", "kilogram", 3),
		activity(cementMaker, cementProduct, "RoW", "kilogram", 10),
		activity("concrete production", "concrete", "FR", "cubic meter", 1,
			supply(cementMarket, cementProduct, "DE", "kilogram", 0.3),
			supply(cementMarket, cementProduct, "DE", "kilogram", 0.2),
			supply(cementMaker, cementProduct, "FR", "kilogram", 0.05)),
		activity("concrete production", "concrete", "US", "cubic meter", 1,
			supply(cementMarket, cementProduct, "RoW", "kilogram", 0.4)),
		activity("mortar production", "mortar", "CN", "kilogram", 1,
			supply("market for cement, old", cementProduct, "GLO", "kilogram", 0.25),
			supply("market for clinker", "clinker", "RoW", "kilogram", 0.1)),
	} {
		require.NoError(t, g.Add(a))
	}
	return g
}

type testRig struct {
	tr      *Transformation
	g       *graph.Graph
	fs      billy.Filesystem
	audit   *audit.Log
	metrics *observability.Collector
}

func newRig(t *testing.T, log *zap.Logger) *testRig {
	t.Helper()
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	fsys := memfs.New()
	al := audit.New(fsys, "logs", "remind", "SSP2-Base", 2035, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC))

	col := testCollection(t)
	table, err := geo.New(col.Model, col.Regions, log)
	require.NoError(t, err)
	g := testGraph(t)
	tr, err := New(Options{
		Graph:              g,
		Collection:         col,
		Geo:                table,
		Run:                NewRunContext(al, metrics),
		LowerHeatingValues: map[string]float64{"natural gas": 36, "hard coal": 26.4, "coal": 20},
		Logger:             log,
	})
	require.NoError(t, err)
	return &testRig{tr: tr, g: g, fs: fsys, audit: al, metrics: metrics}
}

func exchangesTo(a *graph.Activity, name string) []graph.Exchange {
	var out []graph.Exchange
	for _, e := range a.Exchanges {
		if e.Type == graph.Technosphere && e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
