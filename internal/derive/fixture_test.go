package derive

import (
	"maps"
	"slices"
	"strconv"
	"testing"

	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

var testYears = []int{2010, 2020, 2030, 2040, 2050}

// series maps region -> variable -> one value per testYears entry.
type series map[string]map[string][]float64

func (s series) cube(t *testing.T) *cube.Cube {
	t.Helper()
	var regions, vars []string
	for r, vs := range s {
		regions = append(regions, r)
		for v := range vs {
			if !slices.Contains(vars, v) {
				vars = append(vars, v)
			}
		}
	}
	slices.Sort(regions)
	slices.Sort(vars)
	c := cube.NaNs(
		cube.NewAxis(cube.RegionAxis, regions...),
		cube.NewAxis(cube.VariableAxis, vars...),
		cube.NewYearAxis(testYears...),
	)
	for r, vs := range s {
		for v, vals := range vs {
			require.Len(t, vals, len(testYears), "%s/%s", r, v)
			for i, x := range vals {
				require.NoError(t, c.Set(x, r, v, strconv.Itoa(testYears[i])))
			}
		}
	}
	return c
}

func scenarioSeries() series {
	eur := map[string][]float64{
		"SE|Electricity|Coal":              {10, 10, 8, 6, 4},
		"SE|Electricity|Wind":              {0, 2, 4, 6, 8},
		"Tech|Electricity|Coal|Efficiency": {35, 38, 40, 42, 44},
		"Tech|Electricity|Wind|Efficiency": {1, 1, 1, 1, 1},
		"SE|Liquids|Oil":                   {5, 5, 5, 5, 5},
		"SE|Liquids|Biomass":               {1, 1, 2, 2, 3},
		"Tech|Liquids|Oil|Efficiency":      {1, 1, 3, 3, 3},
		"Production|Cement":                {100, 100, 100, 100, 100},
		"FE|Industry|Cement|Gas":           {50, 50, 40, 30, 30},
		"FE|Industry|Cement|Coal":          {50, 50, 40, 30, 30},
		"Specific Energy|Steel|Primary":    {20, 20, 18, 16, 16},
		"Emi|CCO2|Cement":                  {0, 0, 1, 2, 3},
		"Emi|CO2|Cement":                   {10, 10, 9, 8, 7},
	}
	cha := map[string][]float64{
		"SE|Electricity|Coal":              {20, 20, 20, 20, 20},
		"SE|Electricity|Wind":              {0, 0, 0, 0, 0},
		"Tech|Electricity|Coal|Efficiency": {40, 40, 38, 36, 34},
		"Tech|Electricity|Wind|Efficiency": {1, 1, 1, 1, 1},
		"SE|Liquids|Oil":                   {3, 3, 3, 3, 3},
		"SE|Liquids|Biomass":               {0, 0, 0, 0, 0},
		"Tech|Liquids|Oil|Efficiency":      {1, 1, 0.1, 0.1, 0.1},
		"Production|Cement":                {200, 200, 200, 200, 200},
		"FE|Industry|Cement|Gas":           {100, 100, 100, 100, 100},
		"FE|Industry|Cement|Coal":          {100, 100, 100, 100, 100},
		"Specific Energy|Steel|Primary":    {20, 20, 20, 20, 20},
		"Emi|CCO2|Cement":                  {0, 0, 0, 0, 0},
		"Emi|CO2|Cement":                   {20, 20, 20, 20, 20},
	}
	world := map[string][]float64{
		"SE|Liquids|Oil":  {0, 0, 0, 0, 0},
		"Emi|CCO2|Cement": {5, 5, 5, 5, 5},
		"Emi|CO2|Cement":  {0, 0, 0, 0, 0},
	}
	return series{"EUR": eur, "CHA": cha, "World": world}
}

var aliasDocs = map[string]string{
	"electricity.yml": `
Coal PC:
  iam_aliases:
    remind: SE|Electricity|Coal
  eff_aliases:
    remind: Tech|Electricity|Coal|Efficiency
  gains_aliases: PP_COAL
Wind Onshore:
  iam_aliases:
    remind: SE|Electricity|Wind
  eff_aliases:
    remind: Tech|Electricity|Wind|Efficiency
  gains_aliases: PP_WIND
Gas CC:
  iam_aliases:
    remind: SE|Electricity|Gas
`,
	"fuels.yml": `
petrol:
  iam_aliases:
    remind: SE|Liquids|Oil
  eff_aliases:
    remind: Tech|Liquids|Oil|Efficiency
bioethanol:
  iam_aliases:
    remind: SE|Liquids|Biomass
`,
	"cement.yml": `
cement:
  iam_aliases:
    remind: Production|Cement
  energy_use_aliases:
    remind: [FE|Industry|Cement|Gas, FE|Industry|Cement|Coal]
`,
	"steel.yml": `
steel - primary:
  iam_aliases:
    remind: Production|Steel|Primary
  eff_aliases:
    remind: Specific Energy|Steel|Primary
steel - secondary:
  iam_aliases:
    remind: Production|Steel|Secondary
  eff_aliases:
    remind: Specific Energy|Steel|Secondary
`,
	"biomass.yml": `
biomass - residual:
  iam_aliases:
    remind: Primary Energy|Biomass|Residues
`,
	"carbon_capture.yml": `
cement - cco2:
  iam_aliases:
    remind: Emi|CCO2|Cement
cement - co2:
  iam_aliases:
    remind: Emi|CO2|Cement
steel - cco2:
  iam_aliases:
    remind: Emi|CCO2|Steel
steel - co2:
  iam_aliases:
    remind: Emi|CO2|Steel
`,
}

func testCatalog(t *testing.T, overrides map[string]string) *aliases.Catalog {
	t.Helper()
	fsys := memfs.New()
	docs := maps.Clone(aliasDocs)
	maps.Copy(docs, overrides)
	for name, doc := range docs {
		require.NoError(t, util.WriteFile(fsys, "aliases/"+name, []byte(doc), 0o644))
	}
	return aliases.NewCatalog(fsys, "aliases", "remind", nil)
}

func emissionFactors(t *testing.T) *cube.Cube {
	t.Helper()
	c := cube.NaNs(
		cube.NewAxis(cube.RegionAxis, "CHN", "WEU"),
		cube.NewAxis(cube.PollutantAxis, "SO2"),
		cube.NewAxis(cube.SectorAxis, "CEMENT", "PP_COAL", "STEEL"),
		cube.NewYearAxis(testYears...),
	)
	set := func(region, sector string, vals ...float64) {
		for i, v := range vals {
			require.NoError(t, c.Set(v, region, "SO2", sector, strconv.Itoa(testYears[i])))
		}
	}
	set("WEU", "PP_COAL", 12, 10, 5, 5, 5)
	set("WEU", "CEMENT", 10, 10, 12, 12, 12)
	set("WEU", "STEEL", 8, 8, 4, 2, 2)
	set("CHN", "PP_COAL", 10, 10, 10, 10, 10)
	set("CHN", "CEMENT", 0, 0, 0, 0, 0)
	set("CHN", "STEEL", 8, 8, 8, 8, 8)
	return c
}

func testOptions(t *testing.T, year int) Options {
	return Options{
		Model:           "remind",
		Pathway:         "SSP2-Base",
		Year:            year,
		Raw:             scenarioSeries().cube(t),
		EmissionFactors: emissionFactors(t),
		Lifetimes:       map[string]float64{"Coal PC": 40, "Wind Onshore": 20, "petrol": 30, "bioethanol": 20},
		Catalog:         testCatalog(t, nil),
	}
}

func at(t *testing.T, c *cube.Cube, labels ...string) float64 {
	t.Helper()
	v, err := c.At(labels...)
	require.NoError(t, err)
	return v
}
