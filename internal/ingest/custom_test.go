package ingest

import (
	"context"
	"testing"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const customConfigYAML = `
production pathways:
  ammonia, from natural gas:
    production volume:
      variable: Production|Ammonia|Gas
    efficiency:
      - variable: Efficiency|Ammonia|Gas
        reference year: 2020
`

func customWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetList()[0]
	rows := [][]any{
		{"model", "pathway", "region", "variables", "unit", 2020, 2030, 2040},
		{"remind", "SSP2-Base", "EUR", "Production|Ammonia|Gas", "Mt", 10, 20, 30},
		{"remind", "SSP2-Base", "CHA", "Production|Ammonia|Gas", "Mt", 5, 5, 5},
		{"remind", "SSP2-Base", "EUR", "Efficiency|Ammonia|Gas", "%", 50, 60, 70},
		{"remind", "SSP2-Base", "CHA", "Efficiency|Ammonia|Gas", "%", 0, 1, 1},
		{"image", "SSP2-Base", "WEU", "Production|Ammonia|Gas", "Mt", 1, 1, 1},
	}
	for i, r := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, addr, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestLoadCustomScenario(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "custom/ammonia.xlsx", customWorkbook(t), 0o644))
	require.NoError(t, util.WriteFile(fsys, "custom/config.yaml", []byte(customConfigYAML), 0o644))
	spec := CustomScenarioSpec{Workbook: "custom/ammonia.xlsx", Config: "custom/config.yaml"}

	t.Run("in range", func(t *testing.T) {
		sc, err := LoadCustomScenario(context.Background(), fsys, spec, "remind", "SSP2-Base", 2035, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"CHA", "EUR"}, sc.Regions)

		v, err := sc.ProductionVolume.At("EUR", "Production|Ammonia|Gas", "2030")
		require.NoError(t, err)
		assert.InDelta(t, 20.0, v, 1e-12)

		require.NotNil(t, sc.Efficiency)
		v, err = sc.Efficiency.At("EUR", "Efficiency|Ammonia|Gas")
		require.NoError(t, err)
		assert.InDelta(t, 65.0/50.0, v, 1e-12)

		v, err = sc.Efficiency.At("CHA", "Efficiency|Ammonia|Gas")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, v, 1e-12, "zero reference falls back to 1")
	})

	t.Run("year outside workbook", func(t *testing.T) {
		sc, err := LoadCustomScenario(context.Background(), fsys, spec, "remind", "SSP2-Base", 2060, nil)
		require.NoError(t, err)
		for _, v := range sc.Efficiency.Values() {
			assert.Equal(t, 1.0, v)
		}
	})

	t.Run("other model rows ignored", func(t *testing.T) {
		sc, err := LoadCustomScenario(context.Background(), fsys, spec, "image", "SSP2-Base", 2030, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"WEU"}, sc.Regions)
		assert.Empty(t, sc.Efficiency.Labels(cube.VariableAxis))
	})

	t.Run("missing config", func(t *testing.T) {
		_, err := LoadCustomScenario(context.Background(), fsys,
			CustomScenarioSpec{Workbook: spec.Workbook, Config: "custom/none.yaml"}, "remind", "SSP2-Base", 2030, nil)
		assert.Error(t, err)
	})
}
