package ingest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CustomScenarioSpec points at a user supplied workbook and its config.
type CustomScenarioSpec struct {
	Workbook string `yaml:"scenario data" mapstructure:"scenario data"`
	Config   string `yaml:"config" mapstructure:"config"`
}

// CustomConfig is the YAML config shipped with a custom workbook.
type CustomConfig struct {
	ProductionPathways map[string]CustomPathway `yaml:"production pathways"`
}

type CustomPathway struct {
	ProductionVolume *struct {
		Variable string `yaml:"variable"`
	} `yaml:"production volume"`
	Efficiency []CustomEfficiency `yaml:"efficiency"`
}

type CustomEfficiency struct {
	Variable      string `yaml:"variable"`
	ReferenceYear int    `yaml:"reference year"`
}

// CustomScenario is what a custom workbook contributes to a run.
type CustomScenario struct {
	Regions []string
	// ProductionVolume is region x variable x year.
	ProductionVolume *cube.Cube
	// Efficiency is region x variable at the run year, relative to each
	// variable's reference year. Nil when the config lists no efficiency.
	Efficiency *cube.Cube
}

const defaultReferenceYear = 2020

// LoadCustomScenario reads the first sheet of spec.Workbook, keeps the rows of
// (model, pathway) and builds the production volume and efficiency cubes the
// config asks for.
func LoadCustomScenario(ctx context.Context, fsys billy.Filesystem, spec CustomScenarioSpec, model, pathway string, year int, log *zap.Logger) (out *CustomScenario, err error) {
	_, span := observability.StartSpan(ctx, "ingest.LoadCustomScenario")
	defer func() { observability.EndSpan(span, err) }()
	if log == nil {
		log = zap.NewNop()
	}

	rawCfg, err := util.ReadFile(fsys, spec.Config)
	if err != nil {
		return nil, fmt.Errorf("read custom config %s: %w", spec.Config, err)
	}
	var cfg CustomConfig
	if err := yaml.Unmarshal(rawCfg, &cfg); err != nil {
		return nil, fmt.Errorf("parse custom config %s: %w", spec.Config, err)
	}

	rows, err := readWorkbook(fsys, spec.Workbook)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook %s is empty", spec.Workbook)
	}

	prodVars := map[string]struct{}{}
	refYears := map[string]int{}
	for _, p := range cfg.ProductionPathways {
		if p.ProductionVolume != nil && p.ProductionVolume.Variable != "" {
			prodVars[p.ProductionVolume.Variable] = struct{}{}
		}
		for _, e := range p.Efficiency {
			ref := e.ReferenceYear
			if ref == 0 {
				ref = defaultReferenceYear
			}
			refYears[e.Variable] = ref
		}
	}

	cols, err := customColumns(rows[0])
	if err != nil {
		return nil, fmt.Errorf("workbook %s: %w", spec.Workbook, err)
	}
	prod := newGrouper(cube.RegionAxis, cube.VariableAxis, cube.YearAxis)
	eff := newGrouper(cube.RegionAxis, cube.VariableAxis, cube.YearAxis)
	regions := map[string]struct{}{}
	for _, r := range rows[1:] {
		if cell(r, cols.model) != model || cell(r, cols.pathway) != pathway {
			continue
		}
		region, variable := cell(r, cols.region), cell(r, cols.variable)
		_, isProd := prodVars[variable]
		_, isEff := refYears[variable]
		if !isProd && !isEff {
			continue
		}
		for i, ci := range cols.yearIdx {
			v := parseCell(cell(r, ci))
			y := strconv.Itoa(cols.years[i])
			if isProd {
				prod.add(v, region, variable, y)
				regions[region] = struct{}{}
			}
			if isEff {
				eff.add(v, region, variable, y)
			}
		}
	}

	out = &CustomScenario{Regions: sortedKeys(regions)}
	if out.ProductionVolume, err = prod.cube(); err != nil {
		return nil, err
	}
	if len(refYears) > 0 {
		raw, err := eff.cube()
		if err != nil {
			return nil, err
		}
		if out.Efficiency, err = relativeEfficiency(raw, refYears, year, log); err != nil {
			return nil, err
		}
	}
	log.Info("custom scenario loaded",
		zap.String("workbook", spec.Workbook),
		zap.Int("regions", len(out.Regions)),
		zap.Int("production_variables", len(prodVars)),
		zap.Int("efficiency_variables", len(refYears)))
	return out, nil
}

// relativeEfficiency returns value(year)/value(reference year) per region and
// variable. Anything not computable is 1.
func relativeEfficiency(raw *cube.Cube, refYears map[string]int, year int, log *zap.Logger) (*cube.Cube, error) {
	regions := raw.Labels(cube.RegionAxis)
	variables := raw.Labels(cube.VariableAxis)
	out := cube.Full(1, cube.NewAxis(cube.RegionAxis, regions...), cube.NewAxis(cube.VariableAxis, variables...))
	if len(variables) == 0 {
		return out, nil
	}
	at, err := raw.Interp(cube.YearAxis, float64(year))
	if err != nil {
		log.Warn("custom efficiency year outside workbook range, assuming no change",
			zap.Int("year", year), zap.Error(err))
		return out, nil
	}
	for _, v := range variables {
		ref := strconv.Itoa(refYears[v])
		for _, r := range regions {
			num, _ := at.At(r, v)
			den, err := raw.At(r, v, ref)
			if err != nil {
				continue
			}
			ratio := num / den
			if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
				continue
			}
			_ = out.Set(ratio, r, v)
		}
	}
	return out, nil
}

func readWorkbook(fsys billy.Filesystem, p string) ([][]string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", p, err)
	}
	defer func() { _ = f.Close() }() // safe to ignore

	wb, err := excelize.OpenReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse workbook %s: %w", p, err)
	}
	defer func() { _ = wb.Close() }() // safe to ignore

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", p)
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s of %s: %w", sheets[0], p, err)
	}
	return rows, nil
}

type customCols struct {
	model, pathway, region, variable int
	years                            []int
	yearIdx                          []int
}

func customColumns(header []string) (customCols, error) {
	c := customCols{model: -1, pathway: -1, region: -1, variable: -1}
	for i, h := range header {
		switch h = strings.TrimSpace(strings.ToLower(h)); h {
		case "model":
			c.model = i
		case "pathway", "scenario":
			c.pathway = i
		case "region":
			c.region = i
		case "variables", "variable":
			c.variable = i
		default:
			if y, err := strconv.Atoi(h); err == nil {
				c.years = append(c.years, y)
				c.yearIdx = append(c.yearIdx, i)
			}
		}
	}
	if c.model < 0 || c.pathway < 0 || c.region < 0 || c.variable < 0 {
		return c, fmt.Errorf("header must name model, pathway, region and variables: %v", header)
	}
	return c, nil
}

func cell(r []string, i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}
