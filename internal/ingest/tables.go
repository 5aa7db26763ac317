package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"
)

// Auxiliary table file names, relative to the data directory.
const (
	GAINSFactorsFile   = "GAINS emission factors.csv"
	GAINSSectorMapFile = "GAINS_to_IAM_sectors.csv"
	GNRFile            = "additional_data_GNR.csv"
	LifetimesFile      = "lifetimes.csv"
	LHVFile            = "fuels_lhv.csv"
)

const (
	gainsPreamble = 4
	gainsPathway  = "SSP2"
	hoursPerYear  = 8760
	// GNRReferenceYear is the year the cement table is resolved at.
	GNRReferenceYear = 2020
)

// Tables reads the auxiliary data shipped next to the scenario files.
type Tables struct {
	fs  billy.Filesystem
	dir string
	log *zap.Logger
}

func NewTables(fsys billy.Filesystem, dir string, log *zap.Logger) *Tables {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tables{fs: fsys, dir: dir, log: log}
}

func (t *Tables) open(name string) (billy.File, error) {
	p := path.Join(t.dir, name)
	f, err := t.fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

func (t *Tables) readAll(name string, comma rune, skip int) ([][]string, error) {
	f, err := t.open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() // safe to ignore

	cr := csv.NewReader(f)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	var out [][]string
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if i < skip {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// EmissionFactors loads the GAINS table as a region x pollutant x sector x
// year cube in Mt per TWh. Only the SSP2 pathway is kept and only sectors
// listed in the sector map survive.
func (t *Tables) EmissionFactors(ctx context.Context) (c *cube.Cube, err error) {
	_, span := observability.StartSpan(ctx, "ingest.EmissionFactors")
	defer func() { observability.EndSpan(span, err) }()

	sectors, err := t.gainsSectors()
	if err != nil {
		return nil, err
	}
	rows, err := t.readAll(GAINSFactorsFile, ',', gainsPreamble)
	if err != nil {
		return nil, err
	}

	g := newGrouper(cube.RegionAxis, cube.PollutantAxis, cube.SectorAxis, cube.YearAxis)
	kept := 0
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		year, region, sector, pollutant, pathway := strings.TrimSpace(r[0]), strings.TrimSpace(r[1]),
			strings.TrimSpace(r[2]), strings.TrimSpace(r[3]), strings.TrimSpace(r[4])
		if pathway != gainsPathway {
			continue
		}
		if _, ok := sectors[sector]; !ok {
			continue
		}
		y, err := strconv.Atoi(year)
		if err != nil {
			continue
		}
		v := parseCell(r[5])
		if math.IsNaN(v) {
			continue
		}
		g.add(v/hoursPerYear, region, pollutant, sector, strconv.Itoa(y))
		kept++
	}
	t.log.Debug("emission factors loaded", zap.Int("rows", kept), zap.Int("sectors", len(sectors)))
	return g.cube()
}

// gainsSectors returns the GAINS sector codes that map to a model sector.
// Rows with an empty cell are dropped, as the join would leave them partial.
func (t *Tables) gainsSectors() (map[string]struct{}, error) {
	rows, err := t.readAll(GAINSSectorMapFile, ',', 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s is empty", GAINSSectorMapFile)
	}
	col := slices.IndexFunc(rows[0], func(h string) bool { return strings.TrimSpace(h) == "GAINS" })
	if col < 0 {
		return nil, fmt.Errorf("%s has no GAINS column", GAINSSectorMapFile)
	}
	out := map[string]struct{}{}
	for _, r := range rows[1:] {
		if col >= len(r) || slices.ContainsFunc(r, func(s string) bool { return strings.TrimSpace(s) == "" }) {
			continue
		}
		out[strings.TrimSpace(r[col])] = struct{}{}
	}
	return out, nil
}

// CementProperties loads the GNR cement table as a region x variable cube at
// GNRReferenceYear. Missing years are filled by linear interpolation with end
// extrapolation; cells still missing become 0.
func (t *Tables) CementProperties(ctx context.Context) (c *cube.Cube, err error) {
	_, span := observability.StartSpan(ctx, "ingest.CementProperties")
	defer func() { observability.EndSpan(span, err) }()

	rows, err := t.readAll(GNRFile, ',', 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s is empty", GNRFile)
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range []string{"region", "year", "variables", "value"} {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("%s has no %s column", GNRFile, k)
		}
	}

	g := newGrouper(cube.RegionAxis, cube.VariableAxis, cube.YearAxis)
	for _, r := range rows[1:] {
		if len(r) < len(rows[0]) {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSpace(r[idx["year"]]))
		if err != nil {
			continue
		}
		g.add(parseCell(r[idx["value"]]),
			strings.TrimSpace(r[idx["region"]]), strings.TrimSpace(r[idx["variables"]]), strconv.Itoa(y))
	}
	raw, err := g.cube()
	if err != nil {
		return nil, err
	}

	yearAxis, _ := raw.Axis(cube.YearAxis)
	xs, err := yearAxis.Floats()
	if err != nil {
		return nil, err
	}
	out := cube.New(
		cube.NewAxis(cube.RegionAxis, raw.Labels(cube.RegionAxis)...),
		cube.NewAxis(cube.VariableAxis, raw.Labels(cube.VariableAxis)...),
	)
	for _, region := range raw.Labels(cube.RegionAxis) {
		for _, variable := range raw.Labels(cube.VariableAxis) {
			ys := make([]float64, len(xs))
			for i, yl := range yearAxis.Labels {
				ys[i], _ = raw.At(region, variable, yl)
			}
			v := fillAndSample(xs, ys, GNRReferenceYear)
			if math.IsNaN(v) {
				v = 0
			}
			_ = out.Set(v, region, variable)
		}
	}
	return out, nil
}

// fillAndSample fills NaNs of ys linearly (extrapolating past the ends from
// the two nearest known points), then samples the filled series at x. x
// outside the xs range yields NaN.
func fillAndSample(xs, ys []float64, x float64) float64 {
	var kx, ky []float64
	for i := range xs {
		if !math.IsNaN(ys[i]) {
			kx = append(kx, xs[i])
			ky = append(ky, ys[i])
		}
	}
	if len(kx) == 0 || len(xs) == 0 || x < xs[0] || x > xs[len(xs)-1] {
		return math.NaN()
	}
	if len(kx) == 1 {
		return ky[0]
	}
	at := func(px float64) float64 {
		j := 0
		if px >= kx[len(kx)-1] {
			j = len(kx) - 2
		} else {
			for px > kx[0] && kx[j+1] < px {
				j++
			}
		}
		w := (px - kx[j]) / (kx[j+1] - kx[j])
		return ky[j] + w*(ky[j+1]-ky[j])
	}
	// sample the filled grid, then interpolate on it
	filled := make([]float64, len(xs))
	for i := range xs {
		if !math.IsNaN(ys[i]) {
			filled[i] = ys[i]
		} else {
			filled[i] = at(xs[i])
		}
	}
	for i := range xs {
		if xs[i] == x {
			return filled[i]
		}
		if i+1 < len(xs) && xs[i] < x && x < xs[i+1] {
			w := (x - xs[i]) / (xs[i+1] - xs[i])
			return filled[i] + w*(filled[i+1]-filled[i])
		}
	}
	return math.NaN()
}

// Lifetimes reads technology;years pairs.
func (t *Tables) Lifetimes() (map[string]float64, error) {
	return t.pairs(LifetimesFile)
}

// LowerHeatingValues reads fuel;MJ-per-unit pairs.
func (t *Tables) LowerHeatingValues() (map[string]float64, error) {
	return t.pairs(LHVFile)
}

// pairs reads a two-column `;` table. Rows whose second cell is not a number,
// such as a header, are skipped.
func (t *Tables) pairs(name string) (map[string]float64, error) {
	rows, err := t.readAll(name, ';', 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(r[1]), 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(r[0])] = v
	}
	return out, nil
}
