package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/fernet/fernet-go"
	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Loader reads one (model, pathway) result file into a region x variable x
// year cube.
type Loader struct {
	fs      billy.Filesystem
	dir     string
	pathway string
	key     *fernet.Key
	layout  Layout
	log     *zap.Logger
}

// NewLoader picks the layout for model. key may be nil for plaintext files.
func NewLoader(fsys billy.Filesystem, dir, model, pathway string, key *fernet.Key, log *zap.Logger) (*Loader, error) {
	layout, err := LayoutFor(model)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{fs: fsys, dir: dir, pathway: pathway, key: key, layout: layout, log: log}, nil
}

// Layout returns the layout chosen at construction.
func (l *Loader) Layout() Layout { return l.layout }

// Load reads, decrypts and parses the scenario file. Duplicate (region,
// variable, year) rows are averaged; empty or non-numeric cells are absent
// and show up as NaN.
func (l *Loader) Load(ctx context.Context) (c *cube.Cube, err error) {
	ctx, span := observability.StartSpan(ctx, "ingest.Load",
		attribute.String("model", l.layout.Model),
		attribute.String("pathway", l.pathway))
	defer func() { observability.EndSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, p, err := readScenario(l.fs, l.dir, l.layout.Model, l.pathway, l.key)
	if err != nil {
		return nil, err
	}
	c, err = l.parse(strings.NewReader(latin1(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	l.log.Info("scenario loaded",
		zap.String("file", p),
		zap.Int("regions", len(c.Labels(cube.RegionAxis))),
		zap.Int("variables", len(c.Labels(cube.VariableAxis))),
		zap.Strings("years", c.Labels(cube.YearAxis)))
	return c, nil
}

type row struct {
	region, variable string
	values           []float64 // aligned with header years; NaN when absent
}

func (l *Loader) parse(r io.Reader) (*cube.Cube, error) {
	cr := csv.NewReader(r)
	cr.Comma = l.layout.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := scenarioColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []row
	regions := map[string]struct{}{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) <= cols.variable || len(rec) <= cols.region {
			continue
		}
		region, variable := strings.TrimSpace(rec[cols.region]), strings.TrimSpace(rec[cols.variable])
		regions[region] = struct{}{}
		if !l.layout.keep(variable) {
			continue
		}
		vals := make([]float64, len(cols.years))
		for i, ci := range cols.yearIdx {
			vals[i] = math.NaN()
			if ci < len(rec) {
				vals[i] = parseCell(rec[ci])
			}
		}
		rows = append(rows, row{region: region, variable: variable, values: vals})
	}

	drop := l.layout.dropped(regions)
	if len(drop) > 0 {
		l.log.Debug("dropping aggregate regions", zap.Int("count", len(drop)))
	}
	g := newGrouper(cube.RegionAxis, cube.VariableAxis, cube.YearAxis)
	for _, r := range rows {
		if _, skip := drop[r.region]; skip {
			continue
		}
		for i, v := range r.values {
			g.add(v, r.region, r.variable, strconv.Itoa(cols.years[i]))
		}
	}
	return g.cube()
}

type columns struct {
	region, variable int
	years            []int
	yearIdx          []int
}

// scenarioColumns locates Region, Variable and the year columns. A trailing
// unnamed column, as written by some exporters, is ignored along with every
// other non-numeric header.
func scenarioColumns(header []string) (columns, error) {
	c := columns{region: -1, variable: -1}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch strings.ToLower(h) {
		case "region":
			c.region = i
		case "variable", "variables":
			c.variable = i
		default:
			if y, err := strconv.Atoi(h); err == nil {
				c.years = append(c.years, y)
				c.yearIdx = append(c.yearIdx, i)
			}
		}
	}
	if c.region < 0 || c.variable < 0 {
		return c, fmt.Errorf("header lacks Region/Variable columns: %v", header)
	}
	if len(c.years) == 0 {
		return c, fmt.Errorf("header has no year columns")
	}
	return c, nil
}

func parseCell(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// grouper averages observations sharing the same labels. The last dimension
// is always the year axis.
type grouper struct {
	dims   []string
	labels []map[string]struct{}
	cells  map[string]*meanCell
}

type meanCell struct {
	labels []string
	sum    float64
	n      int
}

func newGrouper(dims ...string) *grouper {
	g := &grouper{dims: dims, cells: map[string]*meanCell{}}
	g.labels = make([]map[string]struct{}, len(dims))
	for i := range g.labels {
		g.labels[i] = map[string]struct{}{}
	}
	return g
}

// touch registers labels without an observation, so the cell exists as NaN.
func (g *grouper) touch(labels ...string) {
	for i, l := range labels {
		g.labels[i][l] = struct{}{}
	}
}

func (g *grouper) add(v float64, labels ...string) {
	g.touch(labels...)
	if math.IsNaN(v) {
		return
	}
	k := strings.Join(labels, "\x00")
	m, ok := g.cells[k]
	if !ok {
		m = &meanCell{labels: slices.Clone(labels)}
		g.cells[k] = m
	}
	m.sum += v
	m.n++
}

func (g *grouper) cube() (*cube.Cube, error) {
	axes := make([]cube.Axis, len(g.dims))
	for i, d := range g.dims {
		if d == cube.YearAxis {
			years := make([]int, 0, len(g.labels[i]))
			for l := range g.labels[i] {
				y, err := strconv.Atoi(l)
				if err != nil {
					return nil, fmt.Errorf("year %q is not an integer", l)
				}
				years = append(years, y)
			}
			axes[i] = cube.NewYearAxis(years...)
			continue
		}
		axes[i] = cube.NewAxis(d, sortedKeys(g.labels[i])...)
	}
	out := cube.NaNs(axes...)
	for _, m := range g.cells {
		if err := out.Set(m.sum/float64(m.n), m.labels...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
