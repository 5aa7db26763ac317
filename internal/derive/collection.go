// Package derive reduces a raw scenario cube to the cubes the graph
// transformations consume: market shares, efficiency ratios, emission ratios,
// carbon-capture rates and production volumes.
//
// Every cube is built once by NewCollection and is read-only afterwards. All
// derivations resolve the target year by linear interpolation and refuse a
// year outside the tabulated range.
package derive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrMissingVariable is returned when none of the variables a derivation
// needs is present in the scenario.
var ErrMissingVariable = errors.New("missing scenario variable")

// ReferenceYear is the year efficiency and emission ratios are relative to.
const ReferenceYear = 2020

// DefaultTimeHorizon is the marginal-market horizon, in years.
const DefaultTimeHorizon = 30

// SystemModel selects how market shares are computed.
type SystemModel string

const (
	Attributional SystemModel = "attributional"
	Consequential SystemModel = "consequential"
)

// ParseSystemModel accepts the two system model names, case-insensitively.
func ParseSystemModel(s string) (SystemModel, error) {
	switch m := SystemModel(strings.ToLower(strings.TrimSpace(s))); m {
	case "", Attributional:
		return Attributional, nil
	case Consequential:
		return Consequential, nil
	default:
		return "", fmt.Errorf("unknown system model %q", s)
	}
}

// Options are the inputs of NewCollection.
type Options struct {
	Model       string
	Pathway     string
	Year        int
	SystemModel SystemModel
	TimeHorizon int

	// Raw is the region x variable x year scenario cube.
	Raw *cube.Cube
	// EmissionFactors is the region x pollutant x sector x year pollutant
	// table. Nil skips emission ratios.
	EmissionFactors *cube.Cube
	// CementProperties is passed through untouched.
	CementProperties *cube.Cube
	// Lifetimes by canonical technology name. Required for consequential
	// markets only.
	Lifetimes map[string]float64

	Catalog *aliases.Catalog
	Metrics *observability.Collector
	Logger  *zap.Logger
}

// Collection holds every derived cube of one (model, pathway, year).
type Collection struct {
	Model       string
	Pathway     string
	Year        int
	SystemModel SystemModel
	Regions     []string

	// ElectricityMarkets and FuelMarkets are region x variable shares.
	ElectricityMarkets *cube.Cube
	FuelMarkets        *cube.Cube
	// Efficiency is region x variable, electricity, steel, cement and fuels
	// joined along variable.
	Efficiency *cube.Cube
	// Emissions is region x pollutant x sector. Nil without emission factors.
	Emissions *cube.Cube
	// CarbonCaptureRate is region x variable{cement, steel}.
	CarbonCaptureRate *cube.Cube
	// ProductionVolumes is region x variable x year.
	ProductionVolumes *cube.Cube
	CementProperties  *cube.Cube
	// LandUse and LandUseChange are region x variable x year, nil when the
	// model has no land-use aliases.
	LandUse       *cube.Cube
	LandUseChange *cube.Cube
}

// builder carries the shared inputs of one NewCollection call.
type builder struct {
	opts Options
	raw  *cube.Cube
	year float64
	log  *zap.Logger
}

// NewCollection derives every cube from opts.
func NewCollection(ctx context.Context, opts Options) (col *Collection, err error) {
	ctx, span := observability.StartSpan(ctx, "derive.NewCollection",
		attribute.String("model", opts.Model),
		attribute.String("pathway", opts.Pathway),
		attribute.Int("year", opts.Year))
	defer func() { observability.EndSpan(span, err) }()

	if opts.Raw == nil {
		return nil, fmt.Errorf("derive: no scenario cube")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("derive: no alias catalog")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SystemModel == "" {
		opts.SystemModel = Attributional
	}
	if opts.TimeHorizon <= 0 {
		opts.TimeHorizon = DefaultTimeHorizon
	}
	b := &builder{
		opts: opts,
		raw:  opts.Raw,
		year: float64(opts.Year),
		log:  opts.Logger.With(zap.String("model", opts.Model), zap.String("pathway", opts.Pathway), zap.Int("year", opts.Year)),
	}
	if err := checkYear(b.raw, opts.Year); err != nil {
		return nil, err
	}

	col = &Collection{
		Model:            opts.Model,
		Pathway:          opts.Pathway,
		Year:             opts.Year,
		SystemModel:      opts.SystemModel,
		Regions:          b.raw.Labels(cube.RegionAxis),
		CementProperties: opts.CementProperties,
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"electricity_markets", func() (err error) { col.ElectricityMarkets, err = b.electricityMarkets(); return }},
		{"fuel_markets", func() (err error) { col.FuelMarkets, err = b.fuelMarkets(); return }},
		{"production_volumes", func() (err error) { col.ProductionVolumes, err = b.productionVolumes(); return }},
		{"carbon_capture_rate", func() (err error) { col.CarbonCaptureRate, err = b.carbonCaptureRate(); return }},
		{"efficiency", func() (err error) { col.Efficiency, err = b.efficiencies(); return }},
		{"emissions", func() (err error) { col.Emissions, err = b.emissions(); return }},
		{"land_use", func() (err error) { col.LandUse, col.LandUseChange, err = b.landUse(); return }},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		_, stepSpan := observability.StartSpan(ctx, "derive."+s.name)
		err := s.run()
		observability.EndSpan(stepSpan, err)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", s.name, err)
		}
		opts.Metrics.ObserveDerivation(s.name, start)
	}
	b.log.Info("scenario cubes derived",
		zap.String("system_model", string(opts.SystemModel)),
		zap.Int("regions", len(col.Regions)))
	return col, nil
}

// checkYear fails with cube.ErrOutOfRange when year is outside the year axis
// of c.
func checkYear(c *cube.Cube, year int) error {
	ax, ok := c.Axis(cube.YearAxis)
	if !ok {
		return fmt.Errorf("%w: %s", cube.ErrNoAxis, cube.YearAxis)
	}
	lo, hi, err := ax.Bounds()
	if err != nil {
		return err
	}
	if y := float64(year); y < lo || y > hi {
		return fmt.Errorf("%w: %d is outside of the scenario years %v-%v", cube.ErrOutOfRange, year, lo, hi)
	}
	return nil
}

// available splits m into entries whose variables all exist in the raw cube.
// Missing entries are logged; when none is left the result is
// ErrMissingVariable.
func (b *builder) available(m aliases.Mapping) ([]aliases.Entry, error) {
	present := map[string]struct{}{}
	for _, v := range b.raw.Labels(cube.VariableAxis) {
		present[v] = struct{}{}
	}
	var keep []aliases.Entry
	var missing []string
	for _, e := range m.Entries() {
		ok := len(e.Variables) > 0
		for _, v := range e.Variables {
			if _, found := present[v]; !found {
				ok = false
				missing = append(missing, v)
			}
		}
		if ok {
			keep = append(keep, e)
		}
	}
	if len(missing) > 0 {
		b.log.Warn("variables not found in scenario, continuing with the rest",
			zap.String("topic", m.Topic),
			zap.String("kind", string(m.Kind)),
			zap.Strings("missing", missing))
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: none of %s/%s is in the scenario", ErrMissingVariable, m.Topic, m.Kind)
	}
	return keep, nil
}

// gather builds a region x variable x year cube labelled with canonical names.
// An entry bound to several variables is their NaN-skipping sum; a cell with
// no value in any of them stays NaN.
func gather(raw *cube.Cube, entries []aliases.Entry) (*cube.Cube, error) {
	regions := raw.Labels(cube.RegionAxis)
	years := raw.Labels(cube.YearAxis)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Canonical
	}
	yearAxis, _ := raw.Axis(cube.YearAxis)
	out := cube.NaNs(cube.NewAxis(cube.RegionAxis, regions...), cube.NewAxis(cube.VariableAxis, names...), yearAxis)
	for _, e := range entries {
		for _, r := range regions {
			for _, y := range years {
				sum, seen := 0.0, false
				for _, v := range e.Variables {
					x, err := raw.At(r, v, y)
					if err != nil {
						return nil, err
					}
					if !math.IsNaN(x) {
						sum += x
						seen = true
					}
				}
				if seen {
					if err := out.Set(sum, r, e.Canonical, y); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return out, nil
}

// relativeToReference returns interp(year)/interp(ReferenceYear) along the
// year axis.
func (b *builder) relativeToReference(c *cube.Cube) (*cube.Cube, error) {
	at, err := c.Interp(cube.YearAxis, b.year)
	if err != nil {
		return nil, err
	}
	ref, err := c.Interp(cube.YearAxis, ReferenceYear)
	if err != nil {
		return nil, fmt.Errorf("reference year %d: %w", ReferenceYear, err)
	}
	return at.Zip(ref, func(a, r float64) float64 { return a / r })
}

// referencePolicy applies the no-regression rule: after the reference year a
// ratio below 1 becomes 1, before it a ratio above 1 becomes 1. Non-finite
// ratios become 1.
func referencePolicy(year int) func(float64) float64 {
	return func(v float64) float64 {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			return 1
		case year > ReferenceYear && v < 1:
			return 1
		case year < ReferenceYear && v > 1:
			return 1
		}
		return v
	}
}

// Plausible efficiency change bounds.
const (
	minRatio = 0.5
	maxRatio = 2
)
