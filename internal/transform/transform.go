// Package transform rewrites an activity graph against the derived scenario
// cubes: it replicates template activities per scenario region, relinks
// dangling supply edges, and applies efficiency, carbon-capture and pollutant
// corrections to individual activities.
//
// A Transformation owns the graph for its lifetime. It is not safe for
// concurrent use.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/agentic-research/lcimorph/internal/audit"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/derive"
	"github.com/agentic-research/lcimorph/internal/geo"
	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/agentic-research/lcimorph/internal/observability"
	"go.uber.org/zap"
)

var (
	ErrNoTemplateFound = errors.New("no template activity found")
	ErrNoSupplier      = errors.New("no supplier found")
)

// RunContext holds the state one pipeline run shares across transformations.
// A new run needs a new context: relink resolutions are specific to a
// scenario and year.
type RunContext struct {
	Audit   *audit.Log
	Metrics *observability.Collector

	// origin location -> dangling edge -> resolved edge
	relinked map[string]map[edgeKey]edgeKey
}

// NewRunContext returns an empty run context. Both arguments may be nil.
func NewRunContext(log *audit.Log, metrics *observability.Collector) *RunContext {
	return &RunContext{Audit: log, Metrics: metrics, relinked: map[string]map[edgeKey]edgeKey{}}
}

// Options are the inputs of New.
type Options struct {
	Graph      *graph.Graph
	Collection *derive.Collection
	Geo        *geo.Table
	Run        *RunContext
	// LowerHeatingValues in MJ per unit, keyed by lowercase fuel name.
	LowerHeatingValues map[string]float64
	// Pollutants maps biosphere flow names to pollutant table codes. Nil uses
	// DefaultPollutants.
	Pollutants map[string]string
	Logger     *zap.Logger
}

// Transformation applies scenario corrections to one graph.
type Transformation struct {
	g          *graph.Graph
	col        *derive.Collection
	geo        *geo.Table
	run        *RunContext
	lhv        map[string]float64
	pollutants map[string]string
	log        *zap.Logger

	volumes *cube.Cube // production volumes at the run year
}

// New validates opts and returns a Transformation.
func New(opts Options) (*Transformation, error) {
	switch {
	case opts.Graph == nil:
		return nil, errors.New("transform: no graph")
	case opts.Collection == nil:
		return nil, errors.New("transform: no scenario collection")
	case opts.Geo == nil:
		return nil, errors.New("transform: no region table")
	}
	if opts.Run == nil {
		opts.Run = NewRunContext(nil, nil)
	}
	if opts.Pollutants == nil {
		opts.Pollutants = DefaultPollutants
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	t := &Transformation{
		g:          opts.Graph,
		col:        opts.Collection,
		geo:        opts.Geo,
		run:        opts.Run,
		lhv:        opts.LowerHeatingValues,
		pollutants: opts.Pollutants,
		log: opts.Logger.With(
			zap.String("model", opts.Collection.Model),
			zap.String("pathway", opts.Collection.Pathway),
			zap.Int("year", opts.Collection.Year)),
	}
	if pv := opts.Collection.ProductionVolumes; pv != nil {
		at, err := pv.Interp(cube.YearAxis, float64(opts.Collection.Year))
		if err != nil {
			return nil, fmt.Errorf("transform: production volumes: %w", err)
		}
		t.volumes = at
	}
	return t, nil
}

// Graph returns the graph being transformed.
func (t *Transformation) Graph() *graph.Graph { return t.g }

// Regions returns the scenario regions proxies are created for, World
// included when the scenario reports it.
func (t *Transformation) Regions() []string {
	out := t.geo.Regions()
	for _, r := range t.col.Regions {
		if r == geo.World {
			out = append(out, geo.World)
			break
		}
	}
	return out
}

// productionVolume sums the run-year volumes of vars in region. Missing cells
// count as zero; unknown labels are an error.
func (t *Transformation) productionVolume(region string, vars []string) (float64, error) {
	if len(vars) == 0 {
		return 0, nil
	}
	if t.volumes == nil {
		return 0, fmt.Errorf("%w: no production volumes", derive.ErrMissingVariable)
	}
	sum := 0.0
	for _, v := range vars {
		x, err := t.volumes.At(region, v)
		if err != nil {
			return 0, fmt.Errorf("production volume of %s in %s: %w", v, region, err)
		}
		if !math.IsNaN(x) {
			sum += x
		}
	}
	return sum, nil
}
