// Package pipeline runs the derive and transform steps of one
// (model, pathway, year) run from an api.RunConfig.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/agentic-research/lcimorph/api"
	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/audit"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/derive"
	"github.com/agentic-research/lcimorph/internal/geo"
	"github.com/agentic-research/lcimorph/internal/ingest"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/agentic-research/lcimorph/internal/transform"
	"github.com/fernet/fernet-go"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AliasDir is the directory of the alias catalogs inside the data directory.
const AliasDir = "aliases"

// Env is where a run reads its inputs and writes its audit log.
type Env struct {
	// Data holds the alias catalogs under AliasDir and the auxiliary tables
	// at its root.
	Data      billy.Filesystem
	Scenarios billy.Filesystem
	// Custom resolves the workbook and config paths of custom scenarios.
	Custom billy.Filesystem
	Logs   billy.Filesystem

	Metrics *observability.Collector
	Logger  *zap.Logger
	Now     func() time.Time
}

// OSEnv roots every filesystem of Env at the directories named in cfg.
// Custom scenario paths are resolved from the filesystem root, so callers
// pass them absolute.
func OSEnv(cfg *api.RunConfig, metrics *observability.Collector, log *zap.Logger) Env {
	return Env{
		Data:      osfs.New(cfg.DataDir),
		Scenarios: osfs.New(cfg.ScenarioDir),
		Custom:    osfs.New("/"),
		Logs:      osfs.New(cfg.LogDir),
		Metrics:   metrics,
		Logger:    log,
		Now:       time.Now,
	}
}

func (e *Env) defaults() {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
}

// Derivation is the output of Derive.
type Derivation struct {
	Collection *derive.Collection
	Custom     []*ingest.CustomScenario
	// LowerHeatingValues is nil when the data directory has no LHV table.
	LowerHeatingValues map[string]float64
}

// Derive loads the scenario and auxiliary tables and derives every cube.
// Missing optional tables are logged and skipped.
func Derive(ctx context.Context, cfg *api.RunConfig, env Env) (d *Derivation, err error) {
	env.defaults()
	ctx, span := observability.StartSpan(ctx, "pipeline.Derive",
		attribute.String("model", cfg.Model),
		attribute.String("pathway", cfg.Pathway),
		attribute.Int("year", cfg.Year))
	defer func() { observability.EndSpan(span, err) }()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := env.Logger.With(zap.String("model", cfg.Model), zap.String("pathway", cfg.Pathway))

	var key *fernet.Key
	if cfg.Key != "" {
		if key, err = ingest.ParseFernetKey(cfg.Key); err != nil {
			return nil, fmt.Errorf("scenario key: %w", err)
		}
	}
	systemModel, err := derive.ParseSystemModel(cfg.SystemModel)
	if err != nil {
		return nil, err
	}

	loader, err := ingest.NewLoader(env.Scenarios, ".", cfg.Model, cfg.Pathway, key, log)
	if err != nil {
		return nil, err
	}
	raw, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	tables := ingest.NewTables(env.Data, ".", log)
	emissionFactors, err := optional(log, ingest.GAINSFactorsFile, func() (*cube.Cube, error) { return tables.EmissionFactors(ctx) })
	if err != nil {
		return nil, err
	}
	cement, err := optional(log, ingest.GNRFile, func() (*cube.Cube, error) { return tables.CementProperties(ctx) })
	if err != nil {
		return nil, err
	}
	lifetimes, err := optional(log, ingest.LifetimesFile, tables.Lifetimes)
	if err != nil {
		return nil, err
	}
	lhv, err := optional(log, ingest.LHVFile, tables.LowerHeatingValues)
	if err != nil {
		return nil, err
	}

	col, err := derive.NewCollection(ctx, derive.Options{
		Model:            cfg.Model,
		Pathway:          cfg.Pathway,
		Year:             cfg.Year,
		SystemModel:      systemModel,
		TimeHorizon:      cfg.TimeHorizon,
		Raw:              raw,
		EmissionFactors:  emissionFactors,
		CementProperties: cement,
		Lifetimes:        lifetimes,
		Catalog:          aliases.NewCatalog(env.Data, AliasDir, cfg.Model, log),
		Metrics:          env.Metrics,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	d = &Derivation{Collection: col, LowerHeatingValues: lhv}
	for _, cs := range cfg.CustomScenarios {
		custom, err := ingest.LoadCustomScenario(ctx, env.Custom,
			ingest.CustomScenarioSpec{Workbook: cs.Workbook, Config: cs.Config},
			cfg.Model, cfg.Pathway, cfg.Year, log)
		if err != nil {
			return nil, err
		}
		d.Custom = append(d.Custom, custom)
	}
	return d, nil
}

// optional runs load and turns a missing file into a zero value and a
// warning.
func optional[T any](log *zap.Logger, name string, load func() (T, error)) (T, error) {
	v, err := load()
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("auxiliary table not found, skipped", zap.String("table", name))
		var zero T
		return zero, nil
	}
	return v, err
}

// Report summarizes a transform run.
type Report struct {
	// Proxies counts the proxies created per template name.
	Proxies    map[string]int
	Relink     transform.RelinkStats
	Activities int
	AuditPath  string
}

// Transform derives the scenario, replicates every template per region,
// relinks the graph and writes it to cfg.OutputPath.
func Transform(ctx context.Context, cfg *api.RunConfig, env Env) (r *Report, err error) {
	env.defaults()
	ctx, span := observability.StartSpan(ctx, "pipeline.Transform")
	defer func() { observability.EndSpan(span, err) }()

	if err := cfg.ValidateTransform(); err != nil {
		return nil, err
	}
	d, err := Derive(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	col := d.Collection

	g, err := ingest.ReadInventory(ctx, cfg.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	table, err := geo.New(cfg.Model, col.Regions, env.Logger)
	if err != nil {
		return nil, err
	}
	al := audit.New(env.Logs, ".", cfg.Model, cfg.Pathway, cfg.Year, env.Now())
	tr, err := transform.New(transform.Options{
		Graph:              g,
		Collection:         col,
		Geo:                table,
		Run:                transform.NewRunContext(al, env.Metrics),
		LowerHeatingValues: d.LowerHeatingValues,
		Logger:             env.Logger,
	})
	if err != nil {
		return nil, err
	}

	r = &Report{Proxies: make(map[string]int, len(cfg.Templates)), AuditPath: al.Path()}
	for _, tpl := range cfg.Templates {
		proxies, err := tr.FetchProxies(ctx, tpl.Name, tpl.Product, tpl.ProductionVariables, tpl.Relink)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", tpl.Name, err)
		}
		r.Proxies[tpl.Name] = len(proxies)
	}
	if r.Relink, err = tr.RelinkDatasets(ctx, cfg.RelinkExcludes, cfg.AlternativeNames); err != nil {
		return nil, err
	}

	_ = os.Remove(cfg.OutputPath) // overwrite
	if err := ingest.WriteInventory(cfg.OutputPath, g); err != nil {
		return nil, fmt.Errorf("write inventory: %w", err)
	}
	r.Activities = g.Len()
	env.Logger.Info("transform complete",
		zap.Int("activities", r.Activities),
		zap.Int("relinked", r.Relink.Resolved),
		zap.Int("dangling", r.Relink.Unresolved),
		zap.String("output", cfg.OutputPath))
	return r, nil
}
