// Package geo maps scenario regions to LCI locations and back.
//
// The correspondence tables are embedded per model. A table is built once per
// run and answers three questions: which LCI locations a scenario region
// covers, which scenario region an LCI location belongs to, and which
// pollutant-table region stands in for a scenario region.
package geo

import (
	"embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// World is the catch-all scenario region.
const World = "World"

// Fallback LCI locations, most to least specific after the mapped locations.
const (
	Europe       = "RER"
	RestOfWorld  = "RoW"
	GlobalLocale = "GLO"
)

var ErrUnknownModel = errors.New("no region table for model")

//go:embed tables/*.yaml
var tables embed.FS

type document struct {
	Regions    map[string][]string `yaml:"regions"`
	Subregions map[string][]string `yaml:"subregions"`
	Locations  map[string]string   `yaml:"locations"`
	GAINS      map[string]string   `yaml:"gains"`
}

// Table is the region correspondence of one model. It is not safe for
// concurrent use.
type Table struct {
	model   string
	regions []string
	toLoc   map[string][]string
	toIAM   map[string]string
	toGAINS map[string]string
	warned  map[string]struct{}
	log     *zap.Logger
}

// New builds the table of model. current lists the regions the scenario
// actually reports; subregions in it take over the locations of their parent
// aggregate. A nil current keeps the top-level regions.
func New(model string, current []string, log *zap.Logger) (*Table, error) {
	if log == nil {
		log = zap.NewNop()
	}
	raw, err := tables.ReadFile("tables/" + strings.ToLower(model) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse region table %s: %w", model, err)
	}

	t := &Table{
		model:   strings.ToLower(model),
		toLoc:   map[string][]string{},
		toIAM:   map[string]string{},
		toGAINS: doc.GAINS,
		warned:  map[string]struct{}{},
		log:     log,
	}
	if current == nil {
		for r := range doc.Regions {
			current = append(current, r)
		}
	}
	active := map[string]struct{}{}
	for _, r := range current {
		active[r] = struct{}{}
	}

	// parents first, so subregions overwrite their locations
	for _, layer := range []map[string][]string{doc.Regions, doc.Subregions} {
		for _, r := range sortedRegions(layer) {
			if _, ok := active[r]; !ok {
				continue
			}
			for _, loc := range layer[r] {
				if prev, ok := t.toIAM[loc]; ok && prev != r {
					t.toLoc[prev] = slices.DeleteFunc(t.toLoc[prev], func(l string) bool { return l == loc })
				}
				t.toIAM[loc] = r
				t.toLoc[r] = append(t.toLoc[r], loc)
			}
			t.regions = append(t.regions, r)
		}
	}
	// aggregates map both ways, after the locations they contain
	aggregates := make([]string, 0, len(doc.Locations))
	for loc := range doc.Locations {
		aggregates = append(aggregates, loc)
	}
	slices.Sort(aggregates)
	for _, loc := range aggregates {
		r := doc.Locations[loc]
		if _, ok := active[r]; !ok && r != World {
			continue
		}
		t.toIAM[loc] = r
		if !slices.Contains(t.toLoc[r], loc) {
			t.toLoc[r] = append(t.toLoc[r], loc)
		}
	}
	slices.Sort(t.regions)
	return t, nil
}

func sortedRegions(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Model returns the lowercase model name.
func (t *Table) Model() string { return t.model }

// Regions returns the active scenario regions, sorted. World is not listed.
func (t *Table) Regions() []string { return slices.Clone(t.regions) }

// IsRegion reports whether r is an active scenario region or World.
func (t *Table) IsRegion(r string) bool {
	if r == World {
		return true
	}
	_, ok := slices.BinarySearch(t.regions, r)
	return ok
}

// IAMToLocations returns the LCI locations covered by region, aggregates such
// as RER or GLO last. It is the inverse of LocationToIAM.
func (t *Table) IAMToLocations(region string) []string {
	return slices.Clone(t.toLoc[region])
}

// LocationToIAM returns the scenario region of an LCI location. A location
// that already is a scenario region maps to itself. Anything unknown maps to
// World, with a warning the first time it is seen.
func (t *Table) LocationToIAM(location string) string {
	if t.IsRegion(location) {
		return location
	}
	if r, ok := t.toIAM[location]; ok {
		return r
	}
	if _, seen := t.warned[location]; !seen {
		t.warned[location] = struct{}{}
		t.log.Warn("location has no scenario region, using World",
			zap.String("model", t.model), zap.String("location", location))
	}
	return World
}

// IAMToGAINSRegion returns the pollutant-table region standing in for region.
// Models without a dedicated mapping share their regions with the table.
func (t *Table) IAMToGAINSRegion(region string) string {
	if g, ok := t.toGAINS[region]; ok {
		return g
	}
	return region
}

// FallbackTiers returns the ordered location sets to search when looking for
// a supplier or a template for region.
func (t *Table) FallbackTiers(region string) [][]string {
	return [][]string{
		{region},
		t.IAMToLocations(region),
		{Europe},
		{RestOfWorld},
		{GlobalLocale},
	}
}
