package ingest

import (
	"fmt"
	"slices"
	"strings"
)

// Layout describes how one model writes its result file. The set of layouts
// is closed; LayoutFor is the only way to obtain one.
type Layout struct {
	Model     string
	Delimiter rune
	// Prefixes whitelists variables by name prefix.
	Prefixes []string
	// dropAggregates removes aggregate regions when any of their
	// sub-regions is present.
	dropAggregates *aggregateRule
}

type aggregateRule struct {
	whenAny []string
	drop    []string
}

var layouts = map[string]Layout{
	"remind": {
		Model:     "remind",
		Delimiter: ';',
		Prefixes: []string{
			"SE",
			"Tech",
			"FE",
			"Production",
			"Emi|CCO2",
			"Emi|CO2",
			"Specific Energy",
		},
		dropAggregates: &aggregateRule{
			whenAny: []string{"ESC", "DEU", "NEN"},
			drop:    []string{"EUR", "NEU"},
		},
	},
	"image": {
		Model:     "image",
		Delimiter: ',',
		Prefixes: []string{
			"Secondary Energy",
			"Primary Energy|Biomass",
			"Efficiency",
			"Final Energy",
			"Production",
			"Emissions",
			"Land Use",
			"Emission Factor",
		},
	},
}

// LayoutFor returns the layout of model.
func LayoutFor(model string) (Layout, error) {
	l, ok := layouts[strings.ToLower(model)]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q (supported: remind, image)", ErrUnsupportedModel, model)
	}
	return l, nil
}

// SupportedModels lists the models with a known layout.
func SupportedModels() []string {
	out := make([]string, 0, len(layouts))
	for m := range layouts {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func (l Layout) keep(variable string) bool {
	for _, p := range l.Prefixes {
		if strings.HasPrefix(variable, p) {
			return true
		}
	}
	return false
}

// dropped returns the regions to discard given every region seen in the file.
func (l Layout) dropped(regions map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	r := l.dropAggregates
	if r == nil {
		return out
	}
	for _, sub := range r.whenAny {
		if _, ok := regions[sub]; ok {
			for _, agg := range r.drop {
				out[agg] = struct{}{}
			}
			break
		}
	}
	return out
}
