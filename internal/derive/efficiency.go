package derive

import (
	"errors"
	"math"

	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/cube"
	"go.uber.org/zap"
)

// Canonical labels of the industrial efficiency rows.
const (
	CementLabel         = "cement"
	SteelPrimaryLabel   = "steel - primary"
	SteelSecondaryLabel = "steel - secondary"
)

// efficiencies joins electricity, steel, cement and fuel ratios along the
// variable axis. A label present in several topics keeps its first value.
func (b *builder) efficiencies() (*cube.Cube, error) {
	elec, err := b.technologyEfficiency(aliases.Electricity, false)
	if err != nil {
		return nil, err
	}
	steel, err := b.industryEfficiency(aliases.Steel, SteelPrimaryLabel, SteelSecondaryLabel)
	if err != nil {
		return nil, err
	}
	cement, err := b.industryEfficiency(aliases.Cement, CementLabel)
	if err != nil {
		return nil, err
	}
	fuels, err := b.technologyEfficiency(aliases.Fuels, true)
	if err != nil {
		return nil, err
	}
	return b.concatDistinct(cube.VariableAxis, elec, steel, cement, fuels)
}

// technologyEfficiency derives interp(year)/interp(reference) for every
// eff_aliases entry of topic, then applies the reference policy. clip bounds
// the result to the plausible range.
func (b *builder) technologyEfficiency(topic string, clip bool) (*cube.Cube, error) {
	m, err := b.opts.Catalog.Lookup(topic, aliases.Efficiency)
	if err != nil {
		return nil, err
	}
	entries, err := b.available(m)
	if err != nil {
		return nil, err
	}
	series, err := gather(b.raw, entries)
	if err != nil {
		return nil, err
	}
	ratio, err := b.relativeToReference(series)
	if err != nil {
		return nil, err
	}
	ratio = ratio.Map(referencePolicy(b.opts.Year))
	if clip {
		ratio = ratio.Clip(minRatio, maxRatio)
	}
	return ratio, nil
}

// industryEfficiency derives one efficiency ratio per label of an industrial
// topic. Each label falls through three tiers: a direct efficiency alias
// (efficiency is the inverse of the specific energy it names), a ratio of
// energy use to production, and finally no change.
func (b *builder) industryEfficiency(topic string, labels ...string) (*cube.Cube, error) {
	eff, err := b.opts.Catalog.Lookup(topic, aliases.Efficiency)
	if err != nil {
		return nil, err
	}
	prod, err := b.opts.Catalog.Lookup(topic, aliases.IAM)
	if err != nil {
		return nil, err
	}
	energy, err := b.opts.Catalog.Lookup(topic, aliases.EnergyUse)
	if err != nil {
		return nil, err
	}

	parts := make([]*cube.Cube, 0, len(labels))
	for _, label := range labels {
		series, tier := b.specificEfficiency(label, eff, prod, energy)
		var ratio *cube.Cube
		if series == nil {
			b.log.Warn("no efficiency variables for sector, assuming no change",
				zap.String("topic", topic), zap.String("sector", label))
			ratio = cube.Full(1,
				cube.NewAxis(cube.RegionAxis, b.raw.Labels(cube.RegionAxis)...),
				cube.NewAxis(cube.VariableAxis, label))
		} else {
			b.log.Debug("sector efficiency source", zap.String("sector", label), zap.String("tier", tier))
			if ratio, err = b.relativeToReference(series); err != nil {
				return nil, err
			}
		}
		parts = append(parts, ratio.Map(referencePolicy(b.opts.Year)).Clip(minRatio, maxRatio))
	}
	return cube.Concat(cube.VariableAxis, parts...)
}

// specificEfficiency returns a region x variable{label} x year series of the
// inverse specific energy of label, or nil when no tier has data.
func (b *builder) specificEfficiency(label string, eff, prod, energy aliases.Mapping) (*cube.Cube, string) {
	if eff.Len() > 0 {
		vars, ok := eff.Get(label)
		if !ok || !b.hasAll(vars) {
			return nil, ""
		}
		s, err := gather(b.raw, []aliases.Entry{{Canonical: label, Variables: vars}})
		if err != nil {
			return nil, ""
		}
		return s.Map(func(v float64) float64 { return 1 / v }), "direct"
	}

	prodVars, okP := prod.Get(label)
	energyVars, okE := energy.Get(label)
	if !okP || !okE || !b.hasAll(prodVars) || !b.hasAll(energyVars) {
		return nil, ""
	}
	p, err := gather(b.raw, []aliases.Entry{{Canonical: label, Variables: prodVars}})
	if err != nil {
		return nil, ""
	}
	e, err := gather(b.raw, []aliases.Entry{{Canonical: label, Variables: energyVars}})
	if err != nil {
		return nil, ""
	}
	s, err := p.Zip(e, func(prod, energy float64) float64 { return prod / energy })
	if err != nil {
		return nil, ""
	}
	return s, "derived"
}

func (b *builder) hasAll(vars []string) bool {
	ax, _ := b.raw.Axis(cube.VariableAxis)
	if len(vars) == 0 {
		return false
	}
	for _, v := range vars {
		if !ax.Has(v) {
			return false
		}
	}
	return true
}

// concatDistinct joins cubes along axis, dropping labels already taken by an
// earlier cube.
func (b *builder) concatDistinct(axis string, cubes ...*cube.Cube) (*cube.Cube, error) {
	seen := map[string]struct{}{}
	parts := make([]*cube.Cube, 0, len(cubes))
	for _, c := range cubes {
		var keep, dup []string
		for _, l := range c.Labels(axis) {
			if _, ok := seen[l]; ok {
				dup = append(dup, l)
				continue
			}
			seen[l] = struct{}{}
			keep = append(keep, l)
		}
		if len(dup) > 0 {
			b.log.Debug("duplicate labels dropped", zap.String("axis", axis), zap.Strings("labels", dup))
		}
		if len(keep) == 0 {
			continue
		}
		sub, err := c.Sel(axis, keep...)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub)
	}
	if len(parts) == 0 {
		return nil, errors.New("nothing to join")
	}
	return cube.Concat(axis, parts...)
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
