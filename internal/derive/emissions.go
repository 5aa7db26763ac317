package derive

import (
	"fmt"
	"math"

	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/geo"
	"go.uber.org/zap"
)

// Pollutant table sector codes of the industrial sectors.
const (
	CementSector = "CEMENT"
	SteelSector  = "STEEL"
)

// emissions returns region x pollutant x sector improvement factors:
// 1/(factor(year)/factor(reference)), with the reference policy and no
// plausibility clip. Electricity sectors come from gains_aliases; cement and
// steel from their fixed sector codes.
func (b *builder) emissions() (*cube.Cube, error) {
	ef := b.opts.EmissionFactors
	if ef == nil {
		b.log.Info("no emission factor table, skipping emission ratios")
		return nil, nil
	}
	if err := checkYear(ef, b.opts.Year); err != nil {
		return nil, fmt.Errorf("emission factors: %w", err)
	}

	m, err := b.opts.Catalog.Lookup(aliases.Electricity, aliases.GAINS)
	if err != nil {
		return nil, err
	}
	type pick struct{ canonical, sector string }
	var picks []pick
	for _, e := range m.Entries() {
		if len(e.Variables) > 0 {
			picks = append(picks, pick{e.Canonical, e.Variables[0]})
		}
	}
	picks = append(picks, pick{CementLabel, CementSector}, pick{"steel", SteelSector})

	sectors, _ := ef.Axis(cube.SectorAxis)
	var parts []*cube.Cube
	var missing []string
	for _, p := range picks {
		if !sectors.Has(p.sector) {
			missing = append(missing, p.sector)
			continue
		}
		sub, err := ef.Sel(cube.SectorAxis, p.sector)
		if err != nil {
			return nil, err
		}
		if sub, err = sub.Relabel(cube.SectorAxis, []string{p.canonical}); err != nil {
			return nil, err
		}
		parts = append(parts, sub)
	}
	if len(missing) > 0 {
		b.log.Warn("sectors not found in emission factors, continuing with the rest",
			zap.Strings("missing", missing))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no sector of the emission factor table is mapped", ErrMissingVariable)
	}
	joined, err := b.concatDistinct(cube.SectorAxis, parts...)
	if err != nil {
		return nil, err
	}

	at, err := joined.Interp(cube.YearAxis, b.year)
	if err != nil {
		return nil, err
	}
	ref, err := joined.Interp(cube.YearAxis, ReferenceYear)
	if err != nil {
		return nil, fmt.Errorf("reference year %d: %w", ReferenceYear, err)
	}
	ratio, err := at.Zip(ref, func(a, r float64) float64 { return 1 / (a / r) })
	if err != nil {
		return nil, err
	}
	return ratio.Map(referencePolicy(b.opts.Year)), nil
}

// Carbon-capture alias keys.
const (
	cementCaptured = "cement - cco2"
	cementEmitted  = "cement - co2"
	steelCaptured  = "steel - cco2"
	steelEmitted   = "steel - co2"
)

// carbonCaptureRate returns region x variable{cement, steel} capture rates at
// the run year: captured/(captured+emitted), NaN as 0, bounded to [0, 1]. The
// World row is always recomputed from the other regions.
func (b *builder) carbonCaptureRate() (*cube.Cube, error) {
	m, err := b.opts.Catalog.Lookup(aliases.CarbonCapture, aliases.IAM)
	if err != nil {
		return nil, err
	}

	regions := b.raw.Labels(cube.RegionAxis)
	regionAxis := cube.NewAxis(cube.RegionAxis, regions...)
	if !regionAxis.Has(geo.World) {
		regionAxis = cube.NewAxis(cube.RegionAxis, append(regions, geo.World)...)
	}
	yearAxis, _ := b.raw.Axis(cube.YearAxis)
	out := cube.New(regionAxis, cube.NewAxis(cube.VariableAxis, CementLabel, "steel"), yearAxis)

	for _, sector := range []struct{ label, captured, emitted string }{
		{CementLabel, cementCaptured, cementEmitted},
		{"steel", steelCaptured, steelEmitted},
	} {
		capVars, err1 := m.Require(sector.captured)
		emiVars, err2 := m.Require(sector.emitted)
		if err1 != nil || err2 != nil || !b.hasAll(capVars) || !b.hasAll(emiVars) {
			b.log.Warn("no carbon capture variables for sector, rate set to zero", zap.String("sector", sector.label))
			continue
		}
		captured, err := gather(b.raw, []aliases.Entry{{Canonical: sector.label, Variables: capVars}})
		if err != nil {
			return nil, err
		}
		emitted, err := gather(b.raw, []aliases.Entry{{Canonical: sector.label, Variables: emiVars}})
		if err != nil {
			return nil, err
		}
		for _, y := range yearAxis.Labels {
			var sumCap, sumAll float64
			for _, r := range regions {
				c, _ := captured.At(r, sector.label, y)
				e, _ := emitted.At(r, sector.label, y)
				if r != geo.World {
					// missing cells count as zero, so captured with no
					// vented figure reads as full capture
					c, e = finiteOr(c, 0), finiteOr(e, 0)
					sumCap += c
					sumAll += c + e
					_ = out.Set(captureRate(c, c+e), r, sector.label, y)
				}
			}
			_ = out.Set(captureRate(sumCap, sumAll), geo.World, sector.label, y)
		}
	}
	return out.Interp(cube.YearAxis, b.year)
}

func captureRate(captured, total float64) float64 {
	r := finiteOr(captured/total, 0)
	return math.Max(0, math.Min(1, r))
}
