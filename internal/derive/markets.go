package derive

import (
	"fmt"
	"math"
	"strings"

	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/geo"
	"go.uber.org/zap"
)

// Technologies that never serve the marginal market.
var marginalExcluded = []string{"CHP", "biomethane"}

func (b *builder) electricityMarkets() (*cube.Cube, error) {
	m, err := b.opts.Catalog.Lookup(aliases.Electricity, aliases.IAM)
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
	return b.markets(series)
}

func (b *builder) fuelMarkets() (*cube.Cube, error) {
	m, err := b.opts.Catalog.Lookup(aliases.Fuels, aliases.IAM)
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
	if series, err = fixWorld(series, b.log); err != nil {
		return nil, err
	}
	return b.markets(series)
}

func (b *builder) markets(series *cube.Cube) (*cube.Cube, error) {
	if b.opts.SystemModel == Consequential {
		return b.marginalShares(series)
	}
	return attributionalShares(series, b.year)
}

// attributionalShares returns each variable's share of the regional total at
// year. A region with no production gets zero shares.
func attributionalShares(series *cube.Cube, year float64) (*cube.Cube, error) {
	at, err := series.Interp(cube.YearAxis, year)
	if err != nil {
		return nil, err
	}
	total, err := at.Sum(cube.VariableAxis)
	if err != nil {
		return nil, err
	}
	out := at.Clone()
	for _, r := range at.Labels(cube.RegionAxis) {
		t, _ := total.At(r)
		for _, v := range at.Labels(cube.VariableAxis) {
			x, _ := at.At(r, v)
			share := x / t
			if math.IsNaN(share) || math.IsInf(share, 0) {
				share = 0
			}
			_ = out.Set(share, r, v)
		}
	}
	return out, nil
}

// fixWorld replaces, per variable, a World row that is absent or carries no
// non-zero value with the sum over every other region. The input is not
// modified.
func fixWorld(series *cube.Cube, log *zap.Logger) (*cube.Cube, error) {
	out, err := series.WithLabel(cube.RegionAxis, geo.World)
	if err != nil {
		return nil, err
	}
	regions := out.Labels(cube.RegionAxis)
	years := out.Labels(cube.YearAxis)
	var fixed []string
	for _, v := range out.Labels(cube.VariableAxis) {
		empty := true
		for _, y := range years {
			x, _ := out.At(geo.World, v, y)
			if !math.IsNaN(x) && x != 0 {
				empty = false
				break
			}
		}
		if !empty {
			continue
		}
		for _, y := range years {
			sum := 0.0
			for _, r := range regions {
				if r == geo.World {
					continue
				}
				if x, _ := out.At(r, v, y); !math.IsNaN(x) {
					sum += x
				}
			}
			if err := out.Set(sum, geo.World, v, y); err != nil {
				return nil, err
			}
		}
		fixed = append(fixed, v)
	}
	if len(fixed) > 0 {
		log.Debug("World recomputed from regions", zap.Strings("variables", fixed))
	}
	return out, nil
}

// marginalShares implements the capital-vintage marginal supply model. For
// each region it compares the market growth over the time horizon with the
// average capital replacement rate: a market shrinking faster than its
// capital is replaced is served by the technologies in decline, any other
// market by those growing. Shares are weighted by volume at the run year.
func (b *builder) marginalShares(series *cube.Cube) (*cube.Cube, error) {
	yearAxis, _ := series.Axis(cube.YearAxis)
	_, maxYear, err := yearAxis.Bounds()
	if err != nil {
		return nil, err
	}
	end := b.year + float64(b.opts.TimeHorizon)
	if end > maxYear {
		b.log.Warn("marginal horizon beyond scenario range, clamped",
			zap.Int("horizon", b.opts.TimeHorizon),
			zap.Float64("end", end),
			zap.Float64("last_year", maxYear))
		end = maxYear
	}

	techs := series.Labels(cube.VariableAxis)
	lifetimes := make([]float64, len(techs))
	excluded := make([]bool, len(techs))
	for i, t := range techs {
		excluded[i] = isMarginExcluded(t)
		lt, ok := b.opts.Lifetimes[t]
		if !ok || lt <= 0 {
			return nil, fmt.Errorf("no lifetime for %q", t)
		}
		lifetimes[i] = lt
	}

	now, err := series.Interp(cube.YearAxis, b.year)
	if err != nil {
		return nil, err
	}
	later, err := series.Interp(cube.YearAxis, end)
	if err != nil {
		return nil, err
	}

	out := cube.New(
		cube.NewAxis(cube.RegionAxis, series.Labels(cube.RegionAxis)...),
		cube.NewAxis(cube.VariableAxis, techs...),
	)
	for _, r := range series.Labels(cube.RegionAxis) {
		v0 := make([]float64, len(techs))
		v1 := make([]float64, len(techs))
		for i, t := range techs {
			v0[i], _ = now.At(r, t)
			v1[i], _ = later.At(r, t)
		}
		shares, decline := marginalRegion(v0, v1, lifetimes, excluded)
		if shares == nil {
			b.log.Warn("no technology qualifies for the marginal market, shares set to zero",
				zap.String("region", r), zap.Bool("declining", decline))
			continue
		}
		for i, t := range techs {
			_ = out.Set(shares[i], r, t)
		}
	}
	return out, nil
}

// marginalRegion computes the marginal shares of one region from volumes at
// the run year (v0) and at the end of the horizon (v1). Excluded technologies
// count towards the market totals but not towards the margin. It returns nil
// shares when no technology qualifies, and whether the decline branch was
// taken.
func marginalRegion(v0, v1, lifetimes []float64, excluded []bool) (shares []float64, decline bool) {
	total0, total1 := nanSum(v0), nanSum(v1)

	avgLifetime := 0.0
	for i := range v0 {
		if s := v0[i] / total0; !math.IsNaN(s) && !math.IsInf(s, 0) {
			avgLifetime += s * lifetimes[i]
		}
	}
	avgReplacement := -1 / avgLifetime
	growth := total1/total0 - 1

	base := make([]float64, len(v0))
	net := make([]float64, len(v0))
	for i := range v0 {
		x0, x1 := v0[i], v1[i]
		if excluded[i] {
			x0, x1 = 0, 0
		}
		base[i] = x0
		g := round3(x1/x0 - 1)
		if math.IsNaN(g) || math.IsInf(g, 0) {
			g = 0
		}
		net[i] = g - 1/lifetimes[i]
	}

	decline = growth < avgReplacement
	w := make([]float64, len(net))
	for i, g := range net {
		switch {
		case decline && g < 0:
			w[i] = -g
		case !decline && g > 0:
			w[i] = g
		}
	}
	if !normalize(w) {
		return nil, decline
	}
	for i := range w {
		if math.IsNaN(base[i]) {
			w[i] = 0
			continue
		}
		w[i] *= base[i]
	}
	if !normalize(w) {
		return nil, decline
	}
	return w, decline
}

func normalize(w []float64) bool {
	s := nanSum(w)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return false
	}
	for i := range w {
		w[i] /= s
	}
	return true
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

func nanSum(vs []float64) float64 {
	s := 0.0
	for _, v := range vs {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

func isMarginExcluded(tech string) bool {
	for _, x := range marginalExcluded {
		if strings.Contains(tech, x) {
			return true
		}
	}
	return false
}
