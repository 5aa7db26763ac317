package transform

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/graph"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// ErrNoLHV is returned when a fuel input has no lower heating value.
var ErrNoLHV = errors.New("no lower heating value for fuel")

// DefaultPollutants maps biosphere flow names to pollutant table codes.
var DefaultPollutants = map[string]string{
	"Sulfur dioxide":          "SO2",
	"Carbon monoxide, fossil": "CO",
	"Nitrogen oxides":         "NOx",
	"Ammonia":                 "NH3",
	"NMVOC, non-methane volatile organic compounds, unspecified origin": "VOC",
	"Methane, fossil":                    "CH4",
	"Particulates, < 2.5 um":             "PM25",
	"Particulates, > 2.5 um, and < 10um": "PM10",
}

// Carbon capture energy demand per kg of CO2 captured.
const (
	CaptureElectricityKWh = 0.024 + 0.146 // capture + compression
	CaptureHeatMJ         = 3.48
)

const minProductionVolume = 1e-9

// SupplierShare is one supplier and its share of supply.
type SupplierShare struct {
	Supplier *graph.Activity
	Share    float64
}

// SharesFromProductionVolume splits supply among acts in proportion to the
// production volume of their production exchange. Volumes below 1e-9,
// missing ones included, count as 1e-9, so the shares always sum to 1.
func SharesFromProductionVolume(acts []*graph.Activity) []SupplierShare {
	if len(acts) == 0 {
		return nil
	}
	volumes := make([]float64, len(acts))
	for i, a := range acts {
		volumes[i] = math.Max(a.ProductionVolume(), minProductionVolume)
		if math.IsNaN(volumes[i]) {
			volumes[i] = minProductionVolume
		}
	}
	total := floats.Sum(volumes)
	out := make([]SupplierShare, len(acts))
	for i, a := range acts {
		out[i] = SupplierShare{Supplier: a, Share: volumes[i] / total}
	}
	return out
}

// SuppliersOfRegion returns the activities located in one of locations whose
// name contains one of names, whose reference product contains product and
// whose unit is unit.
func (t *Transformation) SuppliersOfRegion(locations, names []string, product, unit string) []*graph.Activity {
	byName := make([]graph.Filter, len(names))
	for i, n := range names {
		byName[i] = graph.Contains(graph.FieldName, n)
	}
	return t.g.Find(
		graph.Either(byName...),
		locationIn(locations),
		graph.Contains(graph.FieldProduct, product),
		graph.Equals(graph.FieldUnit, unit),
	)
}

// FindFuelEfficiency returns the conversion efficiency of a. An efficiency
// parameter (other than a thermal one) wins; otherwise the efficiency is
// energyOut over the energy of the technosphere inputs named in fuels, and is
// stored on a. Fuel inputs in kilogram, cubic meter or kilowatt hour are
// converted to MJ with their lower heating value. A non-finite result is 1.
func (t *Transformation) FindFuelEfficiency(a *graph.Activity, fuels []string, energyOut float64) (float64, error) {
	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		if strings.Contains(k, "efficiency") && !strings.Contains(k, "thermal") {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		slices.Sort(keys)
		return a.Parameters[keys[0]], nil
	}

	var energyIn float64
	for _, e := range a.Filter(graph.Technosphere) {
		if !slices.Contains(fuels, e.Name) {
			continue
		}
		mj, err := t.inputEnergy(e.Name, e.Amount, e.Unit)
		if err != nil {
			return 0, err
		}
		energyIn += mj
	}
	eff := energyOut / energyIn
	if math.IsNaN(eff) || math.IsInf(eff, 0) {
		eff = 1
	}
	a.SetParameter("efficiency", eff)
	return eff, nil
}

// inputEnergy converts a fuel amount to MJ.
func (t *Transformation) inputEnergy(fuel string, amount float64, unit string) (float64, error) {
	switch unit {
	case "kilogram", "cubic meter", "kilowatt hour":
	default:
		return amount, nil
	}
	// The longest matching fuel name is the most specific one.
	name := strings.ToLower(fuel)
	best, lhv := "", 0.0
	for k, v := range t.lhv {
		if strings.Contains(name, k) && len(k) > len(best) {
			best, lhv = k, v
		}
	}
	if best == "" {
		return 0, fmt.Errorf("%w: %q", ErrNoLHV, fuel)
	}
	return lhv * amount, nil
}

// efficiencyParameters are the parameter keys an efficiency update rewrites.
var efficiencyParameters = []string{"efficiency", "efficiency_oil_country", "efficiency_electrical"}

// UpdateEfficiencyParameter records newEff on a, in every known efficiency
// parameter it carries, or in "efficiency" when it carries none, and notes the
// change in the comment.
func (t *Transformation) UpdateEfficiencyParameter(a *graph.Activity, oldEff, newEff float64) {
	updated := false
	for _, k := range efficiencyParameters {
		if _, ok := a.Parameters[k]; ok {
			a.Parameters[k] = newEff
			updated = true
		}
	}
	if !updated {
		a.SetParameter("efficiency", newEff)
	}
	note := fmt.Sprintf(" lcimorph has modified the efficiency of this dataset, from an original %d%% to %d%%, "+
		"according to IAM model %s, scenario %s for the region %s.",
		int(oldEff*100), int(newEff*100),
		strings.ToUpper(t.col.Model), t.col.Pathway, t.geo.LocationToIAM(a.Location))
	a.Comment += note
}

// FindEfficiencyChange returns the run-year efficiency ratio of variable in
// region. A non-finite ratio is 1.
func (t *Transformation) FindEfficiencyChange(variable, region string) (float64, error) {
	if t.col.Efficiency == nil {
		return 1, nil
	}
	v, err := t.col.Efficiency.At(region, variable)
	if err != nil {
		return 0, fmt.Errorf("efficiency change: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1, nil
	}
	return v, nil
}

// FindEmissionsChange returns the improvement factor of pollutant for sector
// in a pollutant table region.
func (t *Transformation) FindEmissionsChange(pollutant, gainsRegion, sector string) (float64, error) {
	if t.col.Emissions == nil {
		return 1, nil
	}
	v, err := t.col.Emissions.At(gainsRegion, pollutant, sector)
	if err != nil {
		return 0, fmt.Errorf("emissions change: %w", err)
	}
	return v, nil
}

// UpdatePollutantEmissions divides every biosphere flow of a that names a
// known pollutant by its improvement factor for sector in a's region.
func (t *Transformation) UpdatePollutantEmissions(a *graph.Activity, sector string) error {
	if t.col.Emissions == nil {
		t.log.Debug("no emission ratios, pollutants left unchanged", zap.String("activity", a.Name))
		return nil
	}
	region := t.geo.IAMToGAINSRegion(t.geo.LocationToIAM(a.Location))
	for _, e := range a.Filter(graph.Biosphere) {
		pollutant, ok := t.pollutants[e.Name]
		if !ok {
			continue
		}
		f, err := t.FindEmissionsChange(pollutant, region, sector)
		if err != nil {
			return fmt.Errorf("%s in %s: %w", a.Name, a.Location, err)
		}
		e.Amount /= f
		e.Comment = fmt.Sprintf("This exchange has been modified based on GAINS projections for the %s sector by lcimorph.", sector)
	}
	return nil
}

// CarbonCaptureRate returns the run-year capture rate of sector in region, or
// 0 for a sector without capture data.
func (t *Transformation) CarbonCaptureRate(region, sector string) (float64, error) {
	ccs := t.col.CarbonCaptureRate
	if ccs == nil {
		return 0, nil
	}
	if ax, _ := ccs.Axis(cube.VariableAxis); !ax.Has(sector) {
		return 0, nil
	}
	return ccs.At(region, sector)
}

// CarbonCaptureEnergyInputs returns the capture rate of sector in region and
// the electricity and heat exchanges needed to capture that share of
// amountCO2 kg of CO2. Each energy demand is split among the suppliers found
// first along the region's fallback tiers. No exchanges are returned when
// nothing is captured.
func (t *Transformation) CarbonCaptureEnergyInputs(amountCO2 float64, region, sector string) (float64, []graph.Exchange, error) {
	rate, err := t.CarbonCaptureRate(region, sector)
	if err != nil || rate <= 0 {
		return rate, nil, err
	}
	captured := amountCO2 * rate

	var out []graph.Exchange
	for _, demand := range []struct {
		amount              float64
		name, product, unit string
	}{
		{captured * CaptureElectricityKWh, "electricity, medium voltage", "electricity", "kilowatt hour"},
		{captured * CaptureHeatMJ, "steam production, as energy carrier, in chemical industry", "heat, from steam, in chemical industry", "megajoule"},
	} {
		var suppliers []*graph.Activity
		for _, tier := range t.geo.FallbackTiers(region) {
			if suppliers = t.SuppliersOfRegion(tier, []string{demand.name}, demand.product, demand.unit); len(suppliers) > 0 {
				break
			}
		}
		if len(suppliers) == 0 {
			return rate, nil, fmt.Errorf("%w: %s for %s", ErrNoSupplier, demand.name, region)
		}
		for _, s := range SharesFromProductionVolume(suppliers) {
			out = append(out, graph.Exchange{
				Name:     s.Supplier.Name,
				Product:  s.Supplier.Product,
				Location: s.Supplier.Location,
				Unit:     s.Supplier.Unit,
				Amount:   demand.amount * s.Share,
				Type:     graph.Technosphere,
			})
		}
	}
	return rate, out, nil
}
