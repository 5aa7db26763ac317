package transform

import (
	"context"
	"fmt"
	"slices"

	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/agentic-research/lcimorph/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// FetchProxies replicates the activity named name whose reference product
// contains product into one copy per scenario region.
//
// Each region takes the template found first along its fallback tiers. The
// copy is located in the region, gets a fresh code, loses its link tags and
// carries the summed run-year production volume of productionVars. Once every
// region has its copy, the originals are recorded in the audit log, removed
// from the graph, and the copies are added. With relink set, the technosphere
// exchanges of each copy are first pointed at the most local suppliers.
func (t *Transformation) FetchProxies(ctx context.Context, name, product string, productionVars []string, relink bool) (proxies map[string]*graph.Activity, err error) {
	_, span := observability.StartSpan(ctx, "transform.FetchProxies",
		attribute.String("name", name), attribute.String("product", product))
	defer func() { observability.EndSpan(span, err) }()

	templates := t.g.Find(graph.Equals(graph.FieldName, name), graph.Contains(graph.FieldProduct, product))
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: %q / %q", ErrNoTemplateFound, name, product)
	}
	byLocation := make(map[string]*graph.Activity, len(templates))
	for _, a := range templates {
		if _, dup := byLocation[a.Location]; !dup {
			byLocation[a.Location] = a
		}
	}

	type nameProduct struct{ name, product string }
	var replaced []nameProduct
	proxies = make(map[string]*graph.Activity)
	for _, region := range t.Regions() {
		tmpl := pickTemplate(byLocation, t.geo.FallbackTiers(region))
		if tmpl == nil {
			return nil, fmt.Errorf("%w: %q / %q for region %s", ErrNoTemplateFound, name, product, region)
		}
		if np := (nameProduct{tmpl.Name, tmpl.Product}); !slices.Contains(replaced, np) {
			replaced = append(replaced, np)
		}

		pv, err := t.productionVolume(region, productionVars)
		if err != nil {
			return nil, err
		}
		proxy := tmpl.Clone()
		proxy.Location = region
		proxy.Code = uuid.NewString()
		proxy.Input = ""
		for _, e := range proxy.Filter(graph.Production) {
			e.Input = ""
			e.Location = region
			e.ProductionVolume = pv
		}
		if relink {
			t.relinkToLocalSuppliers(proxy)
		}
		proxies[region] = proxy
		t.log.Debug("proxy created",
			zap.String("name", name),
			zap.String("region", region),
			zap.String("template_location", tmpl.Location),
			zap.Float64("production_volume", pv))
	}

	// audit first so a failed write leaves the graph untouched
	var deleted []graph.Identity
	for _, np := range replaced {
		deleted = append(deleted, t.g.IdentitiesOf(np.name, np.product)...)
	}
	if err := t.run.Audit.Append(deleted...); err != nil {
		return nil, err
	}
	for _, np := range replaced {
		t.g.DeleteByNameProduct(np.name, np.product)
	}
	for _, region := range t.Regions() {
		if err := t.g.Add(proxies[region]); err != nil {
			return nil, err
		}
	}
	t.run.Metrics.AddProxies(len(proxies))
	t.run.Metrics.AddDeleted(len(deleted))
	t.run.Metrics.SetActivities(t.g.Len())
	t.log.Info("proxies created",
		zap.String("name", name),
		zap.Int("regions", len(proxies)),
		zap.Int("deleted", len(deleted)))
	return proxies, nil
}

// pickTemplate returns the template at the first location of the first tier
// that has one.
func pickTemplate(byLocation map[string]*graph.Activity, tiers [][]string) *graph.Activity {
	for _, tier := range tiers {
		for _, loc := range tier {
			if a, ok := byLocation[loc]; ok {
				return a
			}
		}
	}
	return nil
}

// relinkToLocalSuppliers points the technosphere exchanges of a at the
// suppliers of the same name and product closest to a's location, splitting
// each amount by supplier production volume. Exchanges without any supplier,
// and exchanges to a's own name and product, are left alone.
func (t *Transformation) relinkToLocalSuppliers(a *graph.Activity) {
	type key struct{ name, product, unit string }
	var order []key
	amounts := map[key]float64{}
	var keep []graph.Exchange
	for _, e := range a.Exchanges {
		if e.Type != graph.Technosphere || (e.Name == a.Name && e.Product == a.Product) {
			keep = append(keep, e)
			continue
		}
		k := key{e.Name, e.Product, e.Unit}
		if _, seen := amounts[k]; !seen {
			order = append(order, k)
		}
		amounts[k] += e.Amount
	}

	tiers := t.geo.FallbackTiers(a.Location)
	for _, k := range order {
		var suppliers []*graph.Activity
		for _, tier := range tiers {
			suppliers = t.g.Find(
				graph.Equals(graph.FieldName, k.name),
				graph.Equals(graph.FieldProduct, k.product),
				locationIn(tier))
			if len(suppliers) > 0 {
				break
			}
		}
		if len(suppliers) == 0 {
			for _, e := range a.Exchanges {
				if e.Type == graph.Technosphere && e.Name == k.name && e.Product == k.product && e.Unit == k.unit {
					keep = append(keep, e)
				}
			}
			continue
		}
		for _, s := range SharesFromProductionVolume(suppliers) {
			keep = append(keep, graph.Exchange{
				Name:     s.Supplier.Name,
				Product:  s.Supplier.Product,
				Location: s.Supplier.Location,
				Unit:     k.unit,
				Amount:   amounts[k] * s.Share,
				Type:     graph.Technosphere,
			})
		}
	}
	a.Exchanges = keep
}

func locationIn(locs []string) graph.Filter {
	fs := make([]graph.Filter, len(locs))
	for i, l := range locs {
		fs[i] = graph.Equals(graph.FieldLocation, l)
	}
	return graph.Either(fs...)
}
