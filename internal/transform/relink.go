package transform

import (
	"context"

	"github.com/agentic-research/lcimorph/internal/graph"
	"github.com/agentic-research/lcimorph/internal/observability"
	"go.uber.org/zap"
)

// edgeKey identifies a group of technosphere exchanges.
type edgeKey struct {
	Name, Product, Location, Unit string
}

func keyOf(e graph.Exchange) edgeKey {
	return edgeKey{e.Name, e.Product, e.Location, e.Unit}
}

func (k edgeKey) target() graph.Identity {
	return graph.Identity{Name: k.Name, Product: k.Product, Location: k.Location}
}

// RelinkStats counts the outcome of one RelinkDatasets call, per distinct
// dangling edge of each activity.
type RelinkStats struct {
	Resolved   int
	Unresolved int
	CacheHits  int
}

// RelinkDatasets repairs technosphere exchanges that point at an identity no
// longer in the graph. Activities whose name contains one of excludes are
// skipped.
//
// Dangling exchanges of an activity are grouped by (name, product, location,
// unit). A group is resolved by trying its own name and then each of
// alternativeNames, at the activity's location when that is a scenario region
// or else at the region the location maps to. The first identity that exists
// wins and the whole group collapses into one exchange with the summed
// amount. Resolutions are cached per activity location for the rest of the
// run. Groups nothing resolves are logged and left in place.
func (t *Transformation) RelinkDatasets(ctx context.Context, excludes, alternativeNames []string) (stats RelinkStats, err error) {
	_, span := observability.StartSpan(ctx, "transform.RelinkDatasets")
	defer func() { observability.EndSpan(span, err) }()

	var acts []*graph.Activity
	if len(excludes) > 0 {
		acts = t.g.Find(graph.DoesntContainAny(graph.FieldName, excludes...))
	} else {
		acts = t.g.Activities()
	}
	for _, a := range acts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		t.relinkActivity(a, alternativeNames, &stats)
	}
	t.log.Info("datasets relinked",
		zap.Int("resolved", stats.Resolved),
		zap.Int("unresolved", stats.Unresolved),
		zap.Int("cache_hits", stats.CacheHits))
	return stats, nil
}

func (t *Transformation) relinkActivity(a *graph.Activity, alternativeNames []string, stats *RelinkStats) {
	var dangling []edgeKey
	amounts := map[edgeKey]float64{}
	for _, e := range a.Exchanges {
		if e.Type != graph.Technosphere || t.g.Has(e.Target()) {
			continue
		}
		k := keyOf(e)
		if _, seen := amounts[k]; !seen {
			dangling = append(dangling, k)
		}
		amounts[k] += e.Amount
	}
	if len(dangling) == 0 {
		return
	}

	cache := t.run.relinked[a.Location]
	if cache == nil {
		cache = map[edgeKey]edgeKey{}
		t.run.relinked[a.Location] = cache
	}
	for _, k := range dangling {
		to, hit := cache[k]
		if hit {
			stats.CacheHits++
			t.run.Metrics.IncCacheHit()
		} else {
			var ok bool
			if to, ok = t.resolve(a.Location, k, alternativeNames); !ok {
				stats.Unresolved++
				t.run.Metrics.IncUnresolved()
				t.log.Warn("no alternative supplier found, exchange left dangling",
					zap.String("exchange", k.Name),
					zap.String("product", k.Product),
					zap.String("exchange_location", k.Location),
					zap.String("activity", a.Name),
					zap.String("location", a.Location))
				continue
			}
			cache[k] = to
		}
		stats.Resolved++
		t.run.Metrics.IncResolved()

		kept := a.Exchanges[:0]
		for _, e := range a.Exchanges {
			if e.Type == graph.Technosphere && keyOf(e) == k {
				continue
			}
			kept = append(kept, e)
		}
		a.Exchanges = append(kept, graph.Exchange{
			Name:     to.Name,
			Product:  to.Product,
			Location: to.Location,
			Unit:     to.Unit,
			Amount:   amounts[k],
			Type:     graph.Technosphere,
		})
	}
}

// resolve returns the first existing identity among the candidate names
// crossed with the scenario region of origin.
func (t *Transformation) resolve(origin string, k edgeKey, alternativeNames []string) (edgeKey, bool) {
	region := origin
	if !t.geo.IsRegion(origin) {
		region = t.geo.LocationToIAM(origin)
	}
	names := append([]string{k.Name}, alternativeNames...)
	for _, name := range names {
		cand := edgeKey{Name: name, Product: k.Product, Location: region, Unit: k.Unit}
		if t.g.Has(cand.target()) {
			return cand, true
		}
	}
	return edgeKey{}, false
}
