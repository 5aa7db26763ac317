package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring"
)

var (
	ErrNotFound  = errors.New("activity not found")
	ErrDuplicate = errors.New("activity already exists")
)

// ExchangeType classifies an exchange.
type ExchangeType string

const (
	Production   ExchangeType = "production"
	Technosphere ExchangeType = "technosphere"
	Biosphere    ExchangeType = "biosphere"
)

// Identity is the (name, reference product, location) key of an activity.
// Technosphere exchanges point at suppliers by Identity value, so a supplier
// that disappears leaves a dangling identity rather than a dangling pointer.
type Identity struct {
	Name     string
	Product  string
	Location string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s | %s | %s", id.Name, id.Product, id.Location)
}

// Exchange is one edge of an activity.
type Exchange struct {
	Name             string       `json:"name"`
	Product          string       `json:"product,omitempty"`
	Location         string       `json:"location,omitempty"`
	Unit             string       `json:"unit,omitempty"`
	Amount           float64      `json:"amount"`
	Type             ExchangeType `json:"type"`
	ProductionVolume float64      `json:"production volume,omitempty"`
	Input            string       `json:"input,omitempty"`      // opaque link tag; empty once an exchange is relink eligible
	Categories       []string     `json:"categories,omitempty"` // biosphere compartments
	Comment          string       `json:"comment,omitempty"`
}

// Target returns the identity the exchange points at.
func (e Exchange) Target() Identity {
	return Identity{Name: e.Name, Product: e.Product, Location: e.Location}
}

// Activity is a node of the graph.
type Activity struct {
	Name       string             `json:"name"`
	Product    string             `json:"reference product"`
	Location   string             `json:"location"`
	Unit       string             `json:"unit,omitempty"`
	Code       string             `json:"code,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Comment    string             `json:"comment,omitempty"`
	Input      string             `json:"input,omitempty"`
	Exchanges  []Exchange         `json:"exchanges"`
}

// Identity returns the node key.
func (a *Activity) Identity() Identity {
	return Identity{Name: a.Name, Product: a.Product, Location: a.Location}
}

// Clone returns a deep copy.
func (a *Activity) Clone() *Activity {
	out := *a
	out.Parameters = maps.Clone(a.Parameters)
	out.Exchanges = make([]Exchange, len(a.Exchanges))
	for i, e := range a.Exchanges {
		e.Categories = slices.Clone(e.Categories)
		out.Exchanges[i] = e
	}
	return &out
}

// Filter returns pointers to the exchanges of type t. The pointers alias the
// activity's slice and stay valid until exchanges are added or removed.
func (a *Activity) Filter(t ExchangeType) []*Exchange {
	var out []*Exchange
	for i := range a.Exchanges {
		if a.Exchanges[i].Type == t {
			out = append(out, &a.Exchanges[i])
		}
	}
	return out
}

// ProductionVolume returns the production volume of the first production
// exchange, or 0.
func (a *Activity) ProductionVolume() float64 {
	for _, e := range a.Exchanges {
		if e.Type == Production {
			return e.ProductionVolume
		}
	}
	return 0
}

// SetParameter stores a named parameter.
func (a *Activity) SetParameter(key string, v float64) {
	if a.Parameters == nil {
		a.Parameters = map[string]float64{}
	}
	a.Parameters[key] = v
}

type nameProduct struct{ name, product string }

// Graph is an identity-keyed node table.
//
// Internal uint32 ids are handed out monotonically, so iterating the "all"
// bitmap yields activities in insertion order. Secondary indexes map names and
// (name, product) pairs to roaring bitmaps of ids for O(k) lookup and delete.
// The graph has a single writer and takes no locks. Identity fields of an
// activity must not be mutated while it is in the graph; Delete and Add it
// again instead.
type Graph struct {
	nodes         map[uint32]*Activity
	byIdentity    map[Identity]uint32
	byName        map[string]*roaring.Bitmap
	byNameProduct map[nameProduct]*roaring.Bitmap
	all           *roaring.Bitmap
	nextID        uint32
}

func New() *Graph {
	return &Graph{
		nodes:         make(map[uint32]*Activity),
		byIdentity:    make(map[Identity]uint32),
		byName:        make(map[string]*roaring.Bitmap),
		byNameProduct: make(map[nameProduct]*roaring.Bitmap),
		all:           roaring.New(),
	}
}

// Len returns the number of activities.
func (g *Graph) Len() int { return len(g.nodes) }

// Add inserts a. An activity with the same identity must not exist.
func (g *Graph) Add(a *Activity) error {
	key := a.Identity()
	if _, ok := g.byIdentity[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	id := g.nextID
	g.nextID++
	g.nodes[id] = a
	g.byIdentity[key] = id
	g.all.Add(id)
	bitmapFor(g.byName, a.Name).Add(id)
	bitmapFor(g.byNameProduct, nameProduct{a.Name, a.Product}).Add(id)
	return nil
}

func bitmapFor[K comparable](m map[K]*roaring.Bitmap, k K) *roaring.Bitmap {
	bm, ok := m[k]
	if !ok {
		bm = roaring.New()
		m[k] = bm
	}
	return bm
}

// Get returns the activity with the given identity.
func (g *Graph) Get(key Identity) (*Activity, error) {
	id, ok := g.byIdentity[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return g.nodes[id], nil
}

// Has reports whether an activity with the given identity exists.
func (g *Graph) Has(key Identity) bool {
	_, ok := g.byIdentity[key]
	return ok
}

// Delete removes the activity with the given identity.
func (g *Graph) Delete(key Identity) error {
	id, ok := g.byIdentity[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	g.remove(id)
	return nil
}

// DeleteByNameProduct removes every activity with exactly this name and
// reference product and returns their identities in insertion order.
func (g *Graph) DeleteByNameProduct(name, product string) []Identity {
	out := g.IdentitiesOf(name, product)
	for _, id := range out {
		g.remove(g.byIdentity[id])
	}
	return out
}

// IdentitiesOf lists the activities named name with reference product
// product, in the order DeleteByNameProduct removes them.
func (g *Graph) IdentitiesOf(name, product string) []Identity {
	bm, ok := g.byNameProduct[nameProduct{name, product}]
	if !ok {
		return nil
	}
	ids := bm.ToArray()
	out := make([]Identity, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id].Identity())
	}
	return out
}

func (g *Graph) remove(id uint32) {
	a := g.nodes[id]
	delete(g.nodes, id)
	delete(g.byIdentity, a.Identity())
	g.all.Remove(id)
	if bm := g.byName[a.Name]; bm != nil {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(g.byName, a.Name)
		}
	}
	np := nameProduct{a.Name, a.Product}
	if bm := g.byNameProduct[np]; bm != nil {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(g.byNameProduct, np)
		}
	}
}

// Activities returns every activity in insertion order.
func (g *Graph) Activities() []*Activity {
	return g.collect(g.all)
}

// ByName returns the activities named name in insertion order.
func (g *Graph) ByName(name string) []*Activity {
	bm, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.collect(bm)
}

func (g *Graph) collect(bm *roaring.Bitmap) []*Activity {
	out := make([]*Activity, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, g.nodes[it.Next()])
	}
	return out
}

// Find returns the activities matching every filter, in insertion order. An
// exact name filter at the top level narrows the scan through the name index.
func (g *Graph) Find(filters ...Filter) []*Activity {
	candidates := g.all
	for _, f := range filters {
		if f.field == FieldName && f.exact != "" {
			bm, ok := g.byName[f.exact]
			if !ok {
				return nil
			}
			candidates = roaring.And(candidates, bm)
		}
	}
	var out []*Activity
	it := candidates.Iterator()
	for it.HasNext() {
		a := g.nodes[it.Next()]
		if matchAll(a, filters) {
			out = append(out, a)
		}
	}
	return out
}

// Identities returns the identity of every activity in insertion order.
func (g *Graph) Identities() []Identity {
	acts := g.Activities()
	out := make([]Identity, len(acts))
	for i, a := range acts {
		out[i] = a.Identity()
	}
	return out
}

// Locations returns the distinct activity locations, sorted.
func (g *Graph) Locations() []string {
	seen := make(map[string]struct{})
	for _, a := range g.nodes {
		seen[a.Location] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}
