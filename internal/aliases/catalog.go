// Package aliases resolves canonical technology names to the variable names a
// given scenario model uses for them.
//
// Each topic lives in its own YAML document, `<topic>.yml`, shaped as
//
//	<canonical name>:
//	  <kind>:
//	    <model>: <variable> | [<variable>, ...]
//
// except for gains_aliases, whose value is model independent.
package aliases

import (
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrMissingAlias is returned when a canonical name has no alias of the
// requested kind for the active model.
var ErrMissingAlias = errors.New("alias not found")

// Topics.
const (
	Electricity   = "electricity"
	Fuels         = "fuels"
	Cement        = "cement"
	Steel         = "steel"
	Biomass       = "biomass"
	CarbonCapture = "carbon_capture"
	LandUse       = "land_use"
)

// Kind names one alias family inside an entry.
type Kind string

const (
	IAM           Kind = "iam_aliases"
	Efficiency    Kind = "eff_aliases"
	GAINS         Kind = "gains_aliases"
	EnergyUse     Kind = "energy_use_aliases"
	LandUseArea   Kind = "land_use"
	LandUseChange Kind = "land_use_change"
)

// Entry binds a canonical name to one or more model variables.
type Entry struct {
	Canonical string
	Variables []string
}

// Mapping is an ordered canonical -> variables table.
type Mapping struct {
	Topic   string
	Kind    Kind
	entries []Entry
	index   map[string]int
}

func newMapping(topic string, kind Kind) Mapping {
	return Mapping{Topic: topic, Kind: kind, index: map[string]int{}}
}

func (m *Mapping) add(e Entry) {
	if i, ok := m.index[e.Canonical]; ok {
		m.entries[i] = e
		return
	}
	m.index[e.Canonical] = len(m.entries)
	m.entries = append(m.entries, e)
}

// Len returns the number of entries.
func (m Mapping) Len() int { return len(m.entries) }

// Entries returns the entries in document order.
func (m Mapping) Entries() []Entry { return slices.Clone(m.entries) }

// Keys returns the canonical names in document order.
func (m Mapping) Keys() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Canonical
	}
	return out
}

// Get returns the variables bound to key.
func (m Mapping) Get(key string) ([]string, bool) {
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(m.entries[i].Variables), true
}

// Require is Get that fails with ErrMissingAlias.
func (m Mapping) Require(key string) ([]string, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s/%s", ErrMissingAlias, key, m.Topic, m.Kind)
	}
	return v, nil
}

// First returns the first variable bound to key.
func (m Mapping) First(key string) (string, error) {
	v, err := m.Require(key)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return "", fmt.Errorf("%w: %q in %s/%s has no variable", ErrMissingAlias, key, m.Topic, m.Kind)
	}
	return v[0], nil
}

// Merge concatenates mappings; later entries replace earlier ones with the
// same canonical name.
func Merge(ms ...Mapping) Mapping {
	out := newMapping("", "")
	for _, m := range ms {
		for _, e := range m.entries {
			out.add(e)
		}
	}
	return out
}

// Catalog reads alias documents from a directory and caches them per topic.
type Catalog struct {
	fs    billy.Filesystem
	dir   string
	model string
	log   *zap.Logger
	docs  map[string]*document
}

type document struct {
	order []string
	tree  map[string]any
}

// NewCatalog returns a catalog for model reading `<dir>/<topic>.yml` from fsys.
func NewCatalog(fsys billy.Filesystem, dir, model string, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{fs: fsys, dir: dir, model: model, log: log, docs: map[string]*document{}}
}

// Model returns the model the catalog resolves aliases for.
func (c *Catalog) Model() string { return c.model }

// Lookup returns the entries of topic that carry an alias of kind. For
// gains_aliases the value is taken as is; for every other kind only entries
// with an alias for the catalog's model are returned.
func (c *Catalog) Lookup(topic string, kind Kind) (Mapping, error) {
	doc, err := c.load(topic)
	if err != nil {
		return Mapping{}, err
	}

	out := newMapping(topic, kind)
	for _, canonical := range doc.order {
		x := jp.R().C(canonical).C(string(kind))
		if kind != GAINS {
			x = x.C(c.model)
		}
		found := x.Get(doc.tree)
		if len(found) == 0 || found[0] == nil {
			continue
		}
		vars, err := variables(found[0])
		if err != nil {
			return Mapping{}, fmt.Errorf("%s/%s %q: %w", topic, kind, canonical, err)
		}
		out.add(Entry{Canonical: canonical, Variables: vars})
	}
	c.log.Debug("alias lookup",
		zap.String("topic", topic),
		zap.String("kind", string(kind)),
		zap.String("model", c.model),
		zap.Int("entries", out.Len()))
	return out, nil
}

func (c *Catalog) load(topic string) (*document, error) {
	if doc, ok := c.docs[topic]; ok {
		return doc, nil
	}
	p := path.Join(c.dir, topic+".yml")
	raw, err := util.ReadFile(c.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read alias catalog %s: %w", p, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse alias catalog %s: %w", p, err)
	}
	doc := &document{tree: map[string]any{}}
	if len(root.Content) == 0 {
		c.docs[topic] = doc
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse alias catalog %s: top level is not a mapping", p)
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		doc.order = append(doc.order, top.Content[i].Value)
	}
	if err := top.Decode(&doc.tree); err != nil {
		return nil, fmt.Errorf("decode alias catalog %s: %w", p, err)
	}
	c.docs[topic] = doc
	return doc, nil
}

func variables(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("alias list holds %T, want string", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("alias is %T, want string or list", v)
	}
}
