package derive

import (
	"errors"
	"os"

	"github.com/agentic-research/lcimorph/internal/aliases"
	"github.com/agentic-research/lcimorph/internal/cube"
)

// productionTopics contribute their iam_aliases to the production volumes.
var productionTopics = []string{
	aliases.Electricity,
	aliases.Fuels,
	aliases.Cement,
	aliases.Steel,
	aliases.Biomass,
}

// productionVolumes returns region x variable x year volumes for the union of
// iam_aliases across productionTopics, with canonical labels.
func (b *builder) productionVolumes() (*cube.Cube, error) {
	ms := make([]aliases.Mapping, 0, len(productionTopics))
	for _, topic := range productionTopics {
		m, err := b.opts.Catalog.Lookup(topic, aliases.IAM)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	merged := aliases.Merge(ms...)
	merged.Topic = "production"
	merged.Kind = aliases.IAM
	entries, err := b.available(merged)
	if err != nil {
		return nil, err
	}
	return gather(b.raw, entries)
}

// landUse returns the land occupation and land-use-change cubes, or nils when
// the model has no land-use aliases.
func (b *builder) landUse() (area, change *cube.Cube, err error) {
	for _, k := range []struct {
		kind aliases.Kind
		dst  **cube.Cube
	}{
		{aliases.LandUseArea, &area},
		{aliases.LandUseChange, &change},
	} {
		m, err := b.opts.Catalog.Lookup(aliases.LandUse, k.kind)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		if m.Len() == 0 {
			continue
		}
		entries, err := b.available(m)
		if err != nil {
			return nil, nil, err
		}
		if *k.dst, err = gather(b.raw, entries); err != nil {
			return nil, nil, err
		}
	}
	return area, change, nil
}
