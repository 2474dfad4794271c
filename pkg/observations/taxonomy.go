package observations

import (
	"strings"

	"github.com/menta2k/taxon-cropper/pkg/types"
)

// TaxonColumns lists the taxonomic levels from broadest to narrowest
var TaxonColumns = []string{ColumnFamily, ColumnGenus, ColumnSpecies, ColumnSubSpecies}

// InferSubSpecies treats a scientific name of three or more words as a
// sub-species label. Shorter names yield "" (undefined).
func InferSubSpecies(scientificName string) string {
	if len(strings.Fields(scientificName)) >= 3 {
		return scientificName
	}
	return ""
}

// ApplySubSpecies returns a copy of obs with SubSpecies derived from each
// scientific name.
func ApplySubSpecies(obs []types.Observation) []types.Observation {
	out := make([]types.Observation, len(obs))
	for i, o := range obs {
		o.SubSpecies = InferSubSpecies(o.ScientificName)
		out[i] = o
	}
	return out
}

// Level holds the distinct labels seen at one taxonomic level
type Level struct {
	Column string
	Labels []string
}

// Breakdown lists the distinct labels per taxonomic level in first-seen
// order. Observations undefined at a level are dropped from that level and
// from every narrower one.
func Breakdown(obs []types.Observation) []Level {
	remaining := obs
	levels := make([]Level, 0, len(TaxonColumns))

	for depth, column := range TaxonColumns {
		seen := make(map[string]struct{})
		kept := remaining[:0:0]
		level := Level{Column: column}

		for _, o := range remaining {
			label := o.TaxonLevels()[depth]
			if label == "" {
				continue
			}
			kept = append(kept, o)
			if _, ok := seen[label]; ok {
				continue
			}
			seen[label] = struct{}{}
			level.Labels = append(level.Labels, label)
		}

		levels = append(levels, level)
		remaining = kept
	}
	return levels
}
