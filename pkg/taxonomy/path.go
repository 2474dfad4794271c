// Package taxonomy files crops into a train/validate tree keyed by the
// taxonomic labels of their observation.
package taxonomy

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/menta2k/taxon-cropper/pkg/types"
)

// Segment normalizes one taxonomic label into a directory name
func Segment(label string) string {
	return cases.Lower(language.Und).String(strings.ReplaceAll(label, " ", "_"))
}

// Segments returns the normalized labels of obs from family downwards,
// stopping at the first undefined level.
func Segments(obs types.Observation) []string {
	levels := obs.TaxonLevels()
	segments := make([]string, 0, len(levels))
	for _, label := range levels {
		if label == "" {
			break
		}
		segments = append(segments, Segment(label))
	}
	return segments
}

// Path resolves the directory under root that receives the crops of obs
func Path(root string, obs types.Observation) string {
	return filepath.Join(append([]string{root}, Segments(obs)...)...)
}
