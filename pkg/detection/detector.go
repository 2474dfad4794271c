// Package detection reads batch object-detector output describing the
// bounding boxes found in each raw observation image.
package detection

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/menta2k/taxon-cropper/pkg/types"
)

// Category codes used by the detector
const (
	CategoryAnimal  = "1"
	CategoryPerson  = "2"
	CategoryVehicle = "3"
)

// DefaultCategories maps category codes to names when the file omits them
var DefaultCategories = map[string]string{
	CategoryAnimal:  "animal",
	CategoryPerson:  "person",
	CategoryVehicle: "vehicle",
}

// ReadFile parses a detector output file
func ReadFile(path string) (*types.DetectorOutput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open detector output: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes detector output. Entries without a detections key decode
// with nil Detections.
func Parse(r io.Reader) (*types.DetectorOutput, error) {
	var out types.DetectorOutput
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse detector output: %w", err)
	}
	if out.Images == nil {
		return nil, fmt.Errorf("failed to parse detector output: missing images list")
	}
	if len(out.DetectionCategories) == 0 {
		out.DetectionCategories = DefaultCategories
	}
	return &out, nil
}

// HasDetections reports whether the detector produced any boxes for entry
func HasDetections(entry types.ImageEntry) bool {
	return len(entry.Detections) > 0
}

// AnimalDetections returns the animal detections of entry in document
// order, keeping only those with confidence of at least minConf.
func AnimalDetections(entry types.ImageEntry, minConf float64) []types.Detection {
	var out []types.Detection
	for _, d := range entry.Detections {
		if d.Category != CategoryAnimal {
			continue
		}
		if d.Conf < minConf {
			continue
		}
		out = append(out, d)
	}
	return out
}

// CategoryName returns the human readable name for a category code
func CategoryName(out *types.DetectorOutput, code string) string {
	if out != nil {
		if name, ok := out.DetectionCategories[code]; ok {
			return name
		}
	}
	if name, ok := DefaultCategories[code]; ok {
		return name
	}
	return code
}
