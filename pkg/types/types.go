package types

import "fmt"

// Observation is one recorded wildlife sighting with its taxonomic labels
type Observation struct {
	ID             string
	ImageURL       string
	Family         string
	Genus          string
	Species        string
	SubSpecies     string
	ScientificName string
	Attributes     map[string]string
}

// TaxonLevels returns the taxonomic fields in descending order:
// family, genus, species, sub-species. Empty strings are undefined.
func (o Observation) TaxonLevels() [4]string {
	return [4]string{o.Family, o.Genus, o.Species, o.SubSpecies}
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64
	Y float64
	W float64
	H float64
}

// Detection is a single bounding box produced by the object detector.
// BBox is kept in the detector's [x, y, w, h] array form.
type Detection struct {
	Category string    `json:"category"`
	Conf     float64   `json:"conf"`
	BBox     []float64 `json:"bbox"`
}

// Box validates and converts the raw bbox array
func (d Detection) Box() (Box, error) {
	if len(d.BBox) != 4 {
		return Box{}, fmt.Errorf("bbox: expected 4 values, got %d", len(d.BBox))
	}
	return Box{X: d.BBox[0], Y: d.BBox[1], W: d.BBox[2], H: d.BBox[3]}, nil
}

// ImageEntry lists the detections found in one raw image.
// Detections is nil when the detector omitted the key.
type ImageEntry struct {
	File       string      `json:"file"`
	Failure    string      `json:"failure,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
}

// DetectorOutput is the batch output file of the detector
type DetectorOutput struct {
	Images              []ImageEntry      `json:"images"`
	DetectionCategories map[string]string `json:"detection_categories,omitempty"`
	Info                map[string]any    `json:"info,omitempty"`
}

// Branch is the dataset split an observation is routed to
type Branch string

const (
	Train    Branch = "train"
	Validate Branch = "validate"
)

// StageResult aggregates the outcome of one pipeline stage. Total,
// Processed, Succeeded and Skipped count records; Failed counts recoverable
// errors; Artifacts counts files written.
type StageResult struct {
	Stage     string
	Total     int
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
	Artifacts int
	Errors    []error
}

// AddError records a recoverable failure
func (r *StageResult) AddError(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err)
}

// Merge folds another partial result of the same stage into r
func (r *StageResult) Merge(o StageResult) {
	r.Processed += o.Processed
	r.Succeeded += o.Succeeded
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Artifacts += o.Artifacts
	r.Errors = append(r.Errors, o.Errors...)
}
