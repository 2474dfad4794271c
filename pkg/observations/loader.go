// Package observations loads wildlife observation metadata from CSV exports
// and derives the taxonomic labels used to file crops.
package observations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/taxon-cropper/pkg/types"
)

// Column names of the observation export
const (
	ColumnID             = "id"
	ColumnImageURL       = "image_url"
	ColumnFamily         = "taxon_family_name"
	ColumnGenus          = "taxon_genus_name"
	ColumnSpecies        = "taxon_species_name"
	ColumnSubSpecies     = "sub_species"
	ColumnScientificName = "scientific_name"
)

// RequiredColumns must be present in every input file
var RequiredColumns = []string{ColumnID, ColumnImageURL, ColumnSpecies, ColumnScientificName}

// DroppedColumns are never carried into Observation.Attributes
var DroppedColumns = []string{"observed_on", "local_time_observed_at", "positional_accuracy"}

// ErrMissingColumn is returned when an input lacks a required column
var ErrMissingColumn = errors.New("missing required column")

// Loader reads observation tables
type Loader struct {
	config Config
}

// Config holds configuration for the loader
type Config struct {
	Dir             string
	ExcludedSpecies []string
}

// New creates a Loader reading from dir that excludes the known bad label
func New(dir string) *Loader {
	return &Loader{
		config: Config{
			Dir:             dir,
			ExcludedSpecies: []string{"Felis catus"},
		},
	}
}

// NewWithConfig creates a Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	return &Loader{config: config}
}

// Load reads every file in order and concatenates the rows. Rows without
// an image URL or with an excluded species are dropped. Any unreadable or
// malformed file fails the whole load.
func (l *Loader) Load(files ...string) ([]types.Observation, error) {
	var all []types.Observation
	for _, name := range files {
		path := name
		if !filepath.IsAbs(path) && l.config.Dir != "" {
			path = filepath.Join(l.config.Dir, name)
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open observations file: %w", err)
		}
		records, err := l.Read(f, name)
		f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// Read parses one CSV table. source only labels errors.
func (l *Loader) Read(r io.Reader, source string) ([]types.Observation, error) {
	reader := csv.NewReader(r)
	// short rows leave trailing columns undefined; long rows are rejected below
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", source, err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		header[i] = col
		index[col] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%s: %w %q", source, ErrMissingColumn, col)
		}
	}

	dropped := make(map[string]struct{}, len(DroppedColumns))
	for _, col := range DroppedColumns {
		dropped[col] = struct{}{}
	}

	var out []types.Observation
	for rowNum := 1; ; rowNum++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", source, rowNum, err)
		}
		if len(row) > len(header) {
			return nil, fmt.Errorf("%s: row %d: expected %d fields, got %d", source, rowNum, len(header), len(row))
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		obs := types.Observation{
			ID:             get(ColumnID),
			ImageURL:       get(ColumnImageURL),
			Family:         get(ColumnFamily),
			Genus:          get(ColumnGenus),
			Species:        get(ColumnSpecies),
			SubSpecies:     get(ColumnSubSpecies),
			ScientificName: get(ColumnScientificName),
		}
		if obs.ImageURL == "" || l.isExcluded(obs.Species) {
			continue
		}

		attrs := make(map[string]string)
		for i, col := range header {
			if _, skip := dropped[col]; skip || isModelled(col) || i >= len(row) {
				continue
			}
			attrs[col] = row[i]
		}
		if len(attrs) > 0 {
			obs.Attributes = attrs
		}

		out = append(out, obs)
	}
	return out, nil
}

func (l *Loader) isExcluded(species string) bool {
	for _, excluded := range l.config.ExcludedSpecies {
		if species == excluded {
			return true
		}
	}
	return false
}

func isModelled(col string) bool {
	switch col {
	case ColumnID, ColumnImageURL, ColumnFamily, ColumnGenus, ColumnSpecies, ColumnSubSpecies, ColumnScientificName:
		return true
	}
	return false
}
