package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the configuration file looked up in the project root
const FileName = "taxon-cropper.toml"

// Config holds the application configuration
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Dataset DatasetConfig `toml:"dataset"`
	Fetch   FetchConfig   `toml:"fetch"`
	Crop    CropConfig    `toml:"crop"`
	Runtime RuntimeConfig `toml:"runtime"`
	Logging LoggingConfig `toml:"logging"`
}

// PathsConfig holds the dataset layout. Relative paths are resolved
// against the project root.
type PathsConfig struct {
	ObservationsDir string   `toml:"observations_dir"`
	Observations    []string `toml:"observations"`
	RawImagesDir    string   `toml:"raw_images_dir"`
	CroppedDir      string   `toml:"cropped_dir"`
	TrainDir        string   `toml:"train_dir"`
	ValidateDir     string   `toml:"validate_dir"`
	BoundingBoxes   string   `toml:"bounding_boxes"`
	LockFile        string   `toml:"lock_file"`
}

// DatasetConfig holds filtering and split parameters
type DatasetConfig struct {
	ExcludedSpecies    []string `toml:"excluded_species"`
	ValidationFraction float64  `toml:"validation_fraction"`
	Seed               uint64   `toml:"seed"`
}

// FetchConfig holds configuration for image downloads
type FetchConfig struct {
	TimeoutSeconds float64 `toml:"timeout_seconds"`
	RatePerSecond  float64 `toml:"rate_per_second"`
	UserAgent      string  `toml:"user_agent"`
}

// CropConfig holds configuration for detection cropping
type CropConfig struct {
	Size          int     `toml:"size"`
	Format        string  `toml:"format"`
	Quality       int     `toml:"quality"`
	Lossless      bool    `toml:"lossless"`
	MinConfidence float64 `toml:"min_confidence"`
	DebugOverlay  bool    `toml:"debug_overlay"`
	DebugDir      string  `toml:"debug_dir"`
}

// RuntimeConfig holds execution settings
type RuntimeConfig struct {
	Workers int `toml:"workers"`
}

// LoggingConfig holds configuration for log output
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			ObservationsDir: "data/observations",
			Observations:    []string{"proboscidia_train.csv"},
			RawImagesDir:    "data/images/raw",
			CroppedDir:      "data/images/cropped",
			TrainDir:        "data/images/taxon_structured/taxon_train",
			ValidateDir:     "data/images/taxon_structured/taxon_validate",
			BoundingBoxes:   "bounding_boxes.json",
			LockFile:        "data/.taxon-cropper.lock",
		},
		Dataset: DatasetConfig{
			ExcludedSpecies:    []string{"Felis catus"},
			ValidationFraction: 0.15,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 3,
			UserAgent:      "taxon-cropper/1.0",
		},
		Crop: CropConfig{
			Size:     224,
			Format:   "jpg",
			Quality:  95,
			DebugDir: "data/images/debug",
		},
		Runtime: RuntimeConfig{
			Workers: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromFile loads configuration from a TOML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads the explicit config path if given, otherwise the project
// config file when present, otherwise the defaults.
func Load(root, explicit string) (*Config, error) {
	if explicit != "" {
		return LoadFromFile(explicit)
	}
	candidate := filepath.Join(root, FileName)
	if _, err := os.Stat(candidate); err == nil {
		return LoadFromFile(candidate)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	return Default(), nil
}

// SaveToFile saves configuration to a TOML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Paths.Observations) == 0 {
		return fmt.Errorf("paths.observations cannot be empty")
	}

	if c.Dataset.ValidationFraction < 0 || c.Dataset.ValidationFraction > 1 {
		return fmt.Errorf("dataset.validation_fraction must be between 0 and 1")
	}

	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive")
	}

	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("fetch.rate_per_second cannot be negative")
	}

	if c.Crop.Size < 1 {
		return fmt.Errorf("crop.size must be positive")
	}

	switch strings.ToLower(c.Crop.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("crop.format: unsupported value %q", c.Crop.Format)
	}

	if c.Crop.Quality < 1 || c.Crop.Quality > 100 {
		return fmt.Errorf("crop.quality must be between 1 and 100")
	}

	if c.Crop.MinConfidence < 0 || c.Crop.MinConfidence > 1 {
		return fmt.Errorf("crop.min_confidence must be between 0 and 1")
	}

	if c.Runtime.Workers < 1 {
		return fmt.Errorf("runtime.workers must be at least 1")
	}

	return nil
}

// Resolve returns a copy with every relative path joined onto root
func (c *Config) Resolve(root string) *Config {
	out := *c
	out.Paths.Observations = append([]string(nil), c.Paths.Observations...)
	out.Dataset.ExcludedSpecies = append([]string(nil), c.Dataset.ExcludedSpecies...)

	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	out.Paths.ObservationsDir = abs(c.Paths.ObservationsDir)
	out.Paths.RawImagesDir = abs(c.Paths.RawImagesDir)
	out.Paths.CroppedDir = abs(c.Paths.CroppedDir)
	out.Paths.TrainDir = abs(c.Paths.TrainDir)
	out.Paths.ValidateDir = abs(c.Paths.ValidateDir)
	out.Paths.BoundingBoxes = abs(c.Paths.BoundingBoxes)
	out.Paths.LockFile = abs(c.Paths.LockFile)
	out.Crop.DebugDir = abs(c.Crop.DebugDir)
	return &out
}

// FetchTimeout returns the download timeout as a duration
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds * float64(time.Second))
}

// CropExtension returns the file extension used for crop artifacts
func (c *Config) CropExtension() string {
	ext := strings.ToLower(c.Crop.Format)
	if ext == "jpeg" {
		ext = "jpg"
	}
	return ext
}
