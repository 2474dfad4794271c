// Package taxoncropper builds a taxonomy-structured image dataset from
// wildlife observation tables.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		taxoncropper "github.com/menta2k/taxon-cropper"
//		"github.com/menta2k/taxon-cropper/internal/config"
//	)
//
//	func main() {
//		pipeline, err := taxoncropper.New(".", config.Default(), nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		results, err := pipeline.Run(context.Background())
//		if err != nil {
//			log.Fatal(err)
//		}
//		for _, r := range results {
//			log.Printf("%s: %d/%d processed, %d errors", r.Stage, r.Processed, r.Total, r.Failed)
//		}
//	}
//
// The pipeline consists of four stages that only ever read what an earlier
// stage wrote:
//
// 1. Observations (pkg/observations): loads CSV metadata and infers sub-species
// 2. Fetcher (pkg/fetcher): downloads raw photos into <id>.jpg
// 3. Cropper (pkg/cropper): cuts animal detections into 224x224 crops
// 4. Taxonomy (pkg/taxonomy): copies crops into train/validate taxonomy trees
//
// Detector output (bounding_boxes.json) is produced outside this package by
// a batch object detector run over the raw photos.
package taxoncropper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/menta2k/taxon-cropper/internal/config"
	"github.com/menta2k/taxon-cropper/internal/progress"
	"github.com/menta2k/taxon-cropper/internal/utils"
	"github.com/menta2k/taxon-cropper/pkg/cropper"
	"github.com/menta2k/taxon-cropper/pkg/detection"
	"github.com/menta2k/taxon-cropper/pkg/fetcher"
	"github.com/menta2k/taxon-cropper/pkg/observations"
	"github.com/menta2k/taxon-cropper/pkg/taxonomy"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

// Version of the taxon cropper
const Version = "1.0.0"

// ErrLocked is returned when another run holds the dataset lock
var ErrLocked = errors.New("dataset is locked by another run")

// Pipeline runs the dataset stages against one project root
type Pipeline struct {
	config   *config.Config
	logger   *slog.Logger
	progress io.Writer
}

// New validates cfg and resolves its relative paths against root. A nil
// logger uses slog.Default.
func New(root string, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		config:   cfg.Resolve(root),
		logger:   logger,
		progress: os.Stderr,
	}, nil
}

// SetProgressOutput redirects progress bars; nil disables them
func (p *Pipeline) SetProgressOutput(w io.Writer) {
	p.progress = w
}

// Config returns the resolved configuration
func (p *Pipeline) Config() *config.Config {
	return p.config
}

// LoadObservations reads the configured tables and infers sub-species
func (p *Pipeline) LoadObservations() ([]types.Observation, error) {
	loader := observations.NewWithConfig(observations.Config{
		Dir:             p.config.Paths.ObservationsDir,
		ExcludedSpecies: p.config.Dataset.ExcludedSpecies,
	})
	obs, err := loader.Load(p.config.Paths.Observations...)
	if err != nil {
		return nil, err
	}
	obs = observations.ApplySubSpecies(obs)
	p.logger.Info("observations loaded", slog.Int("count", len(obs)))
	return obs, nil
}

// Fetch downloads the raw photo of every observation
func (p *Pipeline) Fetch(ctx context.Context) (types.StageResult, error) {
	unlock, err := p.lock()
	if err != nil {
		return types.StageResult{Stage: fetcher.StageName}, err
	}
	defer unlock()

	obs, err := p.LoadObservations()
	if err != nil {
		return types.StageResult{Stage: fetcher.StageName}, err
	}
	return p.fetch(ctx, obs)
}

// Crop cuts every animal detection of the detector output into a crop
func (p *Pipeline) Crop(ctx context.Context) (types.StageResult, error) {
	unlock, err := p.lock()
	if err != nil {
		return types.StageResult{Stage: cropper.StageName}, err
	}
	defer unlock()

	return p.crop(ctx)
}

// Sort files the crops of every observation into the taxonomy tree
func (p *Pipeline) Sort(ctx context.Context) (types.StageResult, error) {
	unlock, err := p.lock()
	if err != nil {
		return types.StageResult{Stage: taxonomy.StageName}, err
	}
	defer unlock()

	obs, err := p.LoadObservations()
	if err != nil {
		return types.StageResult{Stage: taxonomy.StageName}, err
	}
	return p.sort(ctx, obs)
}

// Run executes fetch, crop and sort under one lock. It stops at the first
// fatal error and returns the results of the stages that ran.
func (p *Pipeline) Run(ctx context.Context) ([]types.StageResult, error) {
	unlock, err := p.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	obs, err := p.LoadObservations()
	if err != nil {
		return nil, err
	}

	var results []types.StageResult
	result, err := p.fetch(ctx, obs)
	results = append(results, result)
	if err != nil {
		return results, err
	}

	result, err = p.crop(ctx)
	results = append(results, result)
	if err != nil {
		return results, err
	}

	result, err = p.sort(ctx, obs)
	results = append(results, result)
	return results, err
}

// Taxa returns the distinct labels per taxonomic level of the loaded
// observations
func (p *Pipeline) Taxa() ([]observations.Level, error) {
	obs, err := p.LoadObservations()
	if err != nil {
		return nil, err
	}
	return observations.Breakdown(obs), nil
}

func (p *Pipeline) fetch(ctx context.Context, obs []types.Observation) (types.StageResult, error) {
	f := fetcher.NewWithConfig(fetcher.Config{
		Dir:           p.config.Paths.RawImagesDir,
		Timeout:       p.config.FetchTimeout(),
		RatePerSecond: p.config.Fetch.RatePerSecond,
		UserAgent:     p.config.Fetch.UserAgent,
		Workers:       p.config.Runtime.Workers,
	}, p.logger)

	tracker := progress.New("fetch", len(obs), p.progress)
	return f.FetchAll(ctx, obs, tracker)
}

func (p *Pipeline) crop(ctx context.Context) (types.StageResult, error) {
	out, err := detection.ReadFile(p.config.Paths.BoundingBoxes)
	if err != nil {
		return types.StageResult{Stage: cropper.StageName}, err
	}
	if !utils.DirExists(p.config.Paths.RawImagesDir) {
		p.logger.Warn("raw image directory missing, run fetch first",
			slog.String("path", p.config.Paths.RawImagesDir))
	}

	c := cropper.NewWithConfig(cropper.Config{
		Size:          p.config.Crop.Size,
		SourceDir:     p.config.Paths.RawImagesDir,
		OutputDir:     p.config.Paths.CroppedDir,
		Format:        p.config.CropExtension(),
		Quality:       p.config.Crop.Quality,
		Lossless:      p.config.Crop.Lossless,
		MinConfidence: p.config.Crop.MinConfidence,
		DebugOverlay:  p.config.Crop.DebugOverlay,
		DebugDir:      p.config.Crop.DebugDir,
		Workers:       p.config.Runtime.Workers,
	}, p.logger)

	tracker := progress.New("crop", len(out.Images), p.progress)
	return c.ProcessAll(ctx, out, tracker)
}

func (p *Pipeline) sort(ctx context.Context, obs []types.Observation) (types.StageResult, error) {
	s := taxonomy.NewWithConfig(taxonomy.Config{
		CropDir:            p.config.Paths.CroppedDir,
		TrainDir:           p.config.Paths.TrainDir,
		ValidateDir:        p.config.Paths.ValidateDir,
		Extension:          p.config.CropExtension(),
		ValidationFraction: p.config.Dataset.ValidationFraction,
		Seed:               p.config.Dataset.Seed,
		Workers:            p.config.Runtime.Workers,
	}, p.logger)

	tracker := progress.New("sort", len(obs), p.progress)
	return s.SortAll(ctx, obs, tracker)
}

// lock takes the dataset lock without waiting
func (p *Pipeline) lock() (func(), error) {
	path := p.config.Paths.LockFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			p.logger.Warn("release lock failed", slog.String("path", path), slog.Any("error", err))
		}
	}, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
