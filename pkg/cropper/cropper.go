// Package cropper cuts detector bounding boxes out of raw observation
// images and writes them as fixed-size, sharpened training crops.
package cropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/taxon-cropper/internal/logging"
	"github.com/menta2k/taxon-cropper/internal/progress"
	"github.com/menta2k/taxon-cropper/internal/utils"
	"github.com/menta2k/taxon-cropper/pkg/detection"
	"github.com/menta2k/taxon-cropper/pkg/processing"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

// StageName labels crop results and log records
const StageName = "crop"

// DefaultSize is the edge length of every crop in pixels
const DefaultSize = 224

// Alphabet holds the suffix letters distinguishing crops of one image.
// Crops are lettered contiguously from 'a'.
const Alphabet = "abcdefghijklmnopqr"

// SharpenKernel is the 3x3 edge-enhancement kernel applied after resizing
var SharpenKernel = [9]float64{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

var (
	// ErrSuffixExhausted is returned when an image has more animal
	// detections than suffix letters.
	ErrSuffixExhausted = errors.New("crop suffix alphabet exhausted")
	// ErrEmptyCrop is returned when a box covers no pixels of the image.
	ErrEmptyCrop = errors.New("empty crop rectangle")
)

// Suffix returns the letter for the index-th crop of an image
func Suffix(index int) (string, error) {
	if index < 0 || index >= len(Alphabet) {
		return "", fmt.Errorf("%w: index %d, max %d", ErrSuffixExhausted, index, len(Alphabet)-1)
	}
	return Alphabet[index : index+1], nil
}

// CropFileName returns "<source-id>_<suffix>.<ext>" for the index-th crop
// of sourceFile.
func CropFileName(sourceFile string, index int, ext string) (string, error) {
	suffix, err := Suffix(index)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s.%s", utils.BaseName(sourceFile), suffix, ext), nil
}

// BoxToRect converts a normalized box to pixel coordinates relative to the
// image origin. Values are truncated toward zero.
//
// The detector's first two components are read as the top-left corner
// even though the pipeline has always called them the center. Crops in
// existing datasets were cut this way, so the arithmetic is kept as is.
func BoxToRect(box types.Box, width, height int) image.Rectangle {
	xStart := box.X * float64(width)
	yStart := box.Y * float64(height)
	boxWidth := box.W * float64(width)
	boxHeight := box.H * float64(height)

	return image.Rect(
		int(xStart), int(yStart),
		int(xStart+boxWidth), int(yStart+boxHeight),
	)
}

// Config holds configuration for the cropper
type Config struct {
	Size          int
	SourceDir     string
	OutputDir     string
	Format        string
	Quality       int
	Lossless      bool
	MinConfidence float64
	DebugOverlay  bool
	DebugDir      string
	Workers       int
}

// Cropper produces training crops from detector output
type Cropper struct {
	config    Config
	processor *processing.Processor
	logger    *slog.Logger
}

// New creates a Cropper reading raw images from sourceDir and writing
// 224x224 JPEG crops into outputDir
func New(sourceDir, outputDir string) *Cropper {
	return NewWithConfig(Config{SourceDir: sourceDir, OutputDir: outputDir}, nil)
}

// NewWithConfig creates a Cropper with custom configuration
func NewWithConfig(config Config, logger *slog.Logger) *Cropper {
	if config.Size <= 0 {
		config.Size = DefaultSize
	}
	if config.Format == "" || config.Format == "jpeg" {
		config.Format = "jpg"
	}
	if config.Quality <= 0 {
		config.Quality = 95
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Cropper{
		config:    config,
		processor: processing.NewProcessor(),
		logger:    logging.ForStage(logger, StageName),
	}
}

// Crop cuts box out of img, resizes it to Size x Size with Lanczos
// resampling and sharpens it. It also returns the pixel rectangle used.
func (c *Cropper) Crop(img image.Image, box types.Box) (image.Image, image.Rectangle, error) {
	bounds := img.Bounds()
	rect := BoxToRect(box, bounds.Dx(), bounds.Dy()).Add(bounds.Min)

	clipped := rect.Intersect(bounds)
	if clipped.Empty() {
		return nil, rect, fmt.Errorf("%w: %v outside %v", ErrEmptyCrop, rect, bounds)
	}

	cropped := imaging.Crop(img, clipped)
	resized := imaging.Resize(cropped, c.config.Size, c.config.Size, imaging.Lanczos)
	return imaging.Convolve3x3(resized, SharpenKernel, nil), clipped, nil
}

// ProcessImage writes one crop per animal detection of entry, lettered in
// document order. It returns the written paths and every recoverable
// error; a missing detections key yields neither.
func (c *Cropper) ProcessImage(entry types.ImageEntry) ([]string, []error) {
	log := c.logger.With(slog.String(logging.FieldFile, entry.File))

	if entry.Failure != "" {
		return nil, []error{fmt.Errorf("%s: detector failure: %s", entry.File, entry.Failure)}
	}
	if entry.Detections == nil {
		log.Debug("no detections recorded for image")
		return nil, nil
	}

	animals := detection.AnimalDetections(entry, c.config.MinConfidence)
	if len(animals) == 0 {
		return nil, nil
	}

	img, err := c.processor.LoadImage(filepath.Join(c.config.SourceDir, entry.File))
	if err != nil {
		return nil, []error{fmt.Errorf("%s: %w", entry.File, err)}
	}

	var (
		written []string
		errs    []error
		overlay = img
		index   int
	)
	for i, d := range animals {
		if index >= len(Alphabet) {
			errs = append(errs, fmt.Errorf("%s: %w: %d detections not cropped",
				entry.File, ErrSuffixExhausted, len(animals)-i))
			break
		}

		box, err := d.Box()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: detection %d: %w", entry.File, i, err))
			continue
		}

		crop, rect, err := c.Crop(img, box)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: detection %d: %w", entry.File, i, err))
			continue
		}

		name, err := CropFileName(entry.File, index, c.config.Format)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.File, err))
			break
		}
		target := filepath.Join(c.config.OutputDir, name)
		if err := c.processor.SaveImage(crop, target, c.config.Format, c.config.Quality, c.config.Lossless); err != nil {
			errs = append(errs, fmt.Errorf("%s: save %s: %w", entry.File, name, err))
			continue
		}

		written = append(written, target)
		index++

		if c.config.DebugOverlay {
			overlay = c.processor.CreateDebugOverlay(overlay, rect, box)
		}
	}

	if c.config.DebugOverlay && len(written) > 0 {
		c.saveOverlay(entry.File, overlay)
	}
	return written, errs
}

// ProcessAll crops every image entry of out. The tracker advances once per
// image entry. The error is non-nil only for setup failures or when ctx is
// cancelled.
func (c *Cropper) ProcessAll(ctx context.Context, out *types.DetectorOutput, tracker *progress.Tracker) (types.StageResult, error) {
	result := types.StageResult{Stage: StageName, Total: len(out.Images)}
	if err := utils.EnsureDir(c.config.OutputDir); err != nil {
		return result, fmt.Errorf("create crop directory: %w", err)
	}

	c.logger.Debug("cropping detections",
		slog.String("category", detection.CategoryName(out, detection.CategoryAnimal)),
		slog.Int("size", c.config.Size))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	for _, entry := range out.Images {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer tracker.Advance()

			written, errs := c.ProcessImage(entry)
			for _, err := range errs {
				c.logger.Warn("crop failed", slog.String(logging.FieldFile, entry.File), slog.Any("error", err))
			}

			partial := types.StageResult{Processed: 1, Artifacts: len(written)}
			switch {
			case len(written) > 0:
				partial.Succeeded = 1
			case len(errs) == 0:
				partial.Skipped = 1
			}
			for _, err := range errs {
				partial.AddError(err)
			}

			mu.Lock()
			result.Merge(partial)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	tracker.Finish()

	c.logger.Info("crop finished",
		slog.Int("images", result.Total),
		slog.Int("crops", result.Artifacts),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Failed))
	return result, ctx.Err()
}

func (c *Cropper) saveOverlay(file string, overlay image.Image) {
	if err := utils.EnsureDir(c.config.DebugDir); err != nil {
		c.logger.Warn("debug overlay directory", slog.Any("error", err))
		return
	}
	path := filepath.Join(c.config.DebugDir, utils.BaseName(file)+"_debug.png")
	if err := c.processor.SaveImage(overlay, path, "png", 0, false); err != nil {
		c.logger.Warn("debug overlay save failed", slog.String(logging.FieldFile, path), slog.Any("error", err))
	}
}
