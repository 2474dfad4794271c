package processing

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/taxon-cropper/internal/utils"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

// Processor handles image loading, encoding and debug rendering
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// SaveImage saves an image to a file with the specified format and quality.
// An empty format is taken from the path extension.
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	if format == "" {
		format = utils.GetFileExtension(path)
	}
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CreateDebugOverlay draws the pixel rectangle that was cropped (gold) and
// the detector box read as center/size (green) on a copy of img, with a red
// cross at the box's first two components.
func (p *Processor) CreateDebugOverlay(img image.Image, cropRect image.Rectangle, box types.Box) image.Image {
	canvas := imaging.Clone(img)
	size := canvas.Bounds().Size()
	short := float64(min(size.X, size.Y))

	stroke := int(math.Max(2, 0.004*short))
	arm := int(math.Max(4, 0.01*short))

	centered := types.Box{X: box.X - box.W/2, Y: box.Y - box.H/2, W: box.W, H: box.H}
	outline(canvas, normalizedRect(centered, size), overlayCentered, stroke)
	if !cropRect.Empty() {
		outline(canvas, cropRect, overlayCrop, stroke)
	}

	anchor := normalizedPoint(box.X, box.Y, size)
	fill(canvas, image.Rect(anchor.X-arm, anchor.Y, anchor.X+arm, anchor.Y+1), overlayAnchor)
	fill(canvas, image.Rect(anchor.X, anchor.Y-arm, anchor.X+1, anchor.Y+arm), overlayAnchor)

	return canvas
}

var (
	overlayCentered = color.NRGBA{0, 255, 0, 255}
	overlayCrop     = color.NRGBA{255, 204, 0, 255}
	overlayAnchor   = color.NRGBA{255, 0, 0, 255}
)

// normalizedPoint maps fractions onto pixel coordinates, clamped to [0,1]
func normalizedPoint(fx, fy float64, size image.Point) image.Point {
	x := math.Round(math.Min(math.Max(fx, 0), 1) * float64(size.X))
	y := math.Round(math.Min(math.Max(fy, 0), 1) * float64(size.Y))
	return image.Pt(int(x), int(y))
}

// normalizedRect maps a normalized box onto pixels, at least one pixel wide
func normalizedRect(box types.Box, size image.Point) image.Rectangle {
	r := image.Rectangle{
		Min: normalizedPoint(box.X, box.Y, size),
		Max: normalizedPoint(box.X+box.W, box.Y+box.H, size),
	}
	r.Max.X = max(r.Max.X, r.Min.X+1)
	r.Max.Y = max(r.Max.Y, r.Min.Y+1)
	return r
}

// outline strokes the inside edge of r
func outline(dst *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	stroke = min(stroke, r.Dx(), r.Dy())
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y), c)
	fill(dst, image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fill(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}
