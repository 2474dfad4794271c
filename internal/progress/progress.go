// Package progress tracks per-stage completion counts and draws them as a
// terminal progress bar.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// BarWidth is the number of cells in the rendered bar.
const BarWidth = 50

// Tracker counts processed records against a total fixed at construction.
// It is safe for concurrent use.
type Tracker struct {
	total int64
	count atomic.Int64
	bar   *progressbar.ProgressBar
}

// New returns a tracker for total records. The bar is drawn on w only when
// w is a terminal; nil w disables drawing.
func New(description string, total int, w io.Writer) *Tracker {
	visible := w != nil && isTerminal(w)
	if !visible {
		w = io.Discard
	}

	opts := []progressbar.Option{
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(BarWidth),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    "=",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	}
	if visible {
		opts = append(opts, progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}))
	}
	bar := progressbar.NewOptions64(int64(total), opts...)

	return &Tracker{total: int64(total), bar: bar}
}

// Advance marks one more record as processed, whatever its outcome.
func (t *Tracker) Advance() {
	if t == nil {
		return
	}
	t.count.Add(1)
	_ = t.bar.Add(1)
}

// Count returns the number of processed records.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	return int(t.count.Load())
}

// Total returns the number of records the stage started with.
func (t *Tracker) Total() int {
	if t == nil {
		return 0
	}
	return int(t.total)
}

// Fraction returns processed / total. An empty stage is complete.
func (t *Tracker) Fraction() float64 {
	if t == nil || t.total == 0 {
		return 1
	}
	return float64(t.count.Load()) / float64(t.total)
}

// String renders the bar in plain text, e.g. "[=====-----] 50% count: 5".
func (t *Tracker) String() string {
	return Render(t.Count(), t.Total(), BarWidth)
}

// Finish completes the terminal bar.
func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	_ = t.bar.Finish()
}

// Render draws a width-cell text bar for count out of total.
func Render(count, total, width int) string {
	fraction := 1.0
	if total > 0 {
		fraction = float64(count) / float64(total)
	}
	filled := int(float64(width) * fraction)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)
	return fmt.Sprintf("[%s] %.5g%% count: %d", bar, 100*fraction, count)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
