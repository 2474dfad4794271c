package taxonomy

import (
	"math/rand/v2"
	"time"

	"github.com/menta2k/taxon-cropper/pkg/types"
)

// DefaultValidationFraction is the share of observations routed to the
// validation branch
const DefaultValidationFraction = 0.15

// Splitter assigns observations to the train or validate branch.
// It is not safe for concurrent use.
type Splitter struct {
	fraction float64
	draw     func() float64
}

// NewSplitter returns a splitter drawing uniform values from a PCG source.
// A zero seed seeds from the clock.
func NewSplitter(fraction float64, seed uint64) *Splitter {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return NewSplitterFunc(fraction, rng.Float64)
}

// NewSplitterFunc returns a splitter using draw as its source of values in [0,1)
func NewSplitterFunc(fraction float64, draw func() float64) *Splitter {
	return &Splitter{fraction: fraction, draw: draw}
}

// Fraction returns the validation fraction
func (s *Splitter) Fraction() float64 {
	return s.fraction
}

// Assign draws once and returns the branch for one observation
func (s *Splitter) Assign() types.Branch {
	if s.draw() < s.fraction {
		return types.Validate
	}
	return types.Train
}
