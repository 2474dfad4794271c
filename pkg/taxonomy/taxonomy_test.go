package taxonomy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/taxon-cropper/internal/progress"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

func writeCrops(t *testing.T, dir, id string, suffixes ...string) {
	t.Helper()
	for _, s := range suffixes {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_"+s+".jpg"), []byte(id+s), 0o644))
	}
}

// fixedDraws replays values in order
func fixedDraws(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestSegment(t *testing.T) {
	assert.Equal(t, "panthera_leo_leo", Segment("Panthera leo leo"))
	assert.Equal(t, "elephantidae", Segment("Elephantidae"))
	assert.Equal(t, "loxodonta_africana", Segment("Loxodonta Africana"))
}

func TestPathStopsAtFirstUndefinedLevel(t *testing.T) {
	tests := []struct {
		name     string
		obs      types.Observation
		segments []string
	}{
		{
			name:     "family and genus only",
			obs:      types.Observation{Family: "Felidae", Genus: "Panthera"},
			segments: []string{"felidae", "panthera"},
		},
		{
			name:     "all four levels",
			obs:      types.Observation{Family: "Felidae", Genus: "Panthera", Species: "Panthera leo", SubSpecies: "Panthera leo leo"},
			segments: []string{"felidae", "panthera", "panthera_leo", "panthera_leo_leo"},
		},
		{
			name:     "gap hides narrower levels",
			obs:      types.Observation{Family: "Felidae", Species: "Panthera leo"},
			segments: []string{"felidae"},
		},
		{
			name:     "no family",
			obs:      types.Observation{Genus: "Panthera"},
			segments: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.segments, Segments(tt.obs))

			rel, err := filepath.Rel("/root", Path("/root", tt.obs))
			require.NoError(t, err)
			if len(tt.segments) == 0 {
				assert.Equal(t, ".", rel)
				return
			}
			assert.Len(t, strings.Split(rel, string(filepath.Separator)), len(tt.segments))
		})
	}
}

func TestSplitterAssign(t *testing.T) {
	s := NewSplitterFunc(0.15, fixedDraws(0.0, 0.149, 0.15, 0.99))
	assert.Equal(t, types.Validate, s.Assign())
	assert.Equal(t, types.Validate, s.Assign())
	assert.Equal(t, types.Train, s.Assign())
	assert.Equal(t, types.Train, s.Assign())
}

func TestSplitterSeededIsDeterministic(t *testing.T) {
	a := NewSplitter(0.5, 42)
	b := NewSplitter(0.5, 42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Assign(), b.Assign())
	}
}

func TestSplitterFractionRoughlyHolds(t *testing.T) {
	s := NewSplitter(DefaultValidationFraction, 7)
	validate := 0
	const n = 20000
	for i := 0; i < n; i++ {
		if s.Assign() == types.Validate {
			validate++
		}
	}
	assert.InDelta(t, DefaultValidationFraction, float64(validate)/n, 0.02)
}

func TestCropPathsStopAtGap(t *testing.T) {
	crops := t.TempDir()
	writeCrops(t, crops, "42", "a", "b", "d")

	s := New(crops, t.TempDir(), t.TempDir())
	paths := s.CropPaths(types.Observation{ID: "42"})
	assert.Equal(t, []string{
		filepath.Join(crops, "42_a.jpg"),
		filepath.Join(crops, "42_b.jpg"),
	}, paths)
}

func TestCropPathsExtension(t *testing.T) {
	crops := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(crops, "5_a.png"), []byte("x"), 0o644))
	writeCrops(t, crops, "5", "a")

	s := NewWithConfig(Config{CropDir: crops, Extension: "png"}, nil)
	assert.Equal(t, []string{filepath.Join(crops, "5_a.png")}, s.CropPaths(types.Observation{ID: "5"}))
}

func TestSort(t *testing.T) {
	crops, train, validate := t.TempDir(), t.TempDir(), t.TempDir()
	writeCrops(t, crops, "1", "a", "b")

	s := New(crops, train, validate)
	obs := types.Observation{ID: "1", Family: "Felidae", Genus: "Panthera"}

	copied, errs := s.Sort(obs, types.Validate)
	assert.Empty(t, errs)
	assert.Equal(t, []string{
		filepath.Join(validate, "felidae", "panthera", "1_a.jpg"),
		filepath.Join(validate, "felidae", "panthera", "1_b.jpg"),
	}, copied)

	data, err := os.ReadFile(copied[1])
	require.NoError(t, err)
	assert.Equal(t, "1b", string(data))

	// source crops stay in place
	assert.FileExists(t, filepath.Join(crops, "1_a.jpg"))
}

func TestSortWithoutCropsCreatesNothing(t *testing.T) {
	train := t.TempDir()
	s := New(t.TempDir(), train, t.TempDir())

	copied, errs := s.Sort(types.Observation{ID: "9", Family: "Felidae"}, types.Train)
	assert.Empty(t, copied)
	assert.Empty(t, errs)
	assert.NoDirExists(t, filepath.Join(train, "felidae"))
}

func TestSortAll(t *testing.T) {
	crops, train, validate := t.TempDir(), t.TempDir(), t.TempDir()
	writeCrops(t, crops, "1", "a", "b", "c")
	writeCrops(t, crops, "2", "a")
	writeCrops(t, crops, "3", "a", "b")

	obs := []types.Observation{
		{ID: "1", Family: "Elephantidae", Genus: "Loxodonta", Species: "Loxodonta africana"},
		{ID: "2", Family: "Felidae", Genus: "Panthera"},
		{ID: "3", Family: "Elephantidae", Genus: "Elephas", Species: "Elephas maximus", SubSpecies: "Elephas maximus indicus"},
		{ID: "4", Family: "Felidae"},
	}

	s := NewWithConfig(Config{
		CropDir:     crops,
		TrainDir:    train,
		ValidateDir: validate,
		Workers:     3,
		Splitter:    NewSplitterFunc(0.15, fixedDraws(0.5, 0.1, 0.9, 0.2)),
	}, nil)

	tracker := progress.New("sort", len(obs), nil)
	result, err := s.SortAll(context.Background(), obs, tracker)
	require.NoError(t, err)

	assert.Equal(t, len(obs), tracker.Count())
	assert.Equal(t, 1.0, tracker.Fraction())
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 6, result.Artifacts)
	assert.Zero(t, result.Failed)

	for _, s := range []string{"a", "b", "c"} {
		assert.FileExists(t, filepath.Join(train, "elephantidae", "loxodonta", "loxodonta_africana", "1_"+s+".jpg"))
	}
	assert.FileExists(t, filepath.Join(validate, "felidae", "panthera", "2_a.jpg"))
	assert.FileExists(t, filepath.Join(train, "elephantidae", "elephas", "elephas_maximus", "elephas_maximus_indicus", "3_b.jpg"))
	assert.NoDirExists(t, filepath.Join(validate, "elephantidae"))
}

func TestSortAllKeepsCropsOfOneObservationTogether(t *testing.T) {
	crops, train, validate := t.TempDir(), t.TempDir(), t.TempDir()
	var obs []types.Observation
	for _, id := range []string{"10", "11", "12", "13", "14", "15", "16", "17"} {
		writeCrops(t, crops, id, "a", "b", "c", "d")
		obs = append(obs, types.Observation{ID: id, Family: "Elephantidae"})
	}

	s := NewWithConfig(Config{
		CropDir:            crops,
		TrainDir:           train,
		ValidateDir:        validate,
		ValidationFraction: 0.5,
		Seed:               3,
		Workers:            4,
	}, nil)
	_, err := s.SortAll(context.Background(), obs, nil)
	require.NoError(t, err)

	for _, o := range obs {
		inTrain, inValidate := 0, 0
		for _, suffix := range []string{"a", "b", "c", "d"} {
			name := o.ID + "_" + suffix + ".jpg"
			if _, err := os.Stat(filepath.Join(train, "elephantidae", name)); err == nil {
				inTrain++
			}
			if _, err := os.Stat(filepath.Join(validate, "elephantidae", name)); err == nil {
				inValidate++
			}
		}
		assert.True(t, (inTrain == 4 && inValidate == 0) || (inTrain == 0 && inValidate == 4),
			"observation %s split across branches: train=%d validate=%d", o.ID, inTrain, inValidate)
	}
}

func TestSortAllRepeatedIDUsesOneBranch(t *testing.T) {
	crops, train, validate := t.TempDir(), t.TempDir(), t.TempDir()
	writeCrops(t, crops, "7", "a")

	obs := []types.Observation{
		{ID: "7", Family: "Felidae"},
		{ID: "7", Family: "Felidae"},
	}
	s := NewWithConfig(Config{
		CropDir:     crops,
		TrainDir:    train,
		ValidateDir: validate,
		Workers:     2,
		Splitter:    NewSplitterFunc(0.15, fixedDraws(0.9, 0.1)),
	}, nil)

	tracker := progress.New("sort", len(obs), nil)
	result, err := s.SortAll(context.Background(), obs, tracker)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(train, "felidae", "7_a.jpg"))
	assert.NoFileExists(t, filepath.Join(validate, "felidae", "7_a.jpg"))
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Artifacts)
	assert.Equal(t, 2, tracker.Count())
}

func TestSortAllDrawsOncePerID(t *testing.T) {
	draws := 0
	s := NewWithConfig(Config{
		CropDir:     t.TempDir(),
		TrainDir:    t.TempDir(),
		ValidateDir: t.TempDir(),
		Splitter: NewSplitterFunc(0.15, func() float64 {
			draws++
			return 0.5
		}),
	}, nil)

	obs := []types.Observation{{ID: "1"}, {ID: "2"}, {ID: "1"}, {ID: "3"}, {ID: "2"}}
	_, err := s.SortAll(context.Background(), obs, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, draws)
}

func TestSortAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(t.TempDir(), t.TempDir(), t.TempDir())
	_, err := s.SortAll(ctx, []types.Observation{{ID: "1"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
