package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/taxon-cropper/internal/logging"
	"github.com/menta2k/taxon-cropper/internal/progress"
	"github.com/menta2k/taxon-cropper/internal/utils"
	"github.com/menta2k/taxon-cropper/pkg/cropper"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

// StageName labels sort results and log records
const StageName = "sort"

// Config holds configuration for the sorter
type Config struct {
	CropDir            string
	TrainDir           string
	ValidateDir        string
	Extension          string
	ValidationFraction float64
	Seed               uint64
	Workers            int
	// Splitter overrides the seeded splitter built from ValidationFraction and Seed.
	Splitter *Splitter
}

// Sorter copies crops into the taxonomy tree
type Sorter struct {
	config   Config
	splitter *Splitter
	logger   *slog.Logger
}

// New creates a Sorter with the default validation fraction and a
// clock-seeded splitter
func New(cropDir, trainDir, validateDir string) *Sorter {
	return NewWithConfig(Config{
		CropDir:            cropDir,
		TrainDir:           trainDir,
		ValidateDir:        validateDir,
		ValidationFraction: DefaultValidationFraction,
	}, nil)
}

// NewWithConfig creates a Sorter with custom configuration
func NewWithConfig(config Config, logger *slog.Logger) *Sorter {
	if config.Extension == "" {
		config.Extension = "jpg"
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	splitter := config.Splitter
	if splitter == nil {
		splitter = NewSplitter(config.ValidationFraction, config.Seed)
	}
	return &Sorter{
		config:   config,
		splitter: splitter,
		logger:   logging.ForStage(logger, StageName),
	}
}

// BranchRoot returns the root directory of branch
func (s *Sorter) BranchRoot(branch types.Branch) string {
	if branch == types.Validate {
		return s.config.ValidateDir
	}
	return s.config.TrainDir
}

// CropPaths returns the crops of obs in suffix order. Crops are assumed to
// be lettered contiguously from 'a'; discovery stops at the first missing
// suffix.
func (s *Sorter) CropPaths(obs types.Observation) []string {
	id := utils.SanitizeFilename(obs.ID)
	var paths []string
	for i := range len(cropper.Alphabet) {
		suffix, _ := cropper.Suffix(i)
		path := filepath.Join(s.config.CropDir, fmt.Sprintf("%s_%s.%s", id, suffix, s.config.Extension))
		if !utils.FileExists(path) {
			break
		}
		paths = append(paths, path)
	}
	return paths
}

// Sort copies every crop of obs into its taxonomy directory under the
// branch root. It returns the copied destinations and the copy errors.
func (s *Sorter) Sort(obs types.Observation, branch types.Branch) ([]string, []error) {
	crops := s.CropPaths(obs)
	if len(crops) == 0 {
		return nil, nil
	}

	dir := Path(s.BranchRoot(branch), obs)
	if err := utils.EnsureDir(dir); err != nil {
		return nil, []error{fmt.Errorf("observation %s: create %s: %w", obs.ID, dir, err)}
	}

	var (
		copied []string
		errs   []error
	)
	for _, src := range crops {
		dst := filepath.Join(dir, filepath.Base(src))
		if err := utils.CopyFile(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("observation %s: copy %s: %w", obs.ID, filepath.Base(src), err))
			continue
		}
		copied = append(copied, dst)
	}
	return copied, errs
}

// SortAll routes every observation to a branch and copies its crops.
// Branches are drawn once per id in input order before any copying starts,
// so a fixed seed gives the same split whatever the worker count. Rows
// repeating an earlier id are skipped. The tracker advances once per row.
func (s *Sorter) SortAll(ctx context.Context, obs []types.Observation, tracker *progress.Tracker) (types.StageResult, error) {
	result := types.StageResult{Stage: StageName, Total: len(obs)}

	// one draw per observation id; repeated rows of an id are not sorted again
	branches := make(map[string]types.Branch, len(obs))
	repeated := make([]bool, len(obs))
	for i, o := range obs {
		if _, ok := branches[o.ID]; ok {
			repeated[i] = true
			continue
		}
		branches[o.ID] = s.splitter.Assign()
	}

	var (
		mu        sync.Mutex
		validated int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for i, o := range obs {
		if gctx.Err() != nil {
			break
		}
		branch := branches[o.ID]
		if repeated[i] {
			s.logger.Debug("repeated observation id", slog.String(logging.FieldObservationID, o.ID))
			mu.Lock()
			result.Merge(types.StageResult{Processed: 1, Skipped: 1})
			mu.Unlock()
			tracker.Advance()
			continue
		}
		g.Go(func() error {
			defer tracker.Advance()

			copied, errs := s.Sort(o, branch)
			for _, err := range errs {
				s.logger.Warn("copy failed", slog.String(logging.FieldObservationID, o.ID), slog.Any("error", err))
			}

			partial := types.StageResult{Processed: 1, Artifacts: len(copied)}
			switch {
			case len(copied) > 0:
				partial.Succeeded = 1
			case len(errs) == 0:
				partial.Skipped = 1
			}
			for _, err := range errs {
				partial.AddError(err)
			}

			mu.Lock()
			result.Merge(partial)
			if branch == types.Validate {
				validated++
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	tracker.Finish()

	s.logger.Info("sort finished",
		slog.Int("observations", result.Total),
		slog.Int("validate", validated),
		slog.Int("copied", result.Artifacts),
		slog.Int("without_crops", result.Skipped),
		slog.Int("errors", result.Failed))
	return result, ctx.Err()
}
