// Package fetcher downloads raw observation photos into the local image store.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/menta2k/taxon-cropper/internal/logging"
	"github.com/menta2k/taxon-cropper/internal/progress"
	"github.com/menta2k/taxon-cropper/internal/utils"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

// StageName labels fetch results and log records
const StageName = "fetch"

// Outcome describes what Fetch did for one observation
type Outcome int

const (
	Failed Outcome = iota
	Downloaded
	Skipped
)

// Config holds configuration for the fetcher
type Config struct {
	Dir           string
	Timeout       time.Duration
	RatePerSecond float64
	UserAgent     string
	Workers       int
	HTTPClient    *http.Client
}

// Fetcher downloads images referenced by observations
type Fetcher struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Fetcher writing into dir with a 3 second timeout
func New(dir string) *Fetcher {
	return NewWithConfig(Config{Dir: dir}, nil)
}

// NewWithConfig creates a Fetcher with custom configuration
func NewWithConfig(config Config, logger *slog.Logger) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.UserAgent == "" {
		config.UserAgent = "taxon-cropper/1.0"
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}

	return &Fetcher{
		config:  config,
		client:  client,
		limiter: limiter,
		logger:  logging.ForStage(logger, StageName),
	}
}

// Path returns the raw image path for an observation
func (f *Fetcher) Path(obs types.Observation) string {
	return filepath.Join(f.config.Dir, utils.SanitizeFilename(obs.ID)+".jpg")
}

// Fetch downloads the observation image unless it is already stored.
// The body is written verbatim; non-2xx responses write nothing.
func (f *Fetcher) Fetch(ctx context.Context, obs types.Observation) (Outcome, error) {
	if obs.ID == "" {
		return Failed, errors.New("observation has no id")
	}

	target := f.Path(obs)
	if utils.FileExists(target) {
		return Skipped, nil
	}

	parsedURL, err := url.Parse(obs.ImageURL)
	if err != nil {
		return Failed, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Failed, fmt.Errorf("unsupported URL scheme: %q (only http and https are supported)", parsedURL.Scheme)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Failed, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, obs.ImageURL, nil)
	if err != nil {
		return Failed, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Failed, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Failed, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	n, err := utils.WriteFileAtomic(target, resp.Body)
	if err != nil {
		return Failed, fmt.Errorf("failed to save image: %w", err)
	}

	f.logger.Debug("image downloaded",
		slog.String(logging.FieldObservationID, obs.ID),
		slog.String("size", utils.FormatFileSize(n)))
	return Downloaded, nil
}

// FetchAll fetches every observation once, logging and counting failures
// without stopping. The tracker advances once per observation. The error
// is non-nil only when ctx is cancelled.
func (f *Fetcher) FetchAll(ctx context.Context, obs []types.Observation, tracker *progress.Tracker) (types.StageResult, error) {
	result := types.StageResult{Stage: StageName, Total: len(obs)}
	if err := utils.EnsureDir(f.config.Dir); err != nil {
		return result, fmt.Errorf("create raw image directory: %w", err)
	}

	var mu sync.Mutex
	seen := make(map[string]struct{}, len(obs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Workers)

	for _, o := range obs {
		if gctx.Err() != nil {
			break
		}

		mu.Lock()
		_, dup := seen[o.ID]
		seen[o.ID] = struct{}{}
		mu.Unlock()

		g.Go(func() error {
			defer tracker.Advance()

			var partial types.StageResult
			partial.Processed = 1
			switch outcome, err := f.fetchOne(gctx, o, dup); {
			case err != nil:
				partial.AddError(fmt.Errorf("observation %s: %w", o.ID, err))
			case outcome == Skipped:
				partial.Skipped = 1
			default:
				partial.Succeeded = 1
				partial.Artifacts = 1
			}

			mu.Lock()
			result.Merge(partial)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	tracker.Finish()

	f.logger.Info("fetch finished",
		slog.Int("total", result.Total),
		slog.Int("downloaded", result.Succeeded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, ctx.Err()
}

func (f *Fetcher) fetchOne(ctx context.Context, obs types.Observation, duplicate bool) (Outcome, error) {
	if duplicate {
		return Skipped, nil
	}
	outcome, err := f.Fetch(ctx, obs)
	if err != nil {
		f.logger.Warn("error retrieving image",
			slog.String(logging.FieldObservationID, obs.ID),
			slog.Any("error", err))
	}
	return outcome, err
}
