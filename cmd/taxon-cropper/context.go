package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	taxoncropper "github.com/menta2k/taxon-cropper"
	"github.com/menta2k/taxon-cropper/internal/config"
	"github.com/menta2k/taxon-cropper/internal/logging"
)

type commandContext struct {
	rootFlag      *string
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string
	workersFlag   *int

	once     sync.Once
	pipeline *taxoncropper.Pipeline
	err      error
}

func newCommandContext(rootFlag, configFlag, logLevelFlag, logFormatFlag *string, workersFlag *int) *commandContext {
	return &commandContext{
		rootFlag:      rootFlag,
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
		workersFlag:   workersFlag,
	}
}

func (c *commandContext) root() string {
	if c.rootFlag == nil || strings.TrimSpace(*c.rootFlag) == "" {
		return "."
	}
	return strings.TrimSpace(*c.rootFlag)
}

// loadConfig reads the config file and applies flag overrides
func (c *commandContext) loadConfig() (*config.Config, error) {
	var explicit string
	if c.configFlag != nil {
		explicit = strings.TrimSpace(*c.configFlag)
	}
	cfg, err := config.Load(c.root(), explicit)
	if err != nil {
		return nil, err
	}

	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		cfg.Logging.Level = *c.logLevelFlag
	}
	if c.logFormatFlag != nil && *c.logFormatFlag != "" {
		cfg.Logging.Format = *c.logFormatFlag
	}
	if c.workersFlag != nil && *c.workersFlag > 0 {
		cfg.Runtime.Workers = *c.workersFlag
	}
	return cfg, nil
}

// ensurePipeline builds the pipeline once; logs and progress bars go to
// stderr.
func (c *commandContext) ensurePipeline(stderr io.Writer) (*taxoncropper.Pipeline, error) {
	c.once.Do(func() {
		cfg, err := c.loadConfig()
		if err != nil {
			c.err = err
			return
		}

		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: stderr,
		})
		if err != nil {
			c.err = fmt.Errorf("logging: %w", err)
			return
		}
		slog.SetDefault(logger)

		pipeline, err := taxoncropper.New(c.root(), cfg, logger)
		if err != nil {
			c.err = err
			return
		}
		pipeline.SetProgressOutput(stderr)
		c.pipeline = pipeline
	})
	return c.pipeline, c.err
}
