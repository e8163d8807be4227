package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"medaugment/internal/logging"
	"medaugment/internal/telemetry"
	"medaugment/pkg/config"
	"medaugment/pkg/pipeline"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	metricsAddr string

	runID   string
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		runID:        uuid.NewString(),
		metrics:      telemetry.New(),
	}
}

// ensureConfig loads and validates the configuration once and configures
// logging from it.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.Logging.Level = *c.logLevelFlag
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}

		logging.Configure(logging.Options{
			Level:      cfg.Logging.Level,
			JSON:       cfg.Logging.JSON,
			File:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
		c.logger = logging.L().With("run_id", c.runID)
		c.config = cfg
	})
	return c.config, c.configErr
}

// newPipeline builds a pipeline from the configuration, reporting to the
// run's logger and metrics.
func (c *commandContext) newPipeline(workers int) (*pipeline.Pipeline, error) {
	params := c.config.PipelineParams()
	if workers > 0 {
		params.NumWorkers = workers
	}
	params.Logger = c.logger
	params.Recorder = c.metrics
	return pipeline.NewPipeline(params)
}

// exposeMetrics starts the metrics listener when --metrics-addr is set.
func (c *commandContext) exposeMetrics() error {
	if c.metricsAddr == "" {
		return nil
	}
	addr, err := c.metrics.Expose(c.metricsAddr)
	if err != nil {
		return err
	}
	c.logger.Info("serving metrics", "addr", addr.String())
	return nil
}

// close stops the metrics listener, writes the metrics textfile if one is
// configured and closes the log file.
func (c *commandContext) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := []error{c.metrics.Shutdown(ctx)}
	if c.config != nil && c.config.Metrics.Textfile != "" {
		errs = append(errs, c.metrics.WriteTextfile(c.config.Metrics.Textfile))
	}
	errs = append(errs, logging.Close())
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
