// Package config provides configuration loading and management for medaugment.
// It handles loading configuration from YAML files and environment variables
// and provides default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"medaugment/pkg/augment"
	"medaugment/pkg/pipeline"
)

// EnvPrefix is the prefix of environment variables overriding file values.
// Nested keys are separated by a double underscore, for example
// MEDAUGMENT_PROCESSING__NUM_WORKERS=4.
const EnvPrefix = "MEDAUGMENT_"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Augmentation parameters of the transform battery
	Augmentation struct {
		// Size is the edge length every slice is normalized to
		Size int `yaml:"size" koanf:"size"`

		// Interpolation is the image resize kernel, "bilinear" or "area"
		Interpolation string `yaml:"interpolation" koanf:"interpolation"`

		// Angle is the rotation angle in degrees
		Angle float64 `yaml:"angle" koanf:"angle"`

		// CropStart and CropEnd bound the zoom window
		CropStart int `yaml:"crop_start" koanf:"crop_start"`
		CropEnd   int `yaml:"crop_end" koanf:"crop_end"`

		ContrastGain   float64 `yaml:"contrast_gain" koanf:"contrast_gain"`
		ContrastOffset float64 `yaml:"contrast_offset" koanf:"contrast_offset"`
		ContrastMin    float64 `yaml:"contrast_min" koanf:"contrast_min"`
		ContrastMax    float64 `yaml:"contrast_max" koanf:"contrast_max"`

		// KernelSize and Sigma configure the Gaussian denoising filter
		KernelSize int     `yaml:"kernel_size" koanf:"kernel_size"`
		Sigma      float64 `yaml:"sigma" koanf:"sigma"`
	} `yaml:"augmentation" koanf:"augmentation"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many slices are augmented in parallel
		NumWorkers int `yaml:"num_workers" koanf:"num_workers"`

		// LabelClass, when positive, keeps only this class in label volumes
		// and maps it to 1 before augmentation
		LabelClass int `yaml:"label_class" koanf:"label_class"`

		// PreserveMetadata reattaches the source NIfTI header fields to the
		// augmented volumes
		PreserveMetadata bool `yaml:"preserve_metadata" koanf:"preserve_metadata"`
	} `yaml:"processing" koanf:"processing"`

	// Input discovery parameters
	Input struct {
		// VolumePrefix and LabelPrefix select the source NIfTI files
		VolumePrefix string `yaml:"volume_prefix" koanf:"volume_prefix"`
		LabelPrefix  string `yaml:"label_prefix" koanf:"label_prefix"`
	} `yaml:"input" koanf:"input"`

	// Output parameters
	Output struct {
		// Dir is the directory receiving augmented files
		Dir string `yaml:"dir" koanf:"dir"`

		// PreviewDir receives PNG montages
		PreviewDir string `yaml:"preview_dir" koanf:"preview_dir"`
	} `yaml:"output" koanf:"output"`

	// Split parameters
	Split struct {
		Train float64 `yaml:"train" koanf:"train"`
		Val   float64 `yaml:"val" koanf:"val"`
		Test  float64 `yaml:"test" koanf:"test"`
		Seed  uint64  `yaml:"seed" koanf:"seed"`
	} `yaml:"split" koanf:"split"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" koanf:"level"`

		// JSON switches to structured JSON output
		JSON bool `yaml:"json" koanf:"json"`

		// File, when set, also writes logs to a rotated file
		File       string `yaml:"file" koanf:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" koanf:"max_size_mb"`
		MaxAgeDays int    `yaml:"max_age_days" koanf:"max_age_days"`
	} `yaml:"logging" koanf:"logging"`

	// Metrics parameters
	Metrics struct {
		// Textfile, when set, receives the metrics in Prometheus text format
		// after each run
		Textfile string `yaml:"textfile" koanf:"textfile"`
	} `yaml:"metrics" koanf:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	p := augment.DefaultParams()
	cfg.Augmentation.Size = p.Size
	cfg.Augmentation.Interpolation = string(p.Interpolation)
	cfg.Augmentation.Angle = p.Angle
	cfg.Augmentation.CropStart = p.CropStart
	cfg.Augmentation.CropEnd = p.CropEnd
	cfg.Augmentation.ContrastGain = p.ContrastGain
	cfg.Augmentation.ContrastOffset = p.ContrastOffset
	cfg.Augmentation.ContrastMin = p.ContrastMin
	cfg.Augmentation.ContrastMax = p.ContrastMax
	cfg.Augmentation.KernelSize = p.KernelSize
	cfg.Augmentation.Sigma = p.Sigma

	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.LabelClass = 0
	cfg.Processing.PreserveMetadata = true

	cfg.Input.VolumePrefix = "volume"
	cfg.Input.LabelPrefix = "labels"

	cfg.Output.Dir = "augmented_nifti_volumes"
	cfg.Output.PreviewDir = "previews"

	cfg.Split.Train = 0.7
	cfg.Split.Val = 0.2
	cfg.Split.Test = 0.1
	cfg.Split.Seed = 42

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxAgeDays = 28

	return cfg
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides on top. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// envKey maps MEDAUGMENT_PROCESSING__NUM_WORKERS to processing.num_workers.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// AugmentParams converts the augmentation section into transform parameters.
func (c *Config) AugmentParams() augment.Params {
	a := c.Augmentation
	return augment.Params{
		Size:           a.Size,
		Interpolation:  augment.Interpolation(strings.ToLower(a.Interpolation)),
		Angle:          a.Angle,
		CropStart:      a.CropStart,
		CropEnd:        a.CropEnd,
		ContrastGain:   a.ContrastGain,
		ContrastOffset: a.ContrastOffset,
		ContrastMin:    a.ContrastMin,
		ContrastMax:    a.ContrastMax,
		KernelSize:     a.KernelSize,
		Sigma:          a.Sigma,
	}
}

// PipelineParams builds pipeline parameters. The logger and recorder are
// left for the caller to attach.
func (c *Config) PipelineParams() *pipeline.Params {
	return &pipeline.Params{
		Transform:  c.AugmentParams(),
		NumWorkers: c.Processing.NumWorkers,
	}
}

// SplitRatios returns the train, validation and test fractions.
func (c *Config) SplitRatios() [3]float64 {
	return [3]float64{c.Split.Train, c.Split.Val, c.Split.Test}
}

// Validate checks the configuration for values that cannot be processed.
func (c *Config) Validate() error {
	var errs []error
	if err := c.AugmentParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("augmentation: %w", err))
	}
	if c.Processing.NumWorkers < 0 {
		errs = append(errs, fmt.Errorf("processing.num_workers must not be negative, got %d", c.Processing.NumWorkers))
	}
	if c.Processing.LabelClass < 0 {
		errs = append(errs, fmt.Errorf("processing.label_class must not be negative, got %d", c.Processing.LabelClass))
	}
	if c.Input.VolumePrefix == "" || c.Input.LabelPrefix == "" {
		errs = append(errs, errors.New("input prefixes must not be empty"))
	}
	if vp, lp := c.Input.VolumePrefix, c.Input.LabelPrefix; strings.HasPrefix(vp, lp) || strings.HasPrefix(lp, vp) {
		errs = append(errs, fmt.Errorf("input prefixes %q and %q overlap", vp, lp))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir must not be empty"))
	}
	s := c.Split
	if s.Train <= 0 || s.Val < 0 || s.Test < 0 {
		errs = append(errs, fmt.Errorf("split fractions must be non-negative with a positive train share, got %g/%g/%g", s.Train, s.Val, s.Test))
	} else if sum := s.Train + s.Val + s.Test; sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Errorf("split fractions must sum to 1, got %g", sum))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}
