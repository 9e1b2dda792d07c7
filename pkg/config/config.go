// Package config provides configuration loading and management for wallthickness.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"wallthickness/internal/models"
	"wallthickness/pkg/thickness"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

var validate = validator.New()

// Config represents the application configuration
type Config struct {
	// Solver parameters
	Solver struct {
		// LaplaceTolerance stops the Laplace relaxation once no voxel changes by more
		LaplaceTolerance float64 `yaml:"laplaceTolerance" toml:"laplace_tolerance" validate:"gt=0"`

		// LaplaceMaxIter caps the number of Laplace sweeps
		LaplaceMaxIter int `yaml:"laplaceMaxIter" toml:"laplace_max_iter" validate:"gte=1"`

		YezziTolerance float64 `yaml:"yezziTolerance" toml:"yezzi_tolerance" validate:"gt=0"`
		YezziMaxIter   int     `yaml:"yezziMaxIter" toml:"yezzi_max_iter" validate:"gte=1"`
	} `yaml:"solver" toml:"solver"`

	// Label values used in the input slices
	Labels struct {
		Inside uint8 `yaml:"inside" toml:"inside" validate:"required"`
		Wall   uint8 `yaml:"wall" toml:"wall" validate:"required"`
		Holes  uint8 `yaml:"holes" toml:"holes" validate:"required"`
	} `yaml:"labels" toml:"labels"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores the relaxation sweeps may use
		NumCores int `yaml:"numCores" toml:"num_cores" validate:"gte=1"`

		// Spacing is the physical voxel size along (i, j, k) in mm. The k
		// axis is the gap between consecutive slices.
		Spacing []float64 `yaml:"spacing" toml:"spacing" validate:"len=3,dive,gt=0"`
	} `yaml:"processing" toml:"processing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes Laplace and path length slices next to the result
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults" toml:"save_intermediary_results"`

		// IntermediaryDir is where intermediary slices go
		IntermediaryDir string `yaml:"intermediaryDir" toml:"intermediary_dir" validate:"required_if=SaveIntermediaryResults true"`
	} `yaml:"output" toml:"output"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" toml:"format" validate:"oneof=console json"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Solver.LaplaceTolerance = thickness.DefaultTolerance
	cfg.Solver.LaplaceMaxIter = thickness.DefaultMaxIter
	cfg.Solver.YezziTolerance = thickness.DefaultTolerance
	cfg.Solver.YezziMaxIter = thickness.DefaultMaxIter

	cfg.Labels.Inside = models.DefaultLabels.Inside
	cfg.Labels.Wall = models.DefaultLabels.Wall
	cfg.Labels.Holes = models.DefaultLabels.Holes

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Spacing = []float64{1, 1, 1}

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	return cfg
}

// Validate checks field ranges and that the three labels are distinct.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.labelSet().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Config) labelSet() models.LabelSet {
	return models.LabelSet{Inside: c.Labels.Inside, Wall: c.Labels.Wall, Holes: c.Labels.Holes}
}

// ThicknessOptions maps the configuration onto solver options.
func (c *Config) ThicknessOptions() thickness.Options {
	opts := thickness.DefaultOptions()
	opts.LaplaceTolerance = c.Solver.LaplaceTolerance
	opts.LaplaceMaxIter = c.Solver.LaplaceMaxIter
	opts.YezziTolerance = c.Solver.YezziTolerance
	opts.YezziMaxIter = c.Solver.YezziMaxIter
	opts.Labels = c.labelSet()
	opts.Workers = c.Processing.NumCores
	if len(c.Processing.Spacing) == 3 {
		opts.Spacing = models.Spacing{c.Processing.Spacing[0], c.Processing.Spacing[1], c.Processing.Spacing[2]}
	}
	return opts
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(configPath) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
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
