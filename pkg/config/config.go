// Package config provides configuration loading and management for
// tomopick. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
// Values here are defaults; command-line flags override them.
type Config struct {
	// Extraction parameters
	Extraction struct {
		// BoxSize is the side length, in voxels, of each extracted
		// cubic subvolume
		BoxSize int `yaml:"boxSize"`

		// ParticleID is the label combined with the running counter to
		// name each output subvolume
		ParticleID string `yaml:"particleID"`
	} `yaml:"extraction"`

	// Projection parameters
	Projection struct {
		// Slices is the number of central depth slices summed into
		// each 2D projection
		Slices int `yaml:"slices"`

		// Enabled turns on 2D projection of every extracted subvolume
		Enabled bool `yaml:"enabled"`
	} `yaml:"projection"`

	// Output parameters
	Output struct {
		// SubvolumeDir is the subdirectory of the output directory
		// receiving 3D subvolumes
		SubvolumeDir string `yaml:"subvolumeDir"`

		// ProjectionDir is the subdirectory receiving 2D projections
		ProjectionDir string `yaml:"projectionDir"`

		// Verbose controls per-tomogram progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Extraction.BoxSize = 64
	cfg.Extraction.ParticleID = "particle"

	cfg.Projection.Slices = 1
	cfg.Projection.Enabled = false

	cfg.Output.SubvolumeDir = "3D_subvolumes"
	cfg.Output.ProjectionDir = "2D_projections"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
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

// CreateDefaultConfigFile creates a default configuration file at the
// specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
