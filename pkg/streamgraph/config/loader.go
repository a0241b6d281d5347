package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rawConfig mirrors Config with optional fields so loaders can tell
// "absent" from "zero" and fall back to defaults. Durations are strings
// ("30s", "5m") parsed with time.ParseDuration.
type rawConfig struct {
	Interval      *string `yaml:"interval" json:"interval"`
	Timeout       *string `yaml:"timeout" json:"timeout"`
	MinPause      *string `yaml:"min_pause" json:"min_pause"`
	MaxConcurrent *int    `yaml:"max_concurrent" json:"max_concurrent"`
	Retained      *int    `yaml:"retained" json:"retained"`
	SweepInterval *string `yaml:"sweep_interval" json:"sweep_interval"`
	Kind          *string `yaml:"kind" json:"kind"`
}

// FromFile loads configuration from a file, auto-detecting format by
// extension. Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config, applying defaults for
// absent fields and validating the result.
func FromYAML(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return raw.apply()
}

// FromJSON parses JSON data into a Config, applying defaults for
// absent fields and validating the result.
func FromJSON(data []byte) (Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return raw.apply()
}

// apply overlays the raw values onto Default() and validates.
func (r rawConfig) apply() (Config, error) {
	cfg := Default()

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"interval", r.Interval, &cfg.Interval},
		{"timeout", r.Timeout, &cfg.Timeout},
		{"min_pause", r.MinPause, &cfg.MinPause},
		{"sweep_interval", r.SweepInterval, &cfg.SweepInterval},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if r.MaxConcurrent != nil {
		cfg.MaxConcurrent = *r.MaxConcurrent
	}
	if r.Retained != nil {
		cfg.Retained = *r.Retained
	}
	if r.Kind != nil {
		cfg.Kind = *r.Kind
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
