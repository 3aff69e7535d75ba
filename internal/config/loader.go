package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a vigil configuration from the given YAML file path.
// After parsing, it applies defaults to journeys that don't specify their
// own values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a vigil config in standard locations and loads the
// first one found. Search order: ./vigil.yaml, ~/.vigil/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"vigil.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".vigil", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no vigil config found (searched: %v)", candidates)
}

// applyDefaults fills in concurrency and timeout values for journeys and
// flows that don't set their own.
func applyDefaults(cfg *Config) {
	v := &cfg.Vigil

	if v.Concurrency.Workers <= 0 {
		v.Concurrency.Workers = 1
	}
	if v.Defaults.StepTimeout == "" {
		v.Defaults.StepTimeout = "15s"
	}

	for i := range v.Journeys {
		j := &v.Journeys[i]
		if j.Timeout == "" && v.Defaults.AttemptTimeout != "" {
			j.Timeout = v.Defaults.AttemptTimeout
		}
	}
	for i := range v.Flows {
		f := &v.Flows[i]
		if f.Timeout == "" && v.Defaults.AttemptTimeout != "" {
			f.Timeout = v.Defaults.AttemptTimeout
		}
	}
}
