package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment references and runs the
// config pipeline. A missing path yields a pure-default config.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		expanded := ExpandEnvVars(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ProcessConfigPipeline(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a fully defaulted config without reading any file.
// Validation is skipped so it works without API keys; callers that make LLM
// calls should Load a real config instead.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
