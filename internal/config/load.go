package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads and parses the YAML config at path, starting from
// DefaultConfig so any field the file omits keeps its default. A
// missing file is not an error: the caller gets DefaultConfig as-is.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
