package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Marshal encodes the configuration the way Save writes it.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Save persists the configuration to a JSON file.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
