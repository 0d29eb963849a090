package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration files over DefaultConfig, in order:
// later files take precedence. Settings keys present in a file override
// earlier values; tasks merge by id, new ids append in file order.
// Missing files are not errors; malformed JSON returns an error.
func Load(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := mergeConfigFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths followed by the
// pipeline file, which must exist.
// Global: ~/.jobpipe/config.json
// Project: .jobpipe/config.json (relative to cwd)
func LoadDefault(pipelinePath string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	if pipelinePath != "" {
		if _, err := os.Stat(pipelinePath); err != nil {
			return nil, fmt.Errorf("pipeline file: %w", err)
		}
	}

	globalPath := filepath.Join(homeDir, ".jobpipe", "config.json")
	projectPath := filepath.Join(".jobpipe", "config.json")

	return Load(globalPath, projectPath, pipelinePath)
}

// fileConfig keeps settings raw so that decoding into the base config only
// touches the keys the file sets.
type fileConfig struct {
	Settings json.RawMessage `json:"settings"`
	Tasks    []TaskConfig    `json:"tasks"`
}

// mergeConfigFile reads a JSON config file and merges it into base.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded fileConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if len(loaded.Settings) > 0 {
		if err := json.Unmarshal(loaded.Settings, &base.Settings); err != nil {
			return fmt.Errorf("parsing %s settings: %w", path, err)
		}
	}

	for _, task := range loaded.Tasks {
		replaced := false
		for i := range base.Tasks {
			if base.Tasks[i].ID == task.ID {
				base.Tasks[i] = task
				replaced = true
				break
			}
		}
		if !replaced {
			base.Tasks = append(base.Tasks, task)
		}
	}

	return nil
}
