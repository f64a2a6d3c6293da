package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"mover/internal/common/fsutil"
)

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "~/.config/mover/config.yaml"

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Build layers the defaults, a config file and the environment. An empty
// path falls back to MOVER_CONFIG, then to DefaultPath when it exists.
func Build(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = envStr(EnvPrefix+"CONFIG", "")
	}
	if path == "" {
		if p, err := fsutil.ExpandHome(DefaultPath); err == nil && fsutil.IsFile(p) {
			path = p
		}
	}
	if path != "" {
		file, err := Load(path)
		if err != nil {
			return cfg, err
		}
		cfg.Merge(file)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
