// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Engine  EngineConfig  `toml:"engine"`
	Session SessionConfig `toml:"session"`
}

// EngineConfig maps decomposition engine settings.
type EngineConfig struct {
	Rscript *string `toml:"rscript"`
	WorkDir *string `toml:"workdir"`
	LibDir  *string `toml:"libdir"`
	Package *string `toml:"package"`
	Repo    *string `toml:"repo"`
	Script  *string `toml:"script"`
}

// SessionConfig maps capture session settings.
type SessionConfig struct {
	DatasetDir *string `toml:"dataset-dir"`
	Keep       *bool   `toml:"keep"`
	History    *bool   `toml:"history"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
