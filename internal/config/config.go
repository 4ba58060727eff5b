// Package config loads app configuration from TERMDECK_* environment
// variables with home-relative defaults.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	homedir "github.com/mitchellh/go-homedir"
)

type Config struct {
	Port        int    `default:"8700"`
	SocketPath  string `split_words:"true"`
	PIDPath     string `envconfig:"PID_PATH"`
	DBPath      string `envconfig:"DB_PATH"`
	MaxSessions int    `split_words:"true" default:"12"`
	DefaultCols int    `split_words:"true" default:"80"`
	DefaultRows int    `split_words:"true" default:"24"`
	LogLevel    string `split_words:"true" default:"info"`
}

// Load reads the environment and fills path defaults under ~/.termdeck.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("termdeck", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	home, err := homedir.Dir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}
	base := filepath.Join(home, ".termdeck")

	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(base, "daemon.sock")
	}
	if cfg.PIDPath == "" {
		cfg.PIDPath = filepath.Join(base, "daemon.pid")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(base, "termdeck.db")
	}
	return cfg, nil
}
