package app

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// duration lets TOML carry values like "90s" or "1h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the engine's own configuration, distinct from pipeline
// definitions. It is read from a TOML file; every field has a working
// default so a config file is optional.
type Config struct {
	// Workspace is the root for per-job working directories.
	Workspace string `toml:"workspace"`
	// Concurrency bounds simultaneously running jobs.
	Concurrency int `toml:"concurrency"`
	// DefaultTimeout applies to jobs that declare none.
	DefaultTimeout duration `toml:"default_timeout"`
	// AcquireWait bounds how long a job waits for a matching executor.
	AcquireWait duration `toml:"acquire_wait"`

	Log       LogConfig        `toml:"log"`
	Server    ServerConfig     `toml:"server"`
	Store     StoreConfig      `toml:"store"`
	History   HistoryConfig    `toml:"history"`
	Executors []ExecutorConfig `toml:"executor"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type StoreConfig struct {
	Path     string `toml:"path"`
	InMemory bool   `toml:"in_memory"`
}

type HistoryConfig struct {
	Path string `toml:"path"`
}

// ExecutorConfig declares one shell executor and its placement tags.
type ExecutorConfig struct {
	Name string   `toml:"name"`
	Tags []string `toml:"tags"`
}

// DefaultConfig returns the configuration used when no file is given: a
// single untagged local shell executor and state under .pipewright/.
func DefaultConfig() *Config {
	return &Config{
		Workspace:      ".pipewright/workspace",
		Concurrency:    4,
		DefaultTimeout: duration{time.Hour},
		AcquireWait:    duration{30 * time.Second},
		Log:            LogConfig{Level: "info", Format: "text"},
		Server:         ServerConfig{Addr: ":8080"},
		Store:          StoreConfig{Path: ".pipewright/blobs"},
		History:        HistoryConfig{Path: ".pipewright/history.db"},
		Executors:      []ExecutorConfig{{Name: "local"}},
	}
}

// LoadConfig reads a TOML config file over the defaults. An empty path
// returns the defaults untouched.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s has unknown keys: %v", path, undecoded)
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("config %s: concurrency must be positive", path)
	}
	if len(cfg.Executors) == 0 {
		return nil, fmt.Errorf("config %s: at least one [[executor]] is required", path)
	}
	return cfg, nil
}
