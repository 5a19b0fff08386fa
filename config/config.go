// Copyright 2021 hardcore-os Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License")
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads sessionkv settings from a TOML file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hardcore-os/sessionkv"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
)

// DefaultPath is tried when Load gets an empty path.
const DefaultPath = "~/.sessionkv/config.toml"

type Config struct {
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
}

type StoreConfig struct {
	Engine          string `toml:"engine"`
	Dir             string `toml:"dir"`
	InMemory        bool   `toml:"in_memory"`
	CacheSize       int64  `toml:"cache_size"`
	MemTableSize    uint64 `toml:"memtable_size"`
	SessionMax      int    `toml:"session_max"`
	DetectConflicts bool   `toml:"detect_conflicts"`
	Sync            bool   `toml:"sync"`
	ColumnFamilies  bool   `toml:"column_families"`
	MaxIdleContexts int    `toml:"max_idle_contexts"`
	// StatsInterval is a Go duration such as "30s". Empty disables it.
	StatsInterval string `toml:"stats_interval"`
	// BoltInitialMmapSize is in bytes. Zero keeps the engine default.
	BoltInitialMmapSize int `toml:"bolt_initial_mmap_size"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// Format is "console" or "json".
	Format string `toml:"format"`
}

// Defaults returns a Config matching sessionkv.NewDefaultOptions.
func Defaults() *Config {
	opt := sessionkv.NewDefaultOptions()
	return &Config{
		Store: StoreConfig{
			Engine:          opt.Engine,
			Dir:             "~/.sessionkv/data",
			CacheSize:       opt.CacheSize,
			MemTableSize:    opt.MemTableSize,
			MaxIdleContexts: opt.MaxIdleContexts,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a TOML config file over the defaults.
// If path is empty, DefaultPath is used when it exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = ExpandHome(DefaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown config keys: %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would only fail later, at open.
func (c *Config) Validate() error {
	switch c.Store.Engine {
	case sessionkv.EngineMemory, sessionkv.EnginePebble, sessionkv.EngineBolt:
	default:
		return errors.Errorf("store.engine: unknown engine %q", c.Store.Engine)
	}
	if c.Store.Engine != sessionkv.EngineMemory && !c.Store.InMemory && c.Store.Dir == "" {
		return errors.Errorf("store.dir: required by the %s engine", c.Store.Engine)
	}
	if c.Store.Engine == sessionkv.EngineBolt && c.Store.InMemory {
		return errors.New("store.in_memory: not available with the bolt engine")
	}
	if c.Store.CacheSize < 0 {
		return errors.Errorf("store.cache_size: %d is negative", c.Store.CacheSize)
	}
	if c.Store.SessionMax < 0 {
		return errors.Errorf("store.session_max: %d is negative", c.Store.SessionMax)
	}
	if c.Store.BoltInitialMmapSize < 0 {
		return errors.Errorf("store.bolt_initial_mmap_size: %d is negative", c.Store.BoltInitialMmapSize)
	}
	if c.Store.MaxIdleContexts < 0 {
		return errors.Errorf("store.max_idle_contexts: %d is negative", c.Store.MaxIdleContexts)
	}
	if _, err := c.statsInterval(); err != nil {
		return err
	}
	if _, err := log.ParseLogLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return errors.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) statsInterval() (time.Duration, error) {
	if c.Store.StatsInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.StatsInterval)
	if err != nil {
		return 0, errors.Wrap(err, "store.stats_interval")
	}
	if d < 0 {
		return 0, errors.Errorf("store.stats_interval: %s is negative", d)
	}
	return d, nil
}

// StoreOptions converts the [store] section. Call Validate first.
func (c *Config) StoreOptions() *sessionkv.Options {
	opt := sessionkv.NewDefaultOptions()
	opt.Engine = c.Store.Engine
	opt.Dir = ExpandHome(c.Store.Dir)
	opt.InMemory = c.Store.InMemory
	if c.Store.CacheSize > 0 {
		opt.CacheSize = c.Store.CacheSize
	}
	if c.Store.MemTableSize > 0 {
		opt.MemTableSize = c.Store.MemTableSize
	}
	opt.SessionMax = c.Store.SessionMax
	opt.DetectConflicts = c.Store.DetectConflicts
	opt.BoltInitialMmapSize = c.Store.BoltInitialMmapSize
	opt.Sync = c.Store.Sync
	opt.ColumnFamilies = c.Store.ColumnFamilies
	opt.MaxIdleContexts = c.Store.MaxIdleContexts
	opt.StatsInterval, _ = c.statsInterval()
	return opt
}

// LogOptions converts the [log] section. Call Validate first.
func (c *Config) LogOptions() log.Options {
	level, _ := log.ParseLogLevel(c.Log.Level)
	return log.Options{
		LogLevel: level,
		Type:     log.ParseLoggerType(c.Log.Format),
	}
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
