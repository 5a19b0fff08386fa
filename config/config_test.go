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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hardcore-os/sessionkv"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, sessionkv.EngineMemory, cfg.Store.Engine)
	assert.Equal(t, "info", cfg.Log.Level)

	opt := cfg.StoreOptions()
	def := sessionkv.NewDefaultOptions()
	assert.Equal(t, def.CacheSize, opt.CacheSize)
	assert.Equal(t, def.MaxIdleContexts, opt.MaxIdleContexts)
	assert.Zero(t, opt.StatsInterval)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
[store]
engine = "pebble"
dir = "/tmp/sessionkv-test"
cache_size = 1048576
sync = true
column_families = true
max_idle_contexts = 4
stats_interval = "15s"
bolt_initial_mmap_size = 1073741824

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	opt := cfg.StoreOptions()
	assert.Equal(t, sessionkv.EnginePebble, opt.Engine)
	assert.Equal(t, "/tmp/sessionkv-test", opt.Dir)
	assert.Equal(t, int64(1<<20), opt.CacheSize)
	assert.Equal(t, sessionkv.NewDefaultOptions().MemTableSize, opt.MemTableSize)
	assert.True(t, opt.Sync)
	assert.True(t, opt.ColumnFamilies)
	assert.Equal(t, 4, opt.MaxIdleContexts)
	assert.Equal(t, 15*time.Second, opt.StatsInterval)
	assert.Equal(t, 1<<30, opt.BoltInitialMmapSize)

	lo := cfg.LogOptions()
	assert.Equal(t, zerolog.DebugLevel, lo.LogLevel)
	assert.Equal(t, log.JSONLogger, lo.Type)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"syntax", `[store`},
		{"unknown key", "[store]\ncolour = \"blue\"\n"},
		{"unknown engine", "[store]\nengine = \"rocks\"\n"},
		{"bolt in memory", "[store]\nengine = \"bolt\"\nin_memory = true\n"},
		{"pebble without dir", "[store]\nengine = \"pebble\"\ndir = \"\"\n"},
		{"negative cache", "[store]\ncache_size = -1\n"},
		{"negative mmap", "[store]\nbolt_initial_mmap_size = -1\n"},
		{"bad interval", "[store]\nstats_interval = \"soon\"\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad format", "[log]\nformat = \"xml\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), ExpandHome("~/data"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}
