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

package sessionkv

import "time"

// Engine names accepted by Options.Engine.
const (
	EngineMemory = "memory"
	EnginePebble = "pebble"
	EngineBolt   = "bolt"
)

type Options struct {
	// Engine picks the wrapped storage engine.
	Engine string
	// Dir holds the engine's files. Unused by the memory engine.
	Dir string
	// InMemory keeps pebble's files in memory.
	InMemory bool

	CacheSize    int64
	MemTableSize uint64
	// SessionMax caps open engine sessions (memory engine).
	SessionMax int
	// DetectConflicts makes concurrent batches on the same key fail instead
	// of last-writer-wins (memory engine).
	DetectConflicts bool
	// BoltInitialMmapSize is the bolt engine's initial mapping in bytes.
	// Writes that would outgrow it while a snapshot or iterator is open
	// fail with ErrIO. Zero uses the engine default.
	BoltInitialMmapSize int

	// Sync makes every write durable before it returns.
	Sync bool
	// ColumnFamilies enables named keyspaces besides the default one.
	ColumnFamilies bool
	// MaxIdleContexts bounds the idle operation contexts kept for reuse.
	MaxIdleContexts int
	// StatsInterval is how often counters are logged; zero disables it.
	StatsInterval time.Duration
}

// NewDefaultOptions 返回默认的options
func NewDefaultOptions() *Options {
	opt := &Options{}
	opt.Engine = EngineMemory
	opt.CacheSize = 64 << 20
	opt.MemTableSize = 32 << 20
	opt.MaxIdleContexts = 64
	return opt
}

// ReadOptions configures a read. A nil *ReadOptions reads the latest data.
type ReadOptions struct {
	// Snapshot, when set, reads the view the snapshot pinned.
	Snapshot *Snapshot
}

// WriteOptions configures a write. A nil *WriteOptions uses Options.Sync.
type WriteOptions struct {
	Sync bool
}

func (db *DB) syncWrite(wo *WriteOptions) bool {
	if wo == nil {
		return db.opt.Sync
	}
	return wo.Sync
}

func (ro *ReadOptions) snapshot() *Snapshot {
	if ro == nil {
		return nil
	}
	return ro.Snapshot
}
