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

// Package pebble runs the engine contract on a single pebble LSM. Tables
// are key prefixes, transactions are a pebble snapshot for reads plus a
// batch for writes. Reads inside a transaction do not see its pending
// writes.
package pebble

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var errKeyOutsideTable = errors.New("pebble: iterator left its table bounds")

type Options struct {
	// Dir holds the pebble files. Ignored when InMemory is set.
	Dir string
	// InMemory keeps every file in an in-memory filesystem.
	InMemory bool
	// CacheSize is the block cache size in bytes.
	CacheSize int64
	// MemTableSize is the size of one memtable in bytes.
	MemTableSize uint64
}

func NewDefaultOptions(dir string) Options {
	return Options{
		Dir:          dir,
		CacheSize:    64 << 20,
		MemTableSize: 32 << 20,
	}
}

// Conn is an open pebble engine.
type Conn struct {
	db *pebble.DB

	tableMu sync.RWMutex
	tables  map[string][]byte // uri -> data prefix

	sessMu   sync.Mutex
	sessions map[*session]struct{}
	closed   atomic.Bool
}

var (
	_ engine.Connection = (*Conn)(nil)
	_ engine.Sizer      = (*Conn)(nil)
	_ engine.Flusher    = (*Conn)(nil)
)

// Open opens or creates the pebble database described by opt.
func Open(opt Options) (*Conn, error) {
	cache := pebble.NewCache(opt.CacheSize)
	defer cache.Unref()

	po := &pebble.Options{
		Cache:        cache,
		MemTableSize: opt.MemTableSize,
		Logger:       logger{l: log.Engine.With().Str("engine", "pebble").Logger()},
	}
	dir := opt.Dir
	if opt.InMemory {
		po.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, engine.Wrap(engine.Generic, "open", errors.Wrapf(err, "open pebble at %q", dir))
	}
	c := &Conn{
		db:       db,
		tables:   make(map[string][]byte),
		sessions: make(map[*session]struct{}),
	}
	if err := c.loadTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Engine.Debug().Str("engine", "pebble").Str("dir", dir).Int("tables", len(c.tables)).Msg("engine opened")
	return c, nil
}

func (c *Conn) loadTables() error {
	lo, hi := metaBounds()
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return engine.Wrap(engine.Generic, "open", err)
	}
	for it.First(); it.Valid(); it.Next() {
		uri := string(it.Key()[1:])
		c.tables[uri] = tablePrefix(uri)
	}
	if err := it.Error(); err != nil {
		_ = it.Close()
		return engine.Wrap(engine.Generic, "open", err)
	}
	return engine.Wrap(engine.Generic, "open", it.Close())
}

func (c *Conn) prefix(uri string) ([]byte, bool) {
	c.tableMu.RLock()
	defer c.tableMu.RUnlock()
	p, ok := c.tables[uri]
	return p, ok
}

func (c *Conn) OpenSession(cfg engine.SessionConfig) (engine.Session, error) {
	if c.closed.Load() {
		return nil, engine.Errorf(engine.Closed, "open_session", "connection closed")
	}
	s := &session{conn: c, cfg: cfg, cursors: make(map[*cursor]struct{})}
	c.sessMu.Lock()
	c.sessions[s] = struct{}{}
	c.sessMu.Unlock()
	return s, nil
}

func (c *Conn) forget(s *session) {
	c.sessMu.Lock()
	delete(c.sessions, s)
	c.sessMu.Unlock()
}

// Close closes every open session, so no iterator or snapshot leaks into
// pebble's own Close.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sessMu.Lock()
	open := make([]*session, 0, len(c.sessions))
	for s := range c.sessions {
		open = append(open, s)
	}
	c.sessMu.Unlock()
	for _, s := range open {
		_ = s.close()
	}
	err := c.db.Close()
	log.Engine.Debug().Str("engine", "pebble").Int("sessions_closed", len(open)).Err(err).Msg("engine closed")
	return engine.Wrap(engine.Generic, "close", err)
}

func (c *Conn) createTable(uri string) error {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()
	if _, ok := c.tables[uri]; ok {
		return nil
	}
	if err := c.db.Set(metaKey(uri), nil, pebble.Sync); err != nil {
		return engine.Wrap(engine.Generic, "create", err)
	}
	c.tables[uri] = tablePrefix(uri)
	return nil
}

func (c *Conn) dropTable(uri string) error {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()
	p, ok := c.tables[uri]
	if !ok {
		return engine.Errorf(engine.NotFound, "drop", "no such table %s", uri)
	}
	b := c.db.NewBatch()
	defer b.Close()
	lo, hi := tableBounds(p, nil, nil)
	if err := b.DeleteRange(lo, hi, nil); err != nil {
		return engine.Wrap(engine.Generic, "drop", err)
	}
	if err := b.Delete(metaKey(uri), nil); err != nil {
		return engine.Wrap(engine.Generic, "drop", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return engine.Wrap(engine.Generic, "drop", err)
	}
	delete(c.tables, uri)
	return nil
}

func (c *Conn) ApproximateSize(uri string, start, end []byte) (uint64, error) {
	p, ok := c.prefix(uri)
	if !ok {
		return 0, engine.Errorf(engine.Invalid, "approximate_size", "no such table %s", uri)
	}
	lo, hi := tableBounds(p, start, end)
	size, err := c.db.EstimateDiskUsage(lo, hi)
	return size, engine.Wrap(engine.Generic, "approximate_size", err)
}

// Flush forces the memtable to an sstable.
func (c *Conn) Flush() error {
	if c.closed.Load() {
		return engine.Errorf(engine.Closed, "flush", "connection closed")
	}
	return engine.Wrap(engine.Generic, "flush", c.db.Flush())
}

// logger routes pebble's own messages into zerolog.
type logger struct {
	l zerolog.Logger
}

func (p logger) Infof(format string, args ...interface{}) {
	p.l.Info().Msgf(format, args...)
}

func (p logger) Errorf(format string, args ...interface{}) {
	p.l.Error().Msgf(format, args...)
}

func (p logger) Fatalf(format string, args ...interface{}) {
	p.l.Fatal().Msgf(format, args...)
}
