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

// Package memory is an in-process engine. Every commit publishes a new
// immutable version whose tables are copy-on-write clones of the previous
// ones, so a snapshot is just a pinned version.
package memory

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
)

const (
	DefaultSessionMax = 8192
	DefaultDegree     = 32
)

type Options struct {
	// SessionMax caps the number of open sessions. Zero means DefaultSessionMax.
	SessionMax int
	// Degree is the btree degree. Zero means DefaultDegree.
	Degree int
	// DetectConflicts makes concurrent transactions writing the same key fail
	// at commit. Off means last writer wins.
	DetectConflicts bool
}

// NewDefaultOptions 返回默认的options
func NewDefaultOptions() Options {
	return Options{
		SessionMax:      DefaultSessionMax,
		Degree:          DefaultDegree,
		DetectConflicts: true,
	}
}

type entry struct {
	key   []byte
	value []byte
}

func lessEntry(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type table = btree.BTreeG[entry]

// version is a committed state. It is never mutated once published.
type version struct {
	seq    uint64
	tables map[string]*table
}

func (v *version) with(uri string, t *table) *version {
	next := &version{seq: v.seq, tables: make(map[string]*table, len(v.tables)+1)}
	for k, tt := range v.tables {
		next.tables[k] = tt
	}
	if t == nil {
		delete(next.tables, uri)
	} else {
		next.tables[uri] = t
	}
	return next
}

// Conn is an open in-memory engine.
type Conn struct {
	opt Options

	// mu serializes commits, DDL and every btree Clone.
	mu  sync.Mutex
	cur atomic.Pointer[version]
	orc *oracle

	sessMu   sync.Mutex
	sessions map[*session]struct{}
	closed   atomic.Bool
}

var (
	_ engine.Connection = (*Conn)(nil)
	_ engine.Sizer      = (*Conn)(nil)
)

// Open creates an empty engine.
func Open(opt Options) *Conn {
	if opt.SessionMax <= 0 {
		opt.SessionMax = DefaultSessionMax
	}
	if opt.Degree <= 0 {
		opt.Degree = DefaultDegree
	}
	c := &Conn{
		opt:      opt,
		orc:      newOracle(opt.DetectConflicts),
		sessions: make(map[*session]struct{}),
	}
	c.cur.Store(&version{tables: make(map[string]*table)})
	log.Engine.Debug().Str("engine", "memory").Int("session_max", opt.SessionMax).Msg("engine opened")
	return c
}

func (c *Conn) OpenSession(cfg engine.SessionConfig) (engine.Session, error) {
	if c.closed.Load() {
		return nil, engine.Errorf(engine.Closed, "open_session", "connection closed")
	}
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if len(c.sessions) >= c.opt.SessionMax {
		return nil, engine.Errorf(engine.Busy, "open_session", "session_max %d reached", c.opt.SessionMax)
	}
	s := &session{conn: c, cfg: cfg, cursors: make(map[*cursor]struct{})}
	c.sessions[s] = struct{}{}
	return s, nil
}

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
		_ = s.Close()
	}
	log.Engine.Debug().Str("engine", "memory").Int("sessions_closed", len(open)).Msg("engine closed")
	return nil
}

func (c *Conn) forget(s *session) {
	c.sessMu.Lock()
	delete(c.sessions, s)
	c.sessMu.Unlock()
}

// ApproximateSize sums key and value bytes of uri in [start, end).
func (c *Conn) ApproximateSize(uri string, start, end []byte) (uint64, error) {
	t, ok := c.cur.Load().tables[uri]
	if !ok {
		return 0, engine.Errorf(engine.Invalid, "approximate_size", "no such table %s", uri)
	}
	var size uint64
	t.AscendGreaterOrEqual(entry{key: start}, func(e entry) bool {
		if end != nil && bytes.Compare(e.key, end) >= 0 {
			return false
		}
		size += uint64(len(e.key) + len(e.value))
		return true
	})
	return size, nil
}

func (c *Conn) createTable(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.cur.Load()
	if _, ok := cur.tables[uri]; ok {
		return nil
	}
	c.cur.Store(cur.with(uri, btree.NewG[entry](c.opt.Degree, lessEntry)))
	return nil
}

func (c *Conn) dropTable(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.cur.Load()
	if _, ok := cur.tables[uri]; !ok {
		return engine.Errorf(engine.NotFound, "drop", "no such table %s", uri)
	}
	c.cur.Store(cur.with(uri, nil))
	return nil
}

// clone copies t under the commit lock; Clone mutates the source tree's
// copy-on-write context.
func (c *Conn) clone(t *table) *table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.Clone()
}

// apply publishes writes as one new version.
func (c *Conn) apply(writes []write) error {
	cur := c.cur.Load()
	next := &version{seq: cur.seq + 1, tables: make(map[string]*table, len(cur.tables))}
	for k, t := range cur.tables {
		next.tables[k] = t
	}
	cloned := make(map[string]bool)
	for _, w := range writes {
		t, ok := next.tables[w.uri]
		if !ok {
			return engine.Errorf(engine.Invalid, "commit", "no such table %s", w.uri)
		}
		if !cloned[w.uri] {
			t = t.Clone()
			next.tables[w.uri] = t
			cloned[w.uri] = true
		}
		w.applyTo(t)
	}
	c.cur.Store(next)
	return nil
}

// autocommit applies a single write outside any transaction.
func (c *Conn) autocommit(w write) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.apply([]write{w}); err != nil {
		return err
	}
	c.orc.recordCommit(c.cur.Load().seq, map[uint64]struct{}{w.fingerprint(): {}})
	return nil
}

type write struct {
	uri   string
	key   []byte
	value []byte
	del   bool
}

func (w write) fingerprint() uint64 {
	return fingerprint(w.uri, w.key)
}

func (w write) applyTo(t *table) {
	if w.del {
		t.Delete(entry{key: w.key})
		return
	}
	t.ReplaceOrInsert(entry{key: w.key, value: w.value})
}
