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

// Package bolt runs the engine contract on a bbolt B+tree file. Tables are
// buckets. A snapshot transaction is a bbolt read transaction; its writes
// are buffered and applied in one update at commit.
//
// bbolt cannot remap its file while a read transaction is open, and a
// positioned cursor or a running snapshot holds one. A write that could
// grow the file past the mapping while such a view is open fails with Busy
// instead of waiting, since the view may belong to the writing goroutine.
// InitialMmapSize should cover the expected file size.
package bolt

import (
	"bytes"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	DefaultInitialMmapSize = 256 << 20
	DefaultOpenTimeout     = time.Second

	// remapSlackPages is headroom for the pages a commit rewrites on top
	// of its payload.
	remapSlackPages = 16
	maxMmapStep     = 1 << 30
)

type Options struct {
	// Path is the database file.
	Path string
	// InitialMmapSize is the initial mmap size in bytes.
	InitialMmapSize int
	// NoSync skips fsync on commit.
	NoSync bool
	// Timeout bounds the wait for the file lock.
	Timeout time.Duration
}

func NewDefaultOptions(path string) Options {
	return Options{
		Path:            path,
		InitialMmapSize: DefaultInitialMmapSize,
		Timeout:         DefaultOpenTimeout,
	}
}

// Conn is an open bbolt engine.
type Conn struct {
	db       *bolt.DB
	path     string
	pageSize int64

	// views counts read transactions held past a single call.
	views     atomic.Int64
	// highWater is the data size after the last commit; mapped is a lower
	// bound of bbolt's current mapping.
	highWater atomic.Int64
	mapped    atomic.Int64
	// syncs counts forced fsyncs of NoSync commits.
	syncs     atomic.Int64

	sessMu   sync.Mutex
	sessions map[*session]struct{}
	closed   atomic.Bool
}

var (
	_ engine.Connection = (*Conn)(nil)
	_ engine.Sizer      = (*Conn)(nil)
	_ engine.Flusher    = (*Conn)(nil)
)

// Open opens or creates the bbolt file at opt.Path.
func Open(opt Options) (*Conn, error) {
	if opt.InitialMmapSize <= 0 {
		opt.InitialMmapSize = DefaultInitialMmapSize
	}
	db, err := bolt.Open(opt.Path, 0600, &bolt.Options{
		Timeout:         opt.Timeout,
		InitialMmapSize: opt.InitialMmapSize,
		NoSync:          opt.NoSync,
		FreelistType:    bolt.FreelistMapType,
	})
	if err != nil {
		return nil, engine.Wrap(engine.Generic, "open", errors.Wrapf(err, "opening bolt db %q", opt.Path))
	}
	c := &Conn{
		db:       db,
		path:     opt.Path,
		pageSize: int64(db.Info().PageSize),
		sessions: make(map[*session]struct{}),
	}
	var hw int64
	_ = db.View(func(tx *bolt.Tx) error {
		hw = tx.Size()
		return nil
	})
	c.highWater.Store(hw)
	c.mapped.Store(c.mmapSize(max(c.fileSize(), int64(opt.InitialMmapSize))))
	log.Engine.Debug().
		Str("engine", "bolt").
		Str("path", opt.Path).
		Int64("mapped", c.mapped.Load()).
		Msg("engine opened")
	return c, nil
}

// mmapSize mirrors how bbolt sizes its mapping: powers of two up to 1GB,
// then whole 1GB steps.
func (c *Conn) mmapSize(size int64) int64 {
	for i := uint(15); i <= 30; i++ {
		if size <= 1<<i {
			return 1 << i
		}
	}
	if rem := size % maxMmapStep; rem > 0 {
		size += maxMmapStep - rem
	}
	if rem := size % c.pageSize; rem > 0 {
		size += c.pageSize - rem
	}
	return size
}

func (c *Conn) fileSize() int64 {
	fi, err := os.Stat(c.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// beginRead opens a read transaction that outlives the call. Every one is
// ended with endRead.
func (c *Conn) beginRead(op string) (*bolt.Tx, error) {
	tx, err := c.db.Begin(false)
	if err != nil {
		return nil, engine.Wrap(engine.Generic, op, err)
	}
	c.views.Add(1)
	return tx, nil
}

func (c *Conn) endRead(tx *bolt.Tx) {
	_ = tx.Rollback()
	c.views.Add(-1)
}

// checkRemap refuses a write of about size bytes that could make bbolt
// remap while a read view is open. The remap would wait for that view, and
// if the writer holds it the wait never ends.
func (c *Conn) checkRemap(op string, size int) error {
	n := c.views.Load()
	if n == 0 {
		return nil
	}
	need := c.highWater.Load() + 2*int64(size) + remapSlackPages*c.pageSize
	if need < c.mapped.Load() {
		return nil
	}
	return engine.Errorf(engine.Busy, op,
		"write would remap the file while %d read views are open (mapped %d bytes); raise InitialMmapSize",
		n, c.mapped.Load())
}

// noteCommit records the data size a commit left behind.
func (c *Conn) noteCommit() {
	var size int64
	_ = c.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	c.highWater.Store(size)
	if size >= c.mapped.Load() {
		c.mapped.Store(c.mmapSize(size))
	}
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

// Close closes every open session first; bbolt's Close waits for all read
// transactions to finish.
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
		s.close()
	}
	err := c.db.Close()
	log.Engine.Debug().Str("engine", "bolt").Int("sessions_closed", len(open)).Err(err).Msg("engine closed")
	return engine.Wrap(engine.Generic, "close", err)
}

// update runs fn in a write transaction. size estimates the bytes fn
// writes. With sync set, a NoSync database is fsynced after the commit.
func (c *Conn) update(op string, size int, sync bool, fn func(tx *bolt.Tx) error) error {
	if err := c.checkRemap(op, size); err != nil {
		return err
	}
	err := c.db.Update(fn)
	if err == nil {
		c.noteCommit()
		if sync && c.db.NoSync {
			c.syncs.Add(1)
			err = c.db.Sync()
		}
		return engine.Wrap(engine.Generic, op, err)
	}
	if _, ok := err.(*engine.Error); ok {
		return err
	}
	return engine.Wrap(engine.Generic, op, err)
}

func (c *Conn) createTable(uri string) error {
	return c.update("create", len(uri), false, func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(uri))
		return err
	})
}

func (c *Conn) dropTable(uri string) error {
	return c.update("drop", len(uri), false, func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(uri))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return engine.Errorf(engine.NotFound, "drop", "no such table %s", uri)
		}
		return err
	})
}

// ApproximateSize sums key and value bytes of uri in [start, end).
func (c *Conn) ApproximateSize(uri string, start, end []byte) (uint64, error) {
	var size uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(uri))
		if b == nil {
			return engine.Errorf(engine.Invalid, "approximate_size", "no such table %s", uri)
		}
		bc := b.Cursor()
		k, v := bc.First()
		if start != nil {
			k, v = bc.Seek(start)
		}
		for ; k != nil; k, v = bc.Next() {
			if end != nil && bytes.Compare(k, end) >= 0 {
				break
			}
			size += uint64(len(k) + len(v))
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return 0, err
		}
		return 0, engine.Wrap(engine.Generic, "approximate_size", err)
	}
	return size, nil
}

// Flush fsyncs the file, which matters only with NoSync.
func (c *Conn) Flush() error {
	if c.closed.Load() {
		return engine.Errorf(engine.Closed, "flush", "connection closed")
	}
	return engine.Wrap(engine.Generic, "flush", c.db.Sync())
}

