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

// Package sessionkv is an ordered key-value store with a LevelDB-style API
// (Put, Delete, Write, Get, iterators, snapshots) running on a
// session/cursor/transaction engine.
package sessionkv

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/engine/bolt"
	"github.com/hardcore-os/sessionkv/engine/memory"
	"github.com/hardcore-os/sessionkv/engine/pebble"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/hardcore-os/sessionkv/utils"
	"github.com/pkg/errors"
)

type (
	// Store is the public surface of DB.
	Store interface {
		Put(key, value []byte, wo *WriteOptions) error
		Delete(key []byte, wo *WriteOptions) error
		Write(batch *WriteBatch, wo *WriteOptions) error
		Get(key []byte, ro *ReadOptions) ([]byte, error)
		NewIterator(ro *ReadOptions) (*Iterator, error)
		GetSnapshot() *Snapshot
		ReleaseSnapshot(s *Snapshot) error
		CompactRange(begin, end []byte) error
		SuspendCompactions()
		ResumeCompactions() error
		Close() error
	}

	// DB routes every call to an operation context: the snapshot's own
	// context for snapshot reads, a pooled one otherwise.
	DB struct {
		opt  *Options
		conn engine.Connection
		pool *ContextPool

		stats     *Stats
		snapshots *utils.CoreMap[*Snapshot, struct{}]

		compactMu      sync.Mutex
		compactSuspend int
		pendingCompact []keyRange

		cfMu      sync.RWMutex
		cfs       map[string]*ColumnFamilyHandle
		nextCFID  uint32
		defaultCF *ColumnFamilyHandle

		closed atomic.Bool
	}

	// Range is a key range [Start, Limit). Nil bounds are open.
	Range struct {
		Start []byte
		Limit []byte
	}

	keyRange struct {
		begin, end []byte
	}
)

var _ Store = (*DB)(nil)

// OpenConnection opens the engine opt names.
func OpenConnection(opt *Options) (engine.Connection, error) {
	switch opt.Engine {
	case EngineMemory, "":
		return memory.Open(memory.Options{
			SessionMax:      opt.SessionMax,
			DetectConflicts: opt.DetectConflicts,
		}), nil
	case EnginePebble:
		if !opt.InMemory {
			if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
				return nil, errors.Wrapf(ErrIO, "create %s: %v", opt.Dir, err)
			}
		}
		po := pebble.NewDefaultOptions(opt.Dir)
		po.InMemory = opt.InMemory
		if opt.CacheSize > 0 {
			po.CacheSize = opt.CacheSize
		}
		if opt.MemTableSize > 0 {
			po.MemTableSize = opt.MemTableSize
		}
		conn, err := pebble.Open(po)
		if err != nil {
			return nil, engine.Translate(err)
		}
		return conn, nil
	case EngineBolt:
		if opt.InMemory {
			return nil, errors.WithMessage(ErrNotSupported, "bolt has no in-memory mode")
		}
		if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
			return nil, errors.Wrapf(ErrIO, "create %s: %v", opt.Dir, err)
		}
		bo := bolt.NewDefaultOptions(filepath.Join(opt.Dir, "sessionkv.db"))
		bo.NoSync = !opt.Sync
		if opt.BoltInitialMmapSize > 0 {
			bo.InitialMmapSize = opt.BoltInitialMmapSize
		}
		conn, err := bolt.Open(bo)
		if err != nil {
			return nil, engine.Translate(err)
		}
		return conn, nil
	default:
		return nil, errors.WithMessagef(ErrNotSupported, "unknown engine %q", opt.Engine)
	}
}

// Open opens the engine and prepares the store on it.
func Open(opt *Options) (*DB, error) {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	conn, err := OpenConnection(opt)
	if err != nil {
		return nil, err
	}
	db, err := openWith(opt, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// openWith builds a DB over an already open connection, which it then owns.
func openWith(opt *Options, conn engine.Connection) (*DB, error) {
	db := &DB{
		opt:       opt,
		conn:      conn,
		stats:     newStats(opt),
		snapshots: utils.NewMap[*Snapshot, struct{}](),
		cfs:       make(map[string]*ColumnFamilyHandle),
		nextCFID:  1,
		defaultCF: newDefaultColumnFamily(),
	}
	if err := db.bootstrap(); err != nil {
		return nil, err
	}
	db.pool = NewContextPool(conn, opt.MaxIdleContexts, func() { db.stats.ContextsCreated.Add(1) })
	if opt.StatsInterval > 0 {
		db.stats.closer.Add(1)
		go db.stats.StartStats()
	}
	log.DB.Info().
		Str("engine", opt.Engine).
		Str("dir", opt.Dir).
		Bool("column_families", opt.ColumnFamilies).
		Msg("db opened")
	return db, nil
}

// bootstrap creates the primary table, and the catalog when column
// families are on, on a session of its own.
func (db *DB) bootstrap() error {
	s, err := db.conn.OpenSession(engine.SessionConfig{Isolation: engine.Snapshot})
	if err != nil {
		return errors.Wrap(engine.Translate(err), "bootstrap session")
	}
	defer s.Close()
	if err := s.CreateTable(engine.PrimaryURI); err != nil {
		return errors.Wrap(engine.Translate(err), "create primary table")
	}
	if !db.opt.ColumnFamilies {
		return nil
	}
	ctx, err := newOperationContext(db.conn)
	if err != nil {
		return err
	}
	defer ctx.Close()
	return db.loadColumnFamilies(ctx)
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	return nil
}

// Close releases leftover snapshots, closes every context and then the
// connection. Later calls return nil.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	leaked := 0
	db.snapshots.Range(func(s *Snapshot, _ struct{}) bool {
		leaked++
		_ = db.releaseSnapshot(s)
		return true
	})
	if leaked > 0 {
		log.DB.Warn().Int("snapshots", leaked).Msg("releasing snapshots left open at close")
	}
	var first error
	if err := db.pool.Close(); err != nil {
		first = err
	}
	if err := db.conn.Close(); err != nil && first == nil {
		first = engine.Translate(err)
	}
	if err := db.stats.close(); err != nil && first == nil {
		first = err
	}
	log.DB.Info().Err(first).Msg("db closed")
	return first
}

// Info returns the store's counters.
func (db *DB) Info() *Stats {
	return db.stats
}

func (db *DB) Put(key, value []byte, wo *WriteOptions) error {
	return db.put(nil, key, value, false, wo)
}

func (db *DB) Delete(key []byte, wo *WriteOptions) error {
	return db.put(nil, key, nil, true, wo)
}

// put writes through a pooled context. A synced write runs in its own
// transaction so the commit can be forced to disk.
func (db *DB) put(h *ColumnFamilyHandle, key, value []byte, del bool, wo *WriteOptions) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if err := db.checkOpen(); err != nil {
		return err
	}
	cf, err := db.resolveColumnFamily(h)
	if err != nil {
		return err
	}
	ctx, err := db.pool.Get()
	if err != nil {
		return err
	}
	defer db.pool.Put(ctx)

	c, err := ctx.CursorFor(cf.id, cf.uri)
	if err != nil {
		return err
	}
	write := func() error {
		if del {
			db.stats.Deletes.Add(1)
			return c.Remove(key)
		}
		db.stats.Puts.Add(1)
		return c.Insert(key, value)
	}
	if !db.syncWrite(wo) {
		return engine.Translate(write())
	}
	return db.inTxn(ctx, true, write)
}

// inTxn runs fn inside an engine transaction on ctx, committing on success
// and rolling back otherwise.
func (db *DB) inTxn(ctx *OperationContext, sync bool, fn func() error) error {
	s := ctx.Session()
	if err := s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}); err != nil {
		return engine.Translate(err)
	}
	if err := fn(); err != nil {
		_ = s.RollbackTransaction()
		return engine.Translate(err)
	}
	return engine.Translate(s.CommitTransaction(engine.CommitConfig{Sync: sync}))
}

// Write applies batch atomically: readers see all of it or none.
func (db *DB) Write(batch *WriteBatch, wo *WriteOptions) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if batch == nil || batch.Count() == 0 {
		return nil
	}
	type step struct {
		cf *ColumnFamilyHandle
		op batchOp
	}
	steps := make([]step, 0, batch.Count())
	for _, op := range batch.ops {
		if len(op.key) == 0 {
			return ErrEmptyKey
		}
		cf, err := db.resolveColumnFamily(op.cf)
		if err != nil {
			return err
		}
		steps = append(steps, step{cf: cf, op: op})
	}

	ctx, err := db.pool.Get()
	if err != nil {
		return err
	}
	defer db.pool.Put(ctx)

	db.stats.Writes.Add(1)
	return db.inTxn(ctx, db.syncWrite(wo), func() error {
		for _, st := range steps {
			c, err := ctx.CursorFor(st.cf.id, st.cf.uri)
			if err != nil {
				return err
			}
			if st.op.del {
				err = c.Remove(st.op.key)
			} else {
				err = c.Insert(st.op.key, st.op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// readContext resolves the context a read runs on. The returned func hands
// it back.
func (db *DB) readContext(ro *ReadOptions) (*OperationContext, func(), error) {
	if s := ro.snapshot(); s != nil {
		ctx, err := s.enter()
		if err != nil {
			return nil, nil, err
		}
		return ctx, s.exit, nil
	}
	ctx, err := db.pool.Get()
	if err != nil {
		return nil, nil, err
	}
	return ctx, func() { db.pool.Put(ctx) }, nil
}

// Get returns the value of key, or ErrNotFound.
func (db *DB) Get(key []byte, ro *ReadOptions) ([]byte, error) {
	return db.get(nil, key, ro)
}

func (db *DB) get(h *ColumnFamilyHandle, key []byte, ro *ReadOptions) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	cf, err := db.resolveColumnFamily(h)
	if err != nil {
		return nil, err
	}
	ctx, done, err := db.readContext(ro)
	if err != nil {
		return nil, err
	}
	defer done()
	db.stats.Gets.Add(1)
	return lookup(ctx, cf, key)
}

func lookup(ctx *OperationContext, cf *ColumnFamilyHandle, key []byte) ([]byte, error) {
	c, err := ctx.CursorFor(cf.id, cf.uri)
	if err != nil {
		return nil, err
	}
	defer c.Reset()
	if err := c.Search(key); err != nil {
		return nil, engine.Translate(err)
	}
	v, err := c.Value()
	return v, engine.Translate(err)
}

// MultiGet looks up several keys on one context. errs[i] is ErrNotFound for
// a missing key.
func (db *DB) MultiGet(keys [][]byte, ro *ReadOptions) (values [][]byte, errs []error) {
	return db.MultiGetCF(nil, keys, ro)
}

// MultiGetCF is MultiGet with a column family per key. hs[i] applies to
// keys[i]; a nil or short hs means the default family.
func (db *DB) MultiGetCF(hs []*ColumnFamilyHandle, keys [][]byte, ro *ReadOptions) (values [][]byte, errs []error) {
	values = make([][]byte, len(keys))
	errs = make([]error, len(keys))
	fail := func(err error) ([][]byte, []error) {
		for i := range errs {
			errs[i] = err
		}
		return values, errs
	}
	if err := db.checkOpen(); err != nil {
		return fail(err)
	}
	ctx, done, err := db.readContext(ro)
	if err != nil {
		return fail(err)
	}
	defer done()
	for i, key := range keys {
		if len(key) == 0 {
			errs[i] = ErrEmptyKey
			continue
		}
		var h *ColumnFamilyHandle
		if i < len(hs) {
			h = hs[i]
		}
		cf, err := db.resolveColumnFamily(h)
		if err != nil {
			errs[i] = err
			continue
		}
		db.stats.Gets.Add(1)
		values[i], errs[i] = lookup(ctx, cf, key)
	}
	return values, errs
}

// NewIterator returns an iterator over the default family. Without a
// snapshot it holds a pooled context and pins the data present right now
// until Close.
func (db *DB) NewIterator(ro *ReadOptions) (*Iterator, error) {
	return db.newIterator(nil, ro)
}

func (db *DB) newIterator(h *ColumnFamilyHandle, ro *ReadOptions) (*Iterator, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	cf, err := db.resolveColumnFamily(h)
	if err != nil {
		return nil, err
	}
	db.stats.Iterators.Add(1)

	if s := ro.snapshot(); s != nil {
		ctx, err := s.enter()
		if err != nil {
			return nil, err
		}
		defer s.exit()
		c, err := ctx.Session().OpenCursor(cf.uri)
		if err != nil {
			return nil, engine.Translate(err)
		}
		it := newIterator(c, true)
		it.snap = s
		return it, nil
	}

	ctx, err := db.pool.Get()
	if err != nil {
		return nil, err
	}
	c, err := ctx.CursorFor(cf.id, cf.uri)
	if err == nil {
		err = engine.Translate(ctx.Session().BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	}
	if err != nil {
		db.pool.Put(ctx)
		return nil, err
	}
	it := newIterator(c, false)
	it.done = func() { db.pool.Put(ctx) }
	return it, nil
}

// GetSnapshot pins the current state. Check Err on the result; a failed
// snapshot rejects every read.
func (db *DB) GetSnapshot() *Snapshot {
	if err := db.checkOpen(); err != nil {
		return &Snapshot{db: db, err: err}
	}
	s := newSnapshot(db)
	if s.err != nil {
		log.DB.Warn().Err(s.err).Msg("snapshot setup failed")
		return s
	}
	db.snapshots.Set(s, struct{}{})
	db.stats.Snapshots.Add(1)
	return s
}

// ReleaseSnapshot ends s. Releasing twice is a no-op.
func (db *DB) ReleaseSnapshot(s *Snapshot) error {
	if s == nil {
		return nil
	}
	return db.releaseSnapshot(s)
}

func (db *DB) releaseSnapshot(s *Snapshot) error {
	db.snapshots.Del(s)
	return s.release()
}

// CompactRange compacts [begin, end) of the default family; nil bounds are
// open. While compactions are suspended the request is queued.
func (db *DB) CompactRange(begin, end []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	var r keyRange
	if begin != nil {
		r.begin = utils.Copy(begin)
	}
	if end != nil {
		r.end = utils.Copy(end)
	}
	db.compactMu.Lock()
	if db.compactSuspend > 0 {
		db.pendingCompact = append(db.pendingCompact, r)
		db.compactMu.Unlock()
		log.DB.Debug().Int("queued", len(db.pendingCompact)).Msg("compaction queued while suspended")
		return nil
	}
	db.compactMu.Unlock()
	return db.compact(r)
}

func (db *DB) compact(r keyRange) error {
	ctx, err := db.pool.Get()
	if err != nil {
		return err
	}
	defer db.pool.Put(ctx)
	db.stats.Compactions.Add(1)
	err = engine.Translate(ctx.Session().Compact(engine.PrimaryURI, r.begin, r.end))
	if errors.Is(err, ErrNotSupported) {
		log.DB.Info().Msg("engine does not support compaction")
	}
	return err
}

// SuspendCompactions holds compaction requests until a matching
// ResumeCompactions. Calls nest.
func (db *DB) SuspendCompactions() {
	db.compactMu.Lock()
	db.compactSuspend++
	db.compactMu.Unlock()
}

// ResumeCompactions undoes one SuspendCompactions. The last one runs the
// queued requests and returns the first failure.
func (db *DB) ResumeCompactions() error {
	db.compactMu.Lock()
	if db.compactSuspend > 0 {
		db.compactSuspend--
	}
	if db.compactSuspend > 0 {
		db.compactMu.Unlock()
		return nil
	}
	pending := db.pendingCompact
	db.pendingCompact = nil
	db.compactMu.Unlock()

	if err := db.checkOpen(); err != nil {
		return err
	}
	var first error
	for _, r := range pending {
		if err := db.compact(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GetApproximateSizes estimates the bytes stored in each range of the
// default family. Engines without estimates report zero.
func (db *DB) GetApproximateSizes(ranges []Range) ([]uint64, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	sizes := make([]uint64, len(ranges))
	sizer, ok := db.conn.(engine.Sizer)
	if !ok {
		return sizes, nil
	}
	for i, r := range ranges {
		n, err := sizer.ApproximateSize(engine.PrimaryURI, r.Start, r.Limit)
		if err != nil {
			return nil, engine.Translate(err)
		}
		sizes[i] = n
	}
	return sizes, nil
}

// Flush pushes buffered engine writes to stable storage, if the engine
// buffers any.
func (db *DB) Flush() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if f, ok := db.conn.(engine.Flusher); ok {
		return engine.Translate(f.Flush())
	}
	return nil
}

// ReplayIterator would walk changes since a timestamp. No engine here keeps
// a change log, so none is ever returned.
type ReplayIterator struct{}

// Merge is not supported: no engine here has merge operators.
func (db *DB) Merge(key, value []byte, wo *WriteOptions) error {
	return errors.WithMessage(ErrNotSupported, "merge")
}

// LiveBackup is not supported.
func (db *DB) LiveBackup(name string) error {
	return errors.WithMessage(ErrNotSupported, "live backup")
}

// GetReplayIterator is not supported.
func (db *DB) GetReplayIterator(timestamp string) (*ReplayIterator, error) {
	return nil, errors.WithMessage(ErrNotSupported, "replay iterator")
}

// ReleaseReplayIterator accepts only nil.
func (db *DB) ReleaseReplayIterator(it *ReplayIterator) {}
