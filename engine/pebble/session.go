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

package pebble

import (
	"bytes"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/hardcore-os/sessionkv/engine"
)

type session struct {
	conn    *Conn
	cfg     engine.SessionConfig
	txn     *txn
	cursors map[*cursor]struct{}
	closed  atomic.Bool
}

// txn reads through snap (nil under read-committed) and buffers writes in batch.
// The batch is not indexed: an indexed batch reads through the live DB, not
// the snapshot, so it cannot give snapshot reads plus pending writes.
type txn struct {
	snap  *pebble.Snapshot
	batch *pebble.Batch
}

func (t *txn) release() {
	if t.snap != nil {
		_ = t.snap.Close()
	}
	_ = t.batch.Close()
}

var _ engine.Session = (*session)(nil)

func (s *session) check(op string) error {
	if s.closed.Load() || s.conn.closed.Load() {
		return engine.Errorf(engine.Closed, op, "session closed")
	}
	return nil
}

func (s *session) OpenCursor(uri string) (engine.Cursor, error) {
	if err := s.check("open_cursor"); err != nil {
		return nil, err
	}
	p, ok := s.conn.prefix(uri)
	if !ok {
		return nil, engine.Errorf(engine.Invalid, "open_cursor", "no such table %s", uri)
	}
	c := &cursor{sess: s, uri: uri, prefix: p}
	s.cursors[c] = struct{}{}
	return c, nil
}

// newIter opens an iterator over one table in the session's current view.
func (s *session) newIter(prefix []byte) (*pebble.Iterator, error) {
	lo, hi := tableBounds(prefix, nil, nil)
	o := &pebble.IterOptions{LowerBound: lo, UpperBound: hi}
	if s.txn != nil && s.txn.snap != nil {
		return s.txn.snap.NewIter(o)
	}
	return s.conn.db.NewIter(o)
}

func (s *session) resetCursors() {
	for c := range s.cursors {
		_ = c.Reset()
	}
}

func (s *session) BeginTransaction(cfg engine.TxnConfig) error {
	if err := s.check("begin_transaction"); err != nil {
		return err
	}
	if s.txn != nil {
		return engine.Errorf(engine.Invalid, "begin_transaction", "transaction already running")
	}
	s.resetCursors()
	t := &txn{batch: s.conn.db.NewBatch()}
	if cfg.Isolation == engine.Snapshot {
		t.snap = s.conn.db.NewSnapshot()
	}
	s.txn = t
	return nil
}

func (s *session) CommitTransaction(cfg engine.CommitConfig) error {
	if err := s.check("commit_transaction"); err != nil {
		return err
	}
	t := s.txn
	if t == nil {
		return engine.Errorf(engine.Invalid, "commit_transaction", "no transaction running")
	}
	s.resetCursors()
	s.txn = nil
	defer t.release()

	if t.batch.Empty() {
		return nil
	}
	wo := pebble.NoSync
	if cfg.Sync {
		wo = pebble.Sync
	}
	return engine.Wrap(engine.Generic, "commit_transaction", t.batch.Commit(wo))
}

func (s *session) RollbackTransaction() error {
	t := s.txn
	if t == nil {
		return nil
	}
	s.resetCursors()
	s.txn = nil
	t.release()
	return nil
}

func (s *session) InTransaction() bool {
	return s.txn != nil
}

func (s *session) CreateTable(uri string) error {
	if err := s.check("create"); err != nil {
		return err
	}
	return s.conn.createTable(uri)
}

func (s *session) DropTable(uri string) error {
	if err := s.check("drop"); err != nil {
		return err
	}
	return s.conn.dropTable(uri)
}

func (s *session) Compact(uri string, start, end []byte) error {
	if err := s.check("compact"); err != nil {
		return err
	}
	p, ok := s.conn.prefix(uri)
	if !ok {
		return engine.Errorf(engine.Invalid, "compact", "no such table %s", uri)
	}
	lo, hi := tableBounds(p, start, end)
	if bytes.Compare(lo, hi) >= 0 {
		return nil
	}
	return engine.Wrap(engine.Generic, "compact", s.conn.db.Compact(lo, hi, true))
}

func (s *session) Close() error {
	err := s.close()
	s.conn.forget(s)
	return err
}

func (s *session) close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for c := range s.cursors {
		c.closeIter()
		c.closed = true
	}
	s.cursors = nil
	if t := s.txn; t != nil {
		s.txn = nil
		t.release()
	}
	return nil
}
