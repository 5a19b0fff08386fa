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

package memory

import (
	"sync/atomic"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/utils"
)

type session struct {
	conn    *Conn
	cfg     engine.SessionConfig
	txn     *txn
	cursors map[*cursor]struct{}
	closed  atomic.Bool
}

// txn is an open transaction. Tables it writes are cloned privately, so
// its cursors read their own writes; commit replays the writes on top of
// the latest version.
type txn struct {
	iso          engine.Isolation
	readSeq      uint64
	base         *version
	private      map[string]*table
	writes       []write
	conflictKeys map[uint64]struct{}
	doneRead     bool
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
	if _, err := s.tree(uri); err != nil {
		return nil, err
	}
	c := &cursor{sess: s, uri: uri}
	s.cursors[c] = struct{}{}
	return c, nil
}

// tree returns the table a cursor reads for uri right now.
func (s *session) tree(uri string) (*table, error) {
	if t := s.txn; t != nil {
		if p, ok := t.private[uri]; ok {
			return p, nil
		}
		if t.iso == engine.Snapshot {
			if tt, ok := t.base.tables[uri]; ok {
				return tt, nil
			}
			return nil, engine.Errorf(engine.Invalid, "open_cursor", "no such table %s in snapshot", uri)
		}
	}
	if tt, ok := s.conn.cur.Load().tables[uri]; ok {
		return tt, nil
	}
	return nil, engine.Errorf(engine.Invalid, "open_cursor", "no such table %s", uri)
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

	c := s.conn
	c.mu.Lock()
	base := c.cur.Load()
	c.orc.beginRead(base.seq)
	c.mu.Unlock()

	s.txn = &txn{
		iso:          cfg.Isolation,
		readSeq:      base.seq,
		base:         base,
		private:      make(map[string]*table),
		conflictKeys: make(map[uint64]struct{}),
	}
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

	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.orc.doneRead(t)

	if len(t.writes) == 0 {
		return nil
	}
	if c.orc.hasConflict(t) {
		return engine.Errorf(engine.Rollback, "commit_transaction", "write conflict")
	}
	if err := c.apply(t.writes); err != nil {
		return err
	}
	c.orc.recordCommit(c.cur.Load().seq, t.conflictKeys)
	return nil
}

func (s *session) RollbackTransaction() error {
	t := s.txn
	if t == nil {
		return nil
	}
	s.resetCursors()
	s.txn = nil
	c := s.conn
	c.mu.Lock()
	c.orc.doneRead(t)
	c.mu.Unlock()
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

// Compact has nothing to do: replaced versions are reclaimed by the
// garbage collector once no snapshot pins them.
func (s *session) Compact(uri string, start, end []byte) error {
	if err := s.check("compact"); err != nil {
		return err
	}
	if _, ok := s.conn.cur.Load().tables[uri]; !ok {
		return engine.Errorf(engine.Invalid, "compact", "no such table %s", uri)
	}
	return nil
}

func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for c := range s.cursors {
		c.closeLocked()
	}
	s.cursors = nil
	if t := s.txn; t != nil {
		s.txn = nil
		s.conn.mu.Lock()
		s.conn.orc.doneRead(t)
		s.conn.mu.Unlock()
	}
	s.conn.forget(s)
	return nil
}

// put buffers a write and applies it to the private copy of its table.
func (t *txn) put(c *Conn, w write) error {
	p, ok := t.private[w.uri]
	if !ok {
		src, has := t.base.tables[w.uri]
		if t.iso != engine.Snapshot {
			src, has = c.cur.Load().tables[w.uri]
		}
		if !has {
			return engine.Errorf(engine.Invalid, "insert", "no such table %s", w.uri)
		}
		p = c.clone(src)
		t.private[w.uri] = p
	}
	w.key = utils.Copy(w.key)
	if !w.del {
		w.value = utils.Copy(w.value)
	}
	w.applyTo(p)
	t.writes = append(t.writes, w)
	if c.opt.DetectConflicts {
		t.conflictKeys[w.fingerprint()] = struct{}{}
	}
	return nil
}
