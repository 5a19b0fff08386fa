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

package bolt

import (
	"sync/atomic"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/utils"
	bolt "go.etcd.io/bbolt"
)

type session struct {
	conn    *Conn
	cfg     engine.SessionConfig
	txn     *txn
	cursors map[*cursor]struct{}
	closed  atomic.Bool
}

// txn pins a read transaction under snapshot isolation; writes wait in
// writes until commit.
type txn struct {
	rtx    *bolt.Tx
	writes []write
}

type write struct {
	uri   string
	key   []byte
	value []byte
	del   bool
}

func (t *txn) release(c *Conn) {
	if t.rtx != nil {
		c.endRead(t.rtx)
		t.rtx = nil
	}
}

func (t *txn) size() int {
	n := 0
	for _, w := range t.writes {
		n += w.size()
	}
	return n
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
	var exists bool
	if t := s.txn; t != nil && t.rtx != nil {
		exists = t.rtx.Bucket([]byte(uri)) != nil
	} else {
		err := s.conn.db.View(func(tx *bolt.Tx) error {
			exists = tx.Bucket([]byte(uri)) != nil
			return nil
		})
		if err != nil {
			return nil, engine.Wrap(engine.Generic, "open_cursor", err)
		}
	}
	if !exists {
		return nil, engine.Errorf(engine.Invalid, "open_cursor", "no such table %s", uri)
	}
	c := &cursor{sess: s, uri: uri}
	s.cursors[c] = struct{}{}
	return c, nil
}

// view returns the read transaction a positioning call uses. owned is true
// when the caller must roll it back.
func (s *session) view() (tx *bolt.Tx, owned bool, err error) {
	if t := s.txn; t != nil && t.rtx != nil {
		return t.rtx, false, nil
	}
	tx, err = s.conn.beginRead("begin_read")
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
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
	t := &txn{}
	if cfg.Isolation == engine.Snapshot {
		rtx, err := s.conn.beginRead("begin_transaction")
		if err != nil {
			return err
		}
		t.rtx = rtx
	}
	s.txn = t
	return nil
}

// CommitTransaction drops the read view before writing so the update never
// waits on this session's own read transaction. With cfg.Sync the commit is
// on disk when it returns, even on a NoSync database.
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
	t.release(s.conn)
	if len(t.writes) == 0 {
		return nil
	}
	return s.conn.update("commit_transaction", t.size(), cfg.Sync, func(tx *bolt.Tx) error {
		for _, w := range t.writes {
			if err := w.applyTo(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) RollbackTransaction() error {
	t := s.txn
	if t == nil {
		return nil
	}
	s.resetCursors()
	s.txn = nil
	t.release(s.conn)
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

// Compact is not available: bbolt only compacts by copying the whole file
// offline.
func (s *session) Compact(uri string, start, end []byte) error {
	if err := s.check("compact"); err != nil {
		return err
	}
	return engine.Errorf(engine.NotSupported, "compact", "bolt compacts offline only")
}

func (s *session) Close() error {
	s.close()
	s.conn.forget(s)
	return nil
}

func (s *session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for c := range s.cursors {
		c.release()
		c.closed = true
	}
	s.cursors = nil
	if t := s.txn; t != nil {
		s.txn = nil
		t.release(s.conn)
	}
}

// write applies one buffered or autocommitted change.
func (s *session) write(w write) error {
	w.key = utils.Copy(w.key)
	if !w.del {
		w.value = utils.Copy(w.value)
	}
	if t := s.txn; t != nil {
		t.writes = append(t.writes, w)
		return nil
	}
	op := "insert"
	if w.del {
		op = "remove"
	}
	return s.conn.update(op, w.size(), false, w.applyTo)
}

func (w write) size() int {
	return len(w.key) + len(w.value)
}

func (w write) applyTo(tx *bolt.Tx) error {
	b := tx.Bucket([]byte(w.uri))
	if b == nil {
		return engine.Errorf(engine.Invalid, "commit", "no such table %s", w.uri)
	}
	if w.del {
		return b.Delete(w.key)
	}
	return b.Put(w.key, w.value)
}
