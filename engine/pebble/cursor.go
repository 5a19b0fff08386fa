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

	"github.com/cockroachdb/pebble"
	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/utils"
)

// cursor holds a pebble iterator only while positioned. Every positioning
// call from the unpositioned state opens a new one, so read-committed
// cursors see the latest commits.
type cursor struct {
	sess   *session
	uri    string
	prefix []byte
	iter   *pebble.Iterator
	closed bool
}

var _ engine.Cursor = (*cursor)(nil)

func (c *cursor) URI() string { return c.uri }

func (c *cursor) check(op string) error {
	if c.closed {
		return engine.Errorf(engine.Closed, op, "cursor closed")
	}
	return c.sess.check(op)
}

func (c *cursor) closeIter() {
	if c.iter != nil {
		_ = c.iter.Close()
		c.iter = nil
	}
}

// open replaces the cursor's iterator with a fresh one.
func (c *cursor) open(op string) error {
	c.closeIter()
	it, err := c.sess.newIter(c.prefix)
	if err != nil {
		return engine.Wrap(engine.Generic, op, err)
	}
	c.iter = it
	return nil
}

// settle reports the outcome of a move: nil when positioned, NotFound past
// either end. Off the end the cursor is unpositioned.
func (c *cursor) settle(op string, valid bool) error {
	if valid {
		return nil
	}
	err := c.iter.Error()
	c.closeIter()
	if err != nil {
		return engine.Wrap(engine.Generic, op, err)
	}
	return engine.Errorf(engine.NotFound, op, "")
}

func (c *cursor) Search(key []byte) error {
	if err := c.check("search"); err != nil {
		return err
	}
	if err := c.open("search"); err != nil {
		return err
	}
	k := dataKey(c.prefix, key)
	if c.iter.SeekGE(k) && bytes.Equal(c.iter.Key(), k) {
		return nil
	}
	return c.settle("search", false)
}

func (c *cursor) SearchNear(key []byte) (int, error) {
	if err := c.check("search_near"); err != nil {
		return 0, err
	}
	if err := c.open("search_near"); err != nil {
		return 0, err
	}
	k := dataKey(c.prefix, key)
	if c.iter.SeekGE(k) {
		if bytes.Equal(c.iter.Key(), k) {
			return 0, nil
		}
		return 1, nil
	}
	if err := c.iter.Error(); err != nil {
		return 0, c.settle("search_near", false)
	}
	if err := c.settle("search_near", c.iter.Last()); err != nil {
		return 0, err
	}
	return -1, nil
}

func (c *cursor) Next() error {
	if err := c.check("next"); err != nil {
		return err
	}
	if c.iter == nil {
		if err := c.open("next"); err != nil {
			return err
		}
		return c.settle("next", c.iter.First())
	}
	return c.settle("next", c.iter.Next())
}

func (c *cursor) Prev() error {
	if err := c.check("prev"); err != nil {
		return err
	}
	if c.iter == nil {
		if err := c.open("prev"); err != nil {
			return err
		}
		return c.settle("prev", c.iter.Last())
	}
	return c.settle("prev", c.iter.Prev())
}

func (c *cursor) Key() ([]byte, error) {
	if err := c.check("get_key"); err != nil {
		return nil, err
	}
	if c.iter == nil || !c.iter.Valid() {
		return nil, engine.Errorf(engine.Invalid, "get_key", "cursor not positioned")
	}
	return userKey(c.prefix, c.iter.Key()), nil
}

func (c *cursor) Value() ([]byte, error) {
	if err := c.check("get_value"); err != nil {
		return nil, err
	}
	if c.iter == nil || !c.iter.Valid() {
		return nil, engine.Errorf(engine.Invalid, "get_value", "cursor not positioned")
	}
	v, err := c.iter.ValueAndErr()
	if err != nil {
		return nil, engine.Wrap(engine.Generic, "get_value", err)
	}
	return utils.Copy(v), nil
}

func (c *cursor) Insert(key, value []byte) error {
	if err := c.check("insert"); err != nil {
		return err
	}
	c.closeIter()
	k := dataKey(c.prefix, key)
	if t := c.sess.txn; t != nil {
		return engine.Wrap(engine.Generic, "insert", t.batch.Set(k, value, nil))
	}
	return engine.Wrap(engine.Generic, "insert", c.sess.conn.db.Set(k, value, pebble.NoSync))
}

func (c *cursor) Remove(key []byte) error {
	if err := c.check("remove"); err != nil {
		return err
	}
	c.closeIter()
	k := dataKey(c.prefix, key)
	if t := c.sess.txn; t != nil {
		return engine.Wrap(engine.Generic, "remove", t.batch.Delete(k, nil))
	}
	return engine.Wrap(engine.Generic, "remove", c.sess.conn.db.Delete(k, pebble.NoSync))
}

func (c *cursor) Reset() error {
	if c.closed {
		return engine.Errorf(engine.Closed, "reset", "cursor closed")
	}
	c.closeIter()
	return nil
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeIter()
	if c.sess.cursors != nil {
		delete(c.sess.cursors, c)
	}
	return nil
}
