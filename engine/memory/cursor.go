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
	"bytes"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/utils"
)

type cursor struct {
	sess *session
	uri  string

	// view is the table the cursor is positioned in; nil when unpositioned.
	view   *table
	cur    entry
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

func (c *cursor) Search(key []byte) error {
	if err := c.check("search"); err != nil {
		return err
	}
	c.unposition()
	t, err := c.sess.tree(c.uri)
	if err != nil {
		return err
	}
	e, ok := t.Get(entry{key: key})
	if !ok {
		return engine.Errorf(engine.NotFound, "search", "")
	}
	c.view, c.cur = t, e
	return nil
}

func (c *cursor) SearchNear(key []byte) (int, error) {
	if err := c.check("search_near"); err != nil {
		return 0, err
	}
	c.unposition()
	t, err := c.sess.tree(c.uri)
	if err != nil {
		return 0, err
	}
	var (
		found bool
		e     entry
	)
	t.AscendGreaterOrEqual(entry{key: key}, func(item entry) bool {
		e, found = item, true
		return false
	})
	exact := 0
	if found {
		if !bytes.Equal(e.key, key) {
			exact = 1
		}
	} else {
		if e, found = t.Max(); !found {
			return 0, engine.Errorf(engine.NotFound, "search_near", "")
		}
		exact = -1
	}
	c.view, c.cur = t, e
	return exact, nil
}

func (c *cursor) Next() error {
	if err := c.check("next"); err != nil {
		return err
	}
	if c.view == nil {
		t, err := c.sess.tree(c.uri)
		if err != nil {
			return err
		}
		e, ok := t.Min()
		if !ok {
			return engine.Errorf(engine.NotFound, "next", "")
		}
		c.view, c.cur = t, e
		return nil
	}
	var (
		found bool
		next  entry
	)
	c.view.AscendGreaterOrEqual(c.cur, func(item entry) bool {
		if bytes.Equal(item.key, c.cur.key) {
			return true
		}
		next, found = item, true
		return false
	})
	if !found {
		c.unposition()
		return engine.Errorf(engine.NotFound, "next", "")
	}
	c.cur = next
	return nil
}

func (c *cursor) Prev() error {
	if err := c.check("prev"); err != nil {
		return err
	}
	if c.view == nil {
		t, err := c.sess.tree(c.uri)
		if err != nil {
			return err
		}
		e, ok := t.Max()
		if !ok {
			return engine.Errorf(engine.NotFound, "prev", "")
		}
		c.view, c.cur = t, e
		return nil
	}
	var (
		found bool
		prev  entry
	)
	c.view.DescendLessOrEqual(c.cur, func(item entry) bool {
		if bytes.Equal(item.key, c.cur.key) {
			return true
		}
		prev, found = item, true
		return false
	})
	if !found {
		c.unposition()
		return engine.Errorf(engine.NotFound, "prev", "")
	}
	c.cur = prev
	return nil
}

func (c *cursor) Key() ([]byte, error) {
	if err := c.check("get_key"); err != nil {
		return nil, err
	}
	if c.view == nil {
		return nil, engine.Errorf(engine.Invalid, "get_key", "cursor not positioned")
	}
	return utils.Copy(c.cur.key), nil
}

func (c *cursor) Value() ([]byte, error) {
	if err := c.check("get_value"); err != nil {
		return nil, err
	}
	if c.view == nil {
		return nil, engine.Errorf(engine.Invalid, "get_value", "cursor not positioned")
	}
	return utils.Copy(c.cur.value), nil
}

func (c *cursor) Insert(key, value []byte) error {
	return c.modify("insert", write{uri: c.uri, key: key, value: value})
}

func (c *cursor) Remove(key []byte) error {
	return c.modify("remove", write{uri: c.uri, key: key, del: true})
}

func (c *cursor) modify(op string, w write) error {
	if err := c.check(op); err != nil {
		return err
	}
	c.unposition()
	if t := c.sess.txn; t != nil {
		return t.put(c.sess.conn, w)
	}
	w.key = utils.Copy(w.key)
	if !w.del {
		w.value = utils.Copy(w.value)
	}
	return c.sess.conn.autocommit(w)
}

func (c *cursor) Reset() error {
	if c.closed {
		return engine.Errorf(engine.Closed, "reset", "cursor closed")
	}
	c.unposition()
	return nil
}

func (c *cursor) unposition() {
	c.view = nil
	c.cur = entry{}
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closeLocked()
	if c.sess.cursors != nil {
		delete(c.sess.cursors, c)
	}
	return nil
}

// closeLocked marks the cursor closed without touching the session's set.
func (c *cursor) closeLocked() {
	c.closed = true
	c.unposition()
}
