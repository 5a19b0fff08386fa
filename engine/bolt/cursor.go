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
	"bytes"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/utils"
	bolt "go.etcd.io/bbolt"
)

// cursor holds a bbolt cursor, and the read transaction behind it, only
// while positioned. key and value point into the mmap and stay valid until
// release.
type cursor struct {
	sess *session
	uri  string

	tx     *bolt.Tx
	owned  bool
	bc     *bolt.Cursor
	key    []byte
	value  []byte
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

func (c *cursor) release() {
	if c.owned && c.tx != nil {
		c.sess.conn.endRead(c.tx)
	}
	c.tx, c.owned, c.bc = nil, false, nil
	c.key, c.value = nil, nil
}

func (c *cursor) acquire(op string) error {
	c.release()
	tx, owned, err := c.sess.view()
	if err != nil {
		return err
	}
	b := tx.Bucket([]byte(c.uri))
	if b == nil {
		if owned {
			c.sess.conn.endRead(tx)
		}
		return engine.Errorf(engine.Invalid, op, "no such table %s", c.uri)
	}
	c.tx, c.owned, c.bc = tx, owned, b.Cursor()
	return nil
}

// land records the entry a bbolt move returned. A nil key is past either
// end and unpositions the cursor.
func (c *cursor) land(op string, k, v []byte) error {
	if k == nil {
		c.release()
		return engine.Errorf(engine.NotFound, op, "")
	}
	c.key, c.value = k, v
	return nil
}

func (c *cursor) Search(key []byte) error {
	if err := c.check("search"); err != nil {
		return err
	}
	if err := c.acquire("search"); err != nil {
		return err
	}
	k, v := c.bc.Seek(key)
	if !bytes.Equal(k, key) {
		k = nil
	}
	return c.land("search", k, v)
}

func (c *cursor) SearchNear(key []byte) (int, error) {
	if err := c.check("search_near"); err != nil {
		return 0, err
	}
	if err := c.acquire("search_near"); err != nil {
		return 0, err
	}
	if k, v := c.bc.Seek(key); k != nil {
		c.key, c.value = k, v
		if bytes.Equal(k, key) {
			return 0, nil
		}
		return 1, nil
	}
	k, v := c.bc.Last()
	if err := c.land("search_near", k, v); err != nil {
		return 0, err
	}
	return -1, nil
}

func (c *cursor) Next() error {
	if err := c.check("next"); err != nil {
		return err
	}
	if c.bc == nil {
		if err := c.acquire("next"); err != nil {
			return err
		}
		k, v := c.bc.First()
		return c.land("next", k, v)
	}
	k, v := c.bc.Next()
	return c.land("next", k, v)
}

func (c *cursor) Prev() error {
	if err := c.check("prev"); err != nil {
		return err
	}
	if c.bc == nil {
		if err := c.acquire("prev"); err != nil {
			return err
		}
		k, v := c.bc.Last()
		return c.land("prev", k, v)
	}
	k, v := c.bc.Prev()
	return c.land("prev", k, v)
}

func (c *cursor) Key() ([]byte, error) {
	if err := c.check("get_key"); err != nil {
		return nil, err
	}
	if c.key == nil {
		return nil, engine.Errorf(engine.Invalid, "get_key", "cursor not positioned")
	}
	return utils.Copy(c.key), nil
}

func (c *cursor) Value() ([]byte, error) {
	if err := c.check("get_value"); err != nil {
		return nil, err
	}
	if c.key == nil {
		return nil, engine.Errorf(engine.Invalid, "get_value", "cursor not positioned")
	}
	return utils.Copy(c.value), nil
}

func (c *cursor) Insert(key, value []byte) error {
	if err := c.check("insert"); err != nil {
		return err
	}
	c.release()
	return c.sess.write(write{uri: c.uri, key: key, value: value})
}

func (c *cursor) Remove(key []byte) error {
	if err := c.check("remove"); err != nil {
		return err
	}
	c.release()
	return c.sess.write(write{uri: c.uri, key: key, del: true})
}

func (c *cursor) Reset() error {
	if c.closed {
		return engine.Errorf(engine.Closed, "reset", "cursor closed")
	}
	c.release()
	return nil
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.release()
	if c.sess.cursors != nil {
		delete(c.sess.cursors, c)
	}
	return nil
}
