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

package sessionkv

import (
	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/utils"
	"github.com/pkg/errors"
)

// Iterator walks one table in key order over an engine cursor.
//
// It starts Invalid. Positioning calls either land on an entry (Valid) or
// leave it Invalid; running off either end or seeking in an empty table is
// not an error, so Err stays nil. Next and Prev require Valid. Key and Value
// panic unless Valid.
type Iterator struct {
	cursor    engine.Cursor
	ownCursor bool
	// snap guards each cursor call when iterating a snapshot.
	snap *Snapshot
	// done runs once on Close.
	done func()

	valid  bool
	key    []byte
	value  []byte
	err    error
	closed bool
}

// newIterator wraps cursor. ownCursor says whether Close closes it or only
// resets it.
func newIterator(cursor engine.Cursor, ownCursor bool) *Iterator {
	return &Iterator{cursor: cursor, ownCursor: ownCursor}
}

func (it *Iterator) Valid() bool {
	return it.valid
}

// Err returns the last engine failure, or nil.
func (it *Iterator) Err() error {
	return it.err
}

// Key returns the current key. It stays unchanged until the next
// positioning call.
func (it *Iterator) Key() []byte {
	utils.CondPanic(!it.valid, utils.ErrIteratorInvalid)
	return it.key
}

// Value returns the current value. It stays unchanged until the next
// positioning call.
func (it *Iterator) Value() []byte {
	utils.CondPanic(!it.valid, utils.ErrIteratorInvalid)
	return it.value
}

func (it *Iterator) SeekToFirst() {
	it.seek(func(c engine.Cursor) error {
		if err := c.Reset(); err != nil {
			return err
		}
		return c.Next()
	})
}

func (it *Iterator) SeekToLast() {
	it.seek(func(c engine.Cursor) error {
		if err := c.Reset(); err != nil {
			return err
		}
		return c.Prev()
	})
}

// Seek moves to the first key at or after target.
func (it *Iterator) Seek(target []byte) {
	if len(target) == 0 {
		it.SeekToFirst()
		return
	}
	it.seek(func(c engine.Cursor) error {
		exact, err := c.SearchNear(target)
		if err != nil {
			return err
		}
		if exact < 0 {
			return c.Next()
		}
		return nil
	})
}

func (it *Iterator) Next() {
	if !it.valid {
		it.err = errors.WithMessage(ErrInvalidState, "Next on an invalid iterator")
		return
	}
	it.move(func(c engine.Cursor) error { return c.Next() })
}

func (it *Iterator) Prev() {
	if !it.valid {
		it.err = errors.WithMessage(ErrInvalidState, "Prev on an invalid iterator")
		return
	}
	it.move(func(c engine.Cursor) error { return c.Prev() })
}

// seek is a fresh positioning call, so it clears an earlier failure.
func (it *Iterator) seek(fn func(c engine.Cursor) error) {
	it.err = nil
	it.move(fn)
}

func (it *Iterator) move(fn func(c engine.Cursor) error) {
	it.valid = false
	it.key, it.value = nil, nil
	if it.closed {
		it.err = errors.WithMessage(ErrInvalidState, "iterator closed")
		return
	}
	if it.snap != nil {
		if _, err := it.snap.enter(); err != nil {
			it.err = err
			return
		}
		defer it.snap.exit()
	}
	err := fn(it.cursor)
	if err == nil {
		err = it.load()
	}
	switch {
	case err == nil:
		it.valid = true
	case engine.IsNotFound(err):
		// Off either end.
	default:
		it.err = engine.Translate(err)
	}
}

func (it *Iterator) load() error {
	k, err := it.cursor.Key()
	if err != nil {
		return err
	}
	v, err := it.cursor.Value()
	if err != nil {
		return err
	}
	it.key, it.value = k, v
	return nil
}

// Close releases the cursor if the iterator opened it, otherwise only
// resets it. Later calls are no-ops. A snapshot iterator whose snapshot is
// busy in another call returns ErrSnapshotInUse and stays open, so Close
// can be retried.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	if it.snap != nil {
		if _, err := it.snap.enter(); err == nil {
			defer it.snap.exit()
		} else if errors.Is(err, ErrSnapshotInUse) {
			return err
		}
		// Otherwise the snapshot was released and its session already
		// closed the cursor.
	}
	it.closed = true
	it.valid = false
	it.key, it.value = nil, nil

	var err error
	if it.snap == nil || !it.snap.released.Load() {
		if it.ownCursor {
			err = engine.Translate(it.cursor.Close())
		} else {
			err = engine.Translate(it.cursor.Reset())
		}
	}
	if it.done != nil {
		it.done()
	}
	return err
}
