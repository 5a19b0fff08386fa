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
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectForward(t *testing.T, it *Iterator) []string {
	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	return keys
}

func TestIteratorEmpty(t *testing.T) {
	runStoreTest(t, nil, func(t *testing.T, db *DB) {
		it, err := db.NewIterator(nil)
		require.NoError(t, err)
		defer it.Close()

		assert.False(t, it.Valid())
		it.SeekToFirst()
		assert.False(t, it.Valid())
		assert.NoError(t, it.Err())
		it.SeekToLast()
		assert.False(t, it.Valid())
		assert.NoError(t, it.Err())
		it.Seek([]byte("x"))
		assert.False(t, it.Valid())
		assert.NoError(t, it.Err())
	})
}

func TestIteratorOrder(t *testing.T) {
	runStoreTest(t, nil, func(t *testing.T, db *DB) {
		var want []string
		for i := 0; i < 100; i++ {
			want = append(want, fmt.Sprintf("key%03d", i))
		}
		for _, i := range rand.Perm(len(want)) {
			require.NoError(t, db.Put([]byte(want[i]), []byte("v"+want[i]), nil))
		}

		it, err := db.NewIterator(nil)
		require.NoError(t, err)
		defer it.Close()

		assert.Equal(t, want, collectForward(t, it))

		var got []string
		for it.SeekToLast(); it.Valid(); it.Prev() {
			got = append(got, string(it.Key()))
			assert.Equal(t, "v"+string(it.Key()), string(it.Value()))
		}
		require.NoError(t, it.Err())
		require.Len(t, got, len(want))
		for i := range got {
			assert.Equal(t, want[len(want)-1-i], got[i])
		}
	})
}

func TestIteratorSeek(t *testing.T) {
	runStoreTest(t, nil, func(t *testing.T, db *DB) {
		require.NoError(t, db.Put([]byte("a"), []byte("1"), nil))
		require.NoError(t, db.Put([]byte("c"), []byte("3"), nil))
		require.NoError(t, db.Put([]byte("e"), []byte("5"), nil))

		it, err := db.NewIterator(nil)
		require.NoError(t, err)
		defer it.Close()

		it.Seek([]byte("b"))
		require.True(t, it.Valid())
		assert.Equal(t, []byte("c"), it.Key())
		assert.Equal(t, []byte("3"), it.Value())

		it.Seek([]byte("c"))
		require.True(t, it.Valid())
		assert.Equal(t, []byte("c"), it.Key())

		it.Seek([]byte("d"))
		require.True(t, it.Valid())
		assert.Equal(t, []byte("e"), it.Key())
		it.Prev()
		require.True(t, it.Valid())
		assert.Equal(t, []byte("c"), it.Key())

		it.Seek([]byte("0"))
		require.True(t, it.Valid())
		assert.Equal(t, []byte("a"), it.Key())

		it.Seek(nil)
		require.True(t, it.Valid())
		assert.Equal(t, []byte("a"), it.Key())

		it.Seek([]byte("f"))
		assert.False(t, it.Valid())
		assert.NoError(t, it.Err())
	})
}

func TestIteratorInvalidUse(t *testing.T) {
	runStoreTest(t, nil, func(t *testing.T, db *DB) {
		require.NoError(t, db.Put([]byte("a"), []byte("1"), nil))
		it, err := db.NewIterator(nil)
		require.NoError(t, err)

		assert.Panics(t, func() { it.Key() })
		assert.Panics(t, func() { it.Value() })

		it.Next()
		assert.False(t, it.Valid())
		assert.ErrorIs(t, it.Err(), ErrInvalidState)

		// A seek starts over.
		it.SeekToFirst()
		require.True(t, it.Valid())
		assert.NoError(t, it.Err())

		it.Next()
		assert.False(t, it.Valid())
		assert.NoError(t, it.Err())
		it.Prev()
		assert.ErrorIs(t, it.Err(), ErrInvalidState)

		require.NoError(t, it.Close())
		require.NoError(t, it.Close())
		it.SeekToFirst()
		assert.False(t, it.Valid())
		assert.ErrorIs(t, it.Err(), ErrInvalidState)
	})
}

func TestIteratorPinsData(t *testing.T) {
	runStoreTest(t, nil, func(t *testing.T, db *DB) {
		require.NoError(t, db.Put([]byte("a"), []byte("old"), nil))
		require.NoError(t, db.Put([]byte("b"), []byte("old"), nil))

		it, err := db.NewIterator(nil)
		require.NoError(t, err)

		require.NoError(t, db.Put([]byte("a"), []byte("new"), nil))
		require.NoError(t, db.Delete([]byte("b"), nil))
		require.NoError(t, db.Put([]byte("c"), []byte("new"), nil))

		var got []string
		for it.SeekToFirst(); it.Valid(); it.Next() {
			got = append(got, string(it.Key())+"="+string(it.Value()))
		}
		require.NoError(t, it.Err())
		assert.Equal(t, []string{"a=old", "b=old"}, got)
		require.NoError(t, it.Close())

		it, err = db.NewIterator(nil)
		require.NoError(t, err)
		defer it.Close()
		assert.Equal(t, []string{"a", "c"}, collectForward(t, it))
	})
}

func TestIteratorReturnsContext(t *testing.T) {
	runStoreTest(t, nil, func(t *testing.T, db *DB) {
		require.NoError(t, db.Put([]byte("a"), []byte("1"), nil))
		before := db.pool.Idle()

		it, err := db.NewIterator(nil)
		require.NoError(t, err)
		assert.Equal(t, before-1, db.pool.Idle())
		require.NoError(t, it.Close())
		assert.Equal(t, before, db.pool.Idle())

		// The context comes back clean: a later write is visible.
		require.NoError(t, db.Put([]byte("b"), []byte("2"), nil))
		v, err := db.Get([]byte("b"), nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v)
	})
}
