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
	"fmt"
	"testing"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Connection {
		return Open(NewDefaultOptions())
	})
}

func openTable(t *testing.T, c *Conn) (engine.Session, engine.Cursor) {
	s, err := c.OpenSession(engine.SessionConfig{Isolation: engine.Snapshot})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(engine.PrimaryURI))
	cur, err := s.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)
	return s, cur
}

func TestSessionMax(t *testing.T) {
	c := Open(Options{SessionMax: 2})
	defer c.Close()

	s1, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	_, err = c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	_, err = c.OpenSession(engine.SessionConfig{})
	assert.Equal(t, engine.Busy, engine.CodeOf(err))

	require.NoError(t, s1.Close())
	_, err = c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
}

func TestWriteConflict(t *testing.T) {
	c := Open(NewDefaultOptions())
	defer c.Close()
	s1, c1 := openTable(t, c)
	s2, c2 := openTable(t, c)

	require.NoError(t, s1.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, s2.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, c1.Insert([]byte("k"), []byte("one")))
	require.NoError(t, c2.Insert([]byte("k"), []byte("two")))

	require.NoError(t, s1.CommitTransaction(engine.CommitConfig{}))
	err := s2.CommitTransaction(engine.CommitConfig{})
	assert.Equal(t, engine.Rollback, engine.CodeOf(err))
	assert.False(t, s2.InTransaction())

	require.NoError(t, c2.Search([]byte("k")))
	v, err := c2.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	// Disjoint keys commit fine.
	require.NoError(t, s1.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, s2.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, c1.Insert([]byte("x"), []byte("1")))
	require.NoError(t, c2.Insert([]byte("y"), []byte("2")))
	require.NoError(t, s1.CommitTransaction(engine.CommitConfig{}))
	require.NoError(t, s2.CommitTransaction(engine.CommitConfig{}))
	assert.Empty(t, c.orc.pending)
	assert.Empty(t, c.orc.committedTxns)
}

func TestLastWriterWins(t *testing.T) {
	c := Open(Options{DetectConflicts: false})
	defer c.Close()
	s1, c1 := openTable(t, c)
	s2, c2 := openTable(t, c)

	require.NoError(t, s1.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, s2.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, c1.Insert([]byte("k"), []byte("one")))
	require.NoError(t, c2.Insert([]byte("k"), []byte("two")))
	require.NoError(t, s1.CommitTransaction(engine.CommitConfig{}))
	require.NoError(t, s2.CommitTransaction(engine.CommitConfig{}))

	require.NoError(t, c1.Search([]byte("k")))
	v, err := c1.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)
}

func TestTxnReadsOwnWrites(t *testing.T) {
	c := Open(NewDefaultOptions())
	defer c.Close()
	s, cur := openTable(t, c)
	require.NoError(t, cur.Insert([]byte("a"), []byte("1")))

	require.NoError(t, s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, cur.Insert([]byte("b"), []byte("2")))
	require.NoError(t, cur.Remove([]byte("a")))
	require.NoError(t, cur.Next())
	k, err := cur.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
	// The published version is untouched until commit.
	assert.Equal(t, 1, c.cur.Load().tables[engine.PrimaryURI].Len())
	require.NoError(t, s.CommitTransaction(engine.CommitConfig{}))
	assert.Equal(t, 1, c.cur.Load().tables[engine.PrimaryURI].Len())
}

func TestSnapshotUnderConcurrentWrites(t *testing.T) {
	c := Open(NewDefaultOptions())
	defer c.Close()
	reader, rc := openTable(t, c)
	for i := 0; i < 100; i++ {
		require.NoError(t, rc.Insert([]byte(fmt.Sprintf("k%03d", i)), []byte("v0")))
	}
	require.NoError(t, reader.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		w := w
		g.Go(func() error {
			s, err := c.OpenSession(engine.SessionConfig{})
			if err != nil {
				return err
			}
			defer s.Close()
			cur, err := s.OpenCursor(engine.PrimaryURI)
			if err != nil {
				return err
			}
			for i := 0; i < 100; i++ {
				key := []byte(fmt.Sprintf("k%03d", (i*7+w)%100))
				if err := cur.Insert(key, []byte(fmt.Sprintf("w%d", w))); err != nil {
					return err
				}
			}
			return nil
		})
	}

	n := 0
	for {
		err := rc.Next()
		if engine.IsNotFound(err) {
			break
		}
		require.NoError(t, err)
		v, err := rc.Value()
		require.NoError(t, err)
		assert.Equal(t, []byte("v0"), v)
		n++
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 100, n)
	require.NoError(t, reader.RollbackTransaction())
}

func TestApproximateSize(t *testing.T) {
	c := Open(NewDefaultOptions())
	defer c.Close()
	_, cur := openTable(t, c)
	require.NoError(t, cur.Insert([]byte("a"), []byte("12345")))
	require.NoError(t, cur.Insert([]byte("b"), []byte("123")))

	size, err := c.ApproximateSize(engine.PrimaryURI, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), size)
	size, err = c.ApproximateSize(engine.PrimaryURI, []byte("b"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), size)
	size, err = c.ApproximateSize(engine.PrimaryURI, nil, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), size)

	_, err = c.ApproximateSize("table:missing", nil, nil)
	assert.Equal(t, engine.Invalid, engine.CodeOf(err))
}
