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

// Package enginetest holds the behaviour every engine driver must share.
package enginetest

import (
	"fmt"
	"testing"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURI = "table:enginetest"

// Opener returns a fresh, empty connection. Run closes it.
type Opener func(t *testing.T) engine.Connection

// Run exercises a driver against the engine contract.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, conn engine.Connection)
	}{
		{"InsertSearchRemove", testInsertSearchRemove},
		{"Ordering", testOrdering},
		{"SearchNear", testSearchNear},
		{"EmptyTable", testEmptyTable},
		{"Unpositioned", testUnpositioned},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"CommitAtomic", testCommitAtomic},
		{"Rollback", testRollback},
		{"Tables", testTables},
		{"SessionClose", testSessionClose},
		{"ConnectionClose", testConnectionClose},
		{"Compact", testCompact},
		{"Sizer", testSizer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn := open(t)
			defer func() { _ = conn.Close() }()
			tc.fn(t, conn)
		})
	}
}

func session(t *testing.T, conn engine.Connection) engine.Session {
	s, err := conn.OpenSession(engine.SessionConfig{Isolation: engine.Snapshot})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(testURI))
	return s
}

func cursor(t *testing.T, s engine.Session) engine.Cursor {
	c, err := s.OpenCursor(testURI)
	require.NoError(t, err)
	return c
}

func fill(t *testing.T, c engine.Cursor, keys ...string) {
	for _, k := range keys {
		require.NoError(t, c.Insert([]byte(k), []byte("v-"+k)))
	}
}

func scan(t *testing.T, c engine.Cursor, forward bool) []string {
	var keys []string
	for {
		var err error
		if forward {
			err = c.Next()
		} else {
			err = c.Prev()
		}
		if engine.IsNotFound(err) {
			return keys
		}
		require.NoError(t, err)
		k, err := c.Key()
		require.NoError(t, err)
		keys = append(keys, string(k))
	}
}

func testInsertSearchRemove(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	assert.Equal(t, testURI, c.URI())

	require.True(t, engine.IsNotFound(c.Search([]byte("k"))))
	fill(t, c, "k")
	require.NoError(t, c.Search([]byte("k")))
	v, err := c.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("v-k"), v)

	require.NoError(t, c.Insert([]byte("k"), []byte("second")))
	require.NoError(t, c.Search([]byte("k")))
	v, err = c.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), v)

	// Returned slices are copies.
	v[0] = 'X'
	require.NoError(t, c.Search([]byte("k")))
	v, err = c.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), v)

	require.NoError(t, c.Remove([]byte("k")))
	assert.True(t, engine.IsNotFound(c.Search([]byte("k"))))
	require.NoError(t, c.Remove([]byte("never-written")))
}

func testOrdering(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	fill(t, c, "d", "a", "c", "b", "e")

	require.NoError(t, c.Reset())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, scan(t, c, true))
	// Past the end the cursor is unpositioned, so Prev starts at the last key.
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, scan(t, c, false))

	require.NoError(t, c.Search([]byte("c")))
	require.NoError(t, c.Next())
	k, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), k)
	require.NoError(t, c.Prev())
	require.NoError(t, c.Prev())
	k, err = c.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
}

func testSearchNear(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	fill(t, c, "a", "c")

	tests := []struct {
		key   string
		exact int
		want  string
	}{
		{"a", 0, "a"},
		{"b", 1, "c"},
		{"0", 1, "a"},
		{"d", -1, "c"},
	}
	for _, tc := range tests {
		exact, err := c.SearchNear([]byte(tc.key))
		require.NoError(t, err, tc.key)
		switch {
		case tc.exact == 0:
			assert.Zero(t, exact, tc.key)
		case tc.exact > 0:
			assert.Positive(t, exact, tc.key)
		default:
			assert.Negative(t, exact, tc.key)
		}
		k, err := c.Key()
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(k), tc.key)
	}
}

func testEmptyTable(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	assert.True(t, engine.IsNotFound(c.Next()))
	assert.True(t, engine.IsNotFound(c.Prev()))
	_, err := c.SearchNear([]byte("x"))
	assert.True(t, engine.IsNotFound(err))
}

func testUnpositioned(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	fill(t, c, "a")

	_, err := c.Key()
	assert.Equal(t, engine.Invalid, engine.CodeOf(err))
	_, err = c.Value()
	assert.Equal(t, engine.Invalid, engine.CodeOf(err))

	require.NoError(t, c.Search([]byte("a")))
	require.NoError(t, c.Reset())
	_, err = c.Key()
	assert.Equal(t, engine.Invalid, engine.CodeOf(err))
}

func testSnapshotIsolation(t *testing.T, conn engine.Connection) {
	reader := session(t, conn)
	writer := session(t, conn)
	rc := cursor(t, reader)
	wc := cursor(t, writer)
	fill(t, wc, "a")

	require.NoError(t, reader.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	assert.True(t, reader.InTransaction())
	fill(t, wc, "b")
	require.NoError(t, wc.Insert([]byte("a"), []byte("changed")))
	require.NoError(t, wc.Remove([]byte("a")))

	assert.Equal(t, []string{"a"}, scan(t, rc, true))
	require.NoError(t, rc.Search([]byte("a")))
	v, err := rc.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("v-a"), v)

	require.NoError(t, reader.RollbackTransaction())
	assert.False(t, reader.InTransaction())
	assert.Equal(t, []string{"b"}, scan(t, rc, true))
}

func testCommitAtomic(t *testing.T, conn engine.Connection) {
	writer := session(t, conn)
	reader := session(t, conn)
	wc := cursor(t, writer)
	rc := cursor(t, reader)
	fill(t, wc, "old")

	require.NoError(t, writer.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	for i := 0; i < 10; i++ {
		require.NoError(t, wc.Insert([]byte(fmt.Sprintf("k%02d", i)), []byte("v")))
	}
	require.NoError(t, wc.Remove([]byte("old")))
	assert.Equal(t, []string{"old"}, scan(t, rc, true))

	require.NoError(t, writer.CommitTransaction(engine.CommitConfig{Sync: true}))
	got := scan(t, rc, true)
	assert.Len(t, got, 10)
	assert.NotContains(t, got, "old")

	err := writer.CommitTransaction(engine.CommitConfig{})
	assert.Equal(t, engine.Invalid, engine.CodeOf(err))
}

func testRollback(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	require.NoError(t, s.RollbackTransaction())

	require.NoError(t, s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	err := s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot})
	assert.Equal(t, engine.Invalid, engine.CodeOf(err))
	fill(t, c, "a", "b")
	require.NoError(t, s.RollbackTransaction())
	assert.Empty(t, scan(t, c, true))
}

func testTables(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	require.NoError(t, s.CreateTable(testURI))

	other := "table:enginetest.other"
	_, err := s.OpenCursor(other)
	require.Error(t, err)

	require.NoError(t, s.CreateTable(other))
	oc, err := s.OpenCursor(other)
	require.NoError(t, err)
	fill(t, oc, "x")
	c := cursor(t, s)
	fill(t, c, "y")
	require.NoError(t, oc.Reset())
	assert.Equal(t, []string{"x"}, scan(t, oc, true))
	assert.Equal(t, []string{"y"}, scan(t, c, true))
	require.NoError(t, oc.Close())

	require.NoError(t, s.DropTable(other))
	assert.True(t, engine.IsNotFound(s.DropTable(other)))
	_, err = s.OpenCursor(other)
	require.Error(t, err)

	require.NoError(t, s.CreateTable(other))
	oc, err = s.OpenCursor(other)
	require.NoError(t, err)
	assert.Empty(t, scan(t, oc, true))
}

func testSessionClose(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	fill(t, c, "a")
	require.NoError(t, s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, c.Insert([]byte("uncommitted"), []byte("v")))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, engine.Closed, engine.CodeOf(c.Next()))
	require.NoError(t, c.Close())

	other := session(t, conn)
	assert.Equal(t, []string{"a"}, scan(t, cursor(t, other), true))
}

func testConnectionClose(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	c := cursor(t, s)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Error(t, c.Next())
	_, err := conn.OpenSession(engine.SessionConfig{})
	assert.Equal(t, engine.Closed, engine.CodeOf(err))
}

func testCompact(t *testing.T, conn engine.Connection) {
	s := session(t, conn)
	fill(t, cursor(t, s), "a", "b", "c")
	for _, r := range [][2][]byte{{nil, nil}, {[]byte("a"), []byte("b")}} {
		err := s.Compact(testURI, r[0], r[1])
		if err != nil {
			assert.Equal(t, engine.NotSupported, engine.CodeOf(err))
		}
	}
}

func testSizer(t *testing.T, conn engine.Connection) {
	sizer, ok := conn.(engine.Sizer)
	if !ok {
		t.Skip("engine does not estimate sizes")
	}
	s := session(t, conn)
	fill(t, cursor(t, s), "a", "b", "c")
	_, err := sizer.ApproximateSize(testURI, nil, nil)
	require.NoError(t, err)
	_, err = sizer.ApproximateSize(testURI, []byte("a"), []byte("b"))
	require.NoError(t, err)
}
