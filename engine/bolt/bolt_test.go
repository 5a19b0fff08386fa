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
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempConn(t *testing.T, path string) *Conn {
	t.Helper()
	opt := NewDefaultOptions(path)
	opt.InitialMmapSize = 16 << 20
	c, err := Open(opt)
	require.NoError(t, err)
	return c
}

func TestConformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Connection {
		return tempConn(t, filepath.Join(t.TempDir(), "test.db"))
	})
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(NewDefaultOptions("/nonexistent/dir/test.db"))
	require.Error(t, err)
	assert.Equal(t, engine.Generic, engine.CodeOf(err))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	c := tempConn(t, path)
	s, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(engine.PrimaryURI))
	cur, err := s.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)
	require.NoError(t, cur.Insert([]byte("k"), []byte("v")))
	require.NoError(t, c.Flush())
	require.NoError(t, c.Close())
	assert.Equal(t, engine.Closed, engine.CodeOf(c.Flush()))

	c = tempConn(t, path)
	defer c.Close()
	s, err = c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	cur, err = s.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)
	require.NoError(t, cur.Search([]byte("k")))
	v, err := cur.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	size, err := c.ApproximateSize(engine.PrimaryURI, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), size)
}

func TestCompactNotSupported(t *testing.T) {
	c := tempConn(t, filepath.Join(t.TempDir(), "test.db"))
	defer c.Close()
	s, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	err = s.Compact(engine.PrimaryURI, nil, nil)
	assert.Equal(t, engine.NotSupported, engine.CodeOf(err))
}

func TestPositionedCursorHoldsView(t *testing.T) {
	c := tempConn(t, filepath.Join(t.TempDir(), "test.db"))
	defer c.Close()
	s, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(engine.PrimaryURI))
	cur, err := s.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)
	require.NoError(t, cur.Insert([]byte("a"), []byte("1")))
	require.NoError(t, cur.Insert([]byte("c"), []byte("3")))

	w, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	wc, err := w.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)

	require.NoError(t, cur.Next())
	require.NoError(t, wc.Insert([]byte("b"), []byte("2")))
	// The positioned cursor keeps the view it was positioned in.
	require.NoError(t, cur.Next())
	k, err := cur.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), k)

	// Repositioning picks up the new commit.
	_, err = cur.SearchNear([]byte("b"))
	require.NoError(t, err)
	k, err = cur.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
}

func TestWriteDuringSnapshotNeverHangs(t *testing.T) {
	opt := NewDefaultOptions(filepath.Join(t.TempDir(), "test.db"))
	opt.InitialMmapSize = 64 << 10
	c, err := Open(opt)
	require.NoError(t, err)
	defer c.Close()

	w, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, w.CreateTable(engine.PrimaryURI))
	wc, err := w.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)

	r, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, r.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))

	value := bytes.Repeat([]byte("x"), 4<<10)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 200; i++ {
			if err := wc.Insert([]byte(fmt.Sprintf("k%03d", i)), value); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("writer blocked while a snapshot transaction is open")
	}
	require.Error(t, err)
	assert.Equal(t, engine.Busy, engine.CodeOf(err))

	// Without the open view the file may grow.
	require.NoError(t, r.RollbackTransaction())
	for i := 0; i < 200; i++ {
		require.NoError(t, wc.Insert([]byte(fmt.Sprintf("k%03d", i)), value))
	}
	require.NoError(t, r.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	rc, err := r.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)
	require.NoError(t, rc.Search([]byte("k199")))
	require.NoError(t, r.Close())
	assert.Zero(t, c.views.Load())
}

func TestSyncCommitOnNoSyncDB(t *testing.T) {
	opt := NewDefaultOptions(filepath.Join(t.TempDir(), "test.db"))
	opt.InitialMmapSize = 16 << 20
	opt.NoSync = true
	c, err := Open(opt)
	require.NoError(t, err)
	defer c.Close()

	s, err := c.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(engine.PrimaryURI))
	cur, err := s.OpenCursor(engine.PrimaryURI)
	require.NoError(t, err)

	require.NoError(t, s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, cur.Insert([]byte("a"), []byte("1")))
	require.NoError(t, s.CommitTransaction(engine.CommitConfig{}))
	assert.Zero(t, c.syncs.Load())

	require.NoError(t, s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, cur.Insert([]byte("b"), []byte("2")))
	require.NoError(t, s.CommitTransaction(engine.CommitConfig{Sync: true}))
	assert.Equal(t, int64(1), c.syncs.Load())

	// An empty synced commit writes nothing.
	require.NoError(t, s.BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, s.CommitTransaction(engine.CommitConfig{Sync: true}))
	assert.Equal(t, int64(1), c.syncs.Load())
}
