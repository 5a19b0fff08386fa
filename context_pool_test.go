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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/engine/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestConn(t *testing.T, opt memory.Options) *memory.Conn {
	conn := memory.Open(opt)
	s, err := conn.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(engine.PrimaryURI))
	require.NoError(t, s.Close())
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestContextPoolReuse(t *testing.T) {
	var created atomic.Int32
	pool := NewContextPool(newTestConn(t, memory.NewDefaultOptions()), 4, func() { created.Add(1) })
	defer pool.Close()

	a, err := pool.Get()
	require.NoError(t, err)
	pool.Put(a)
	b, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), created.Load())

	// Two borrowers at once never share.
	c, err := pool.Get()
	require.NoError(t, err)
	assert.NotSame(t, b, c)
	assert.NotEqual(t, b.ID(), c.ID())
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, 0, pool.Idle())

	pool.Put(b)
	pool.Put(c)
	assert.Equal(t, 2, pool.Idle())
}

func TestContextPoolResetsOnPut(t *testing.T) {
	pool := NewContextPool(newTestConn(t, memory.NewDefaultOptions()), 4, nil)
	defer pool.Close()

	ctx, err := pool.Get()
	require.NoError(t, err)
	require.NoError(t, ctx.Session().BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}))
	require.NoError(t, ctx.Cursor().Insert([]byte("k"), []byte("v")))
	pool.Put(ctx)

	// The open transaction was rolled back.
	assert.False(t, ctx.Session().InTransaction())
	again, err := pool.Get()
	require.NoError(t, err)
	assert.True(t, engine.IsNotFound(again.Cursor().Search([]byte("k"))))
	pool.Put(again)
}

func TestContextPoolIdleLimit(t *testing.T) {
	pool := NewContextPool(newTestConn(t, memory.NewDefaultOptions()), 1, nil)
	defer pool.Close()

	a, err := pool.Get()
	require.NoError(t, err)
	b, err := pool.Get()
	require.NoError(t, err)
	pool.Put(a)
	pool.Put(b)
	assert.Equal(t, 1, pool.Idle())
	assert.Equal(t, 1, pool.Len())
	assert.True(t, b.closed)
}

func TestContextPoolClose(t *testing.T) {
	pool := NewContextPool(newTestConn(t, memory.NewDefaultOptions()), 4, nil)

	lent, err := pool.Get()
	require.NoError(t, err)
	idle, err := pool.Get()
	require.NoError(t, err)
	pool.Put(idle)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.True(t, lent.closed)
	assert.True(t, idle.closed)
	assert.Zero(t, pool.Len())

	// A late return is dropped.
	pool.Put(lent)
	assert.Zero(t, pool.Idle())

	_, err = pool.Get()
	assert.ErrorIs(t, err, ErrDBClosed)
}

func TestContextPoolSessionLimit(t *testing.T) {
	pool := NewContextPool(newTestConn(t, memory.Options{SessionMax: 1}), 4, nil)
	defer pool.Close()

	ctx, err := pool.Get()
	require.NoError(t, err)
	_, err = pool.Get()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 1, pool.Len())

	pool.Put(ctx)
	again, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, ctx, again)
	pool.Put(again)
}

func TestContextPoolConcurrent(t *testing.T) {
	pool := NewContextPool(newTestConn(t, memory.NewDefaultOptions()), 16, nil)
	defer pool.Close()

	var (
		mu    sync.Mutex
		inUse = map[*OperationContext]bool{}
	)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				ctx, err := pool.Get()
				if err != nil {
					return err
				}
				mu.Lock()
				shared := inUse[ctx]
				inUse[ctx] = true
				mu.Unlock()
				assert.False(t, shared, "context lent twice")

				mu.Lock()
				inUse[ctx] = false
				mu.Unlock()
				pool.Put(ctx)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, pool.Len(), 8)
}

func TestOperationContextCursorFor(t *testing.T) {
	conn := newTestConn(t, memory.NewDefaultOptions())
	s, err := conn.OpenSession(engine.SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(engine.TableURI("cf1")))
	require.NoError(t, s.Close())

	ctx, err := newOperationContext(conn)
	require.NoError(t, err)

	primary, err := ctx.CursorFor(0, engine.PrimaryURI)
	require.NoError(t, err)
	assert.Same(t, ctx.Cursor(), primary)

	c1, err := ctx.CursorFor(1, engine.TableURI("cf1"))
	require.NoError(t, err)
	c1Again, err := ctx.CursorFor(1, engine.TableURI("cf1"))
	require.NoError(t, err)
	assert.Same(t, c1, c1Again)
	assert.Equal(t, engine.TableURI("cf1"), c1.URI())

	_, err = ctx.CursorFor(2, engine.TableURI("missing"))
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())
	_, err = ctx.CursorFor(1, engine.TableURI("cf1"))
	assert.ErrorIs(t, err, ErrInvalidState)
}
