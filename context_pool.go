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

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
)

// ContextPool lends operation contexts. A borrowed context belongs to the
// caller alone until it is handed back with Put, so two concurrent callers
// never share a session or cursor.
type ContextPool struct {
	conn    engine.Connection
	maxIdle int
	onNew   func()

	mu     sync.Mutex
	idle   []*OperationContext
	live   map[*OperationContext]struct{}
	closed bool
}

// NewContextPool creates a pool over conn keeping at most maxIdle idle
// contexts. onNew, if set, runs for every context created.
func NewContextPool(conn engine.Connection, maxIdle int, onNew func()) *ContextPool {
	return &ContextPool{
		conn:    conn,
		maxIdle: maxIdle,
		onNew:   onNew,
		live:    make(map[*OperationContext]struct{}),
	}
}

// Get lends out an idle context, or opens a new one.
func (p *ContextPool) Get() (*OperationContext, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrDBClosed
	}
	if n := len(p.idle); n > 0 {
		ctx := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ctx, nil
	}
	p.mu.Unlock()

	ctx, err := newOperationContext(p.conn)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = ctx.Close()
		return nil, ErrDBClosed
	}
	p.live[ctx] = struct{}{}
	p.mu.Unlock()
	if p.onNew != nil {
		p.onNew()
	}
	return ctx, nil
}

// Put hands ctx back. A context that cannot be cleaned, arrives after
// Close, or exceeds the idle limit is closed instead.
func (p *ContextPool) Put(ctx *OperationContext) {
	if ctx == nil {
		return
	}
	err := ctx.reset()

	p.mu.Lock()
	if _, ok := p.live[ctx]; !ok {
		// Already closed by Close.
		p.mu.Unlock()
		return
	}
	if err == nil && !p.closed && len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, ctx)
		p.mu.Unlock()
		return
	}
	delete(p.live, ctx)
	p.mu.Unlock()

	if err != nil {
		log.DB.Warn().Err(err).Str("ctx", ctx.id.String()).Msg("dropping operation context")
	}
	_ = ctx.Close()
}

// Len returns the number of contexts the pool has open, lent out or idle.
func (p *ContextPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Idle returns the number of idle contexts.
func (p *ContextPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes every context the pool created, including those still lent
// out. It must run before the connection is closed.
func (p *ContextPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	all := make([]*OperationContext, 0, len(p.live))
	for ctx := range p.live {
		all = append(all, ctx)
	}
	p.live = make(map[*OperationContext]struct{})
	p.idle = nil
	p.mu.Unlock()

	var first error
	for _, ctx := range all {
		if err := ctx.Close(); err != nil && first == nil {
			first = err
		}
	}
	log.DB.Debug().Int("contexts", len(all)).Msg("context pool closed")
	return first
}
