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
	"github.com/google/uuid"
	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
)

// OperationContext owns one engine session and a cursor on the primary
// table. Only one goroutine uses it at a time.
type OperationContext struct {
	id      uuid.UUID
	session engine.Session
	cursor  engine.Cursor
	// cursors on column family tables, indexed by family id
	cursors []engine.Cursor
	closed  bool
}

// newOperationContext opens a session and its primary cursor. Nothing is
// left open on failure.
func newOperationContext(conn engine.Connection) (*OperationContext, error) {
	s, err := conn.OpenSession(engine.SessionConfig{Isolation: engine.Snapshot})
	if err != nil {
		return nil, errors.Wrap(engine.Translate(err), "open session")
	}
	c, err := s.OpenCursor(engine.PrimaryURI)
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(engine.Translate(err), "open primary cursor")
	}
	ctx := &OperationContext{id: uuid.New(), session: s, cursor: c}
	log.DB.Debug().Str("ctx", ctx.id.String()).Msg("operation context opened")
	return ctx, nil
}

func (ctx *OperationContext) ID() uuid.UUID { return ctx.id }

func (ctx *OperationContext) Session() engine.Session { return ctx.session }

// Cursor returns the cursor on the primary table.
func (ctx *OperationContext) Cursor() engine.Cursor { return ctx.cursor }

// CursorFor returns the cursor for column family id, opening it on uri the
// first time.
func (ctx *OperationContext) CursorFor(id uint32, uri string) (engine.Cursor, error) {
	if ctx.closed {
		return nil, errors.WithMessage(ErrInvalidState, "operation context closed")
	}
	if id == 0 {
		return ctx.cursor, nil
	}
	if int(id) < len(ctx.cursors) {
		if c := ctx.cursors[id]; c != nil && c.URI() == uri {
			return c, nil
		}
	}
	c, err := ctx.session.OpenCursor(uri)
	if err != nil {
		return nil, engine.Translate(err)
	}
	for int(id) >= len(ctx.cursors) {
		ctx.cursors = append(ctx.cursors, nil)
	}
	if old := ctx.cursors[id]; old != nil {
		_ = old.Close()
	}
	ctx.cursors[id] = c
	return c, nil
}

// reset leaves the context as a fresh one: no transaction and no
// positioned cursor.
func (ctx *OperationContext) reset() error {
	if ctx.closed {
		return errors.WithMessage(ErrInvalidState, "operation context closed")
	}
	if err := ctx.session.RollbackTransaction(); err != nil {
		return engine.Translate(err)
	}
	if err := ctx.cursor.Reset(); err != nil {
		return engine.Translate(err)
	}
	for _, c := range ctx.cursors {
		if c == nil {
			continue
		}
		if err := c.Reset(); err != nil {
			return engine.Translate(err)
		}
	}
	return nil
}

// Close closes the session and with it every cursor. Later calls are no-ops.
func (ctx *OperationContext) Close() error {
	if ctx.closed {
		return nil
	}
	ctx.closed = true
	ctx.cursors = nil
	log.DB.Debug().Str("ctx", ctx.id.String()).Msg("operation context closed")
	return engine.Translate(ctx.session.Close())
}
