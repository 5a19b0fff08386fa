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
	"sync/atomic"

	"github.com/hardcore-os/sessionkv/engine"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
)

// Snapshot is a point-in-time view: a dedicated context whose session runs
// a snapshot-isolation transaction until the snapshot is released.
//
// A snapshot has a single owner. Using one snapshot from two goroutines at
// once fails with ErrSnapshotInUse.
type Snapshot struct {
	db  *DB
	ctx *OperationContext
	err error

	inUse    atomic.Bool
	released atomic.Bool
}

func newSnapshot(db *DB) *Snapshot {
	s := &Snapshot{db: db}
	ctx, err := newOperationContext(db.conn)
	if err != nil {
		s.err = err
		return s
	}
	if err := ctx.Session().BeginTransaction(engine.TxnConfig{Isolation: engine.Snapshot}); err != nil {
		_ = ctx.Close()
		s.err = errors.Wrap(engine.Translate(err), "begin snapshot transaction")
		return s
	}
	s.ctx = ctx
	return s
}

// Err reports why the snapshot could not be set up, or nil.
func (s *Snapshot) Err() error {
	return s.err
}

// enter claims the snapshot for one read. Every successful enter is paired
// with exit.
func (s *Snapshot) enter() (*OperationContext, error) {
	if s.released.Load() {
		return nil, errors.WithMessage(ErrInvalidState, "snapshot released")
	}
	if s.err != nil {
		return nil, errors.WithMessagef(ErrInvalidState, "snapshot unusable: %v", s.err)
	}
	if !s.inUse.CompareAndSwap(false, true) {
		return nil, ErrSnapshotInUse
	}
	return s.ctx, nil
}

func (s *Snapshot) exit() {
	s.inUse.Store(false)
}

// release ends the transaction and closes the context. Later calls are
// no-ops.
func (s *Snapshot) release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	if s.ctx == nil {
		return nil
	}
	var err error
	if rerr := s.ctx.Session().RollbackTransaction(); rerr != nil {
		err = engine.Translate(rerr)
	}
	if cerr := s.ctx.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		log.DB.Warn().Err(err).Str("ctx", s.ctx.id.String()).Msg("snapshot release")
	}
	return err
}

// Release is shorthand for db.ReleaseSnapshot(s).
func (s *Snapshot) Release() error {
	return s.db.ReleaseSnapshot(s)
}
