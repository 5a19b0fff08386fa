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

// Package engine defines the session/cursor/transaction contract that the
// store is built on. Concrete engines live in the subpackages.
package engine

import "strings"

const (
	// TablePrefix starts every table URI.
	TablePrefix = "table:"
	// PrimaryURI is the table behind the default keyspace.
	PrimaryURI = TablePrefix + "data"
)

// TableURI returns the URI for a named table.
func TableURI(name string) string {
	return TablePrefix + name
}

// TableName strips the table prefix from uri.
func TableName(uri string) string {
	return strings.TrimPrefix(uri, TablePrefix)
}

// Isolation is the read consistency of a session or transaction.
type Isolation uint8

const (
	// ReadCommitted reads the latest committed data on every positioning call.
	ReadCommitted Isolation = iota
	// Snapshot reads a fixed view taken when the transaction began.
	Snapshot
)

func (i Isolation) String() string {
	switch i {
	case ReadCommitted:
		return "read-committed"
	case Snapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// SessionConfig configures a new session.
type SessionConfig struct {
	// Isolation applies to transactions begun without an explicit level.
	Isolation Isolation
}

// TxnConfig configures BeginTransaction.
type TxnConfig struct {
	Isolation Isolation
}

// CommitConfig configures CommitTransaction.
type CommitConfig struct {
	// Sync forces the commit to stable storage before returning.
	Sync bool
}

// Connection is an open engine. It is safe for concurrent use and hands
// out sessions.
type Connection interface {
	OpenSession(cfg SessionConfig) (Session, error)
	// Close closes every session still open and then the engine.
	Close() error
}

// Session is a workspace from which cursors and transactions are created.
// A session and its cursors must only be used by one goroutine at a time.
type Session interface {
	OpenCursor(uri string) (Cursor, error)

	// BeginTransaction starts a transaction. Cursor reads inside it follow
	// cfg.Isolation and cursor writes are buffered until commit.
	BeginTransaction(cfg TxnConfig) error
	// CommitTransaction applies buffered writes atomically. A write-write
	// conflict yields a Rollback code and discards the transaction.
	CommitTransaction(cfg CommitConfig) error
	// RollbackTransaction discards the transaction. It is a no-op without one.
	RollbackTransaction() error
	InTransaction() bool

	// CreateTable creates uri unless it already exists.
	CreateTable(uri string) error
	// DropTable removes uri and its data. Dropping a missing table yields NotFound.
	DropTable(uri string) error
	// Compact compacts [start, end) of uri; nil bounds are open.
	Compact(uri string, start, end []byte) error

	// Close rolls back an open transaction, closes every cursor and then
	// the session. Later calls return nil.
	Close() error
}

// Cursor is a positionable handle over one table. Writes through a cursor
// autocommit unless the owning session has a transaction open.
type Cursor interface {
	URI() string

	// Search positions the cursor on key, or returns NotFound and leaves
	// it unpositioned.
	Search(key []byte) error
	// SearchNear positions the cursor on key or a neighbour. exact is 0 on
	// a match, negative when the cursor landed on a smaller key and
	// positive when it landed on a larger one. An empty table yields NotFound.
	SearchNear(key []byte) (exact int, err error)
	// Next moves forward; from the unpositioned state it moves to the first
	// key. Past the end it returns NotFound and the cursor is reset.
	Next() error
	// Prev moves backward; from the unpositioned state it moves to the last
	// key. Past the start it returns NotFound and the cursor is reset.
	Prev() error

	// Key and Value return copies of the current entry. They fail with
	// Invalid when the cursor is unpositioned.
	Key() ([]byte, error)
	Value() ([]byte, error)

	// Insert stores key/value, overwriting an existing entry.
	Insert(key, value []byte) error
	// Remove deletes key. A missing key is not an error.
	Remove(key []byte) error

	// Reset unpositions the cursor and releases any view it pinned.
	Reset() error
	Close() error
}

// Sizer is implemented by connections that can estimate stored bytes.
type Sizer interface {
	ApproximateSize(uri string, start, end []byte) (uint64, error)
}

// Flusher is implemented by connections that buffer writes in memory.
type Flusher interface {
	Flush() error
}
