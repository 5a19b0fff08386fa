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

package utils

import (
	"github.com/pkg/errors"
)

// Status kinds. Every error surfaced by the store wraps exactly one of the
// first four, so callers classify with errors.Is.
var (
	// ErrKeyNotFound is returned when a lookup misses. It is a negative
	// result, not a failure.
	ErrKeyNotFound = errors.New("key not found")
	// ErrIO covers translated engine failures.
	ErrIO = errors.New("io error")
	// ErrInvalidState is returned when operating on a closed context, a
	// released snapshot or an invalid iterator.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotSupported is returned for operations the engine cannot perform.
	ErrNotSupported = errors.New("not supported")
)

var (
	// ErrEmptyKey is returned if an empty key is passed on an update function.
	ErrEmptyKey = errors.WithMessage(ErrInvalidState, "key cannot be empty")
	// ErrDBClosed is returned when the store has been closed.
	ErrDBClosed = errors.WithMessage(ErrInvalidState, "db closed")
	// ErrIteratorInvalid is raised when Key or Value is read from an
	// unpositioned iterator.
	ErrIteratorInvalid = errors.WithMessage(ErrInvalidState, "iterator is not positioned")
	// ErrSnapshotInUse is returned when one snapshot is used from two
	// goroutines at once.
	ErrSnapshotInUse = errors.WithMessage(ErrInvalidState, "snapshot is in use by another goroutine")
	// ErrColumnFamilyNotFound is returned for unknown or dropped column families.
	ErrColumnFamilyNotFound = errors.WithMessage(ErrInvalidState, "column family not found")
)

// Panic panics if err is not nil.
func Panic(err error) {
	if err != nil {
		panic(err)
	}
}

// CondPanic panics with err when condition holds.
func CondPanic(condition bool, err error) {
	if condition {
		Panic(err)
	}
}

// AssertTrue panics when b is false.
func AssertTrue(b bool) {
	if !b {
		panic(errors.Errorf("Assert failed"))
	}
}

// Kind reports which status kind err belongs to, or nil for a nil error.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrKeyNotFound):
		return ErrKeyNotFound
	case errors.Is(err, ErrInvalidState):
		return ErrInvalidState
	case errors.Is(err, ErrNotSupported):
		return ErrNotSupported
	default:
		return ErrIO
	}
}
