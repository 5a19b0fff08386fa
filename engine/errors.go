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

package engine

import (
	"fmt"

	"github.com/hardcore-os/sessionkv/utils"
	"github.com/pkg/errors"
)

// Code is an engine return code. Zero means success.
type Code int

const (
	OK Code = 0

	Rollback     Code = -31800
	DuplicateKey Code = -31801
	Generic      Code = -31802
	NotFound     Code = -31803
	Panic        Code = -31804

	Busy         Code = 16
	Invalid      Code = 22
	NotSupported Code = 95
	Closed       Code = 9
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Rollback:
		return "conflict between concurrent operations"
	case DuplicateKey:
		return "attempt to insert an existing key"
	case Generic:
		return "non-specific engine error"
	case NotFound:
		return "item not found"
	case Panic:
		return "engine panic, restart required"
	case Busy:
		return "resource busy"
	case Invalid:
		return "invalid argument"
	case NotSupported:
		return "operation not supported"
	case Closed:
		return "handle is closed"
	default:
		return fmt.Sprintf("engine code %d", int(c))
	}
}

// Error is an engine failure carrying its return code.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error for op with an optional formatted detail.
func Errorf(code Code, op string, format string, args ...interface{}) error {
	e := &Error{Code: code, Op: op}
	if format != "" {
		e.Err = errors.Errorf(format, args...)
	}
	return e
}

// Wrap attaches code to a driver error. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the engine code from err. Errors that carry no code
// count as Generic.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Generic
}

// IsNotFound reports whether err carries the NotFound code.
func IsNotFound(err error) bool {
	return CodeOf(err) == NotFound
}

// TranslateError maps an engine code to the store's status kinds.
func TranslateError(code Code, msg string) error {
	var kind error
	switch code {
	case OK:
		return nil
	case NotFound:
		kind = utils.ErrKeyNotFound
	case Invalid, Closed:
		kind = utils.ErrInvalidState
	case NotSupported:
		kind = utils.ErrNotSupported
	default:
		kind = utils.ErrIO
	}
	if msg == "" {
		msg = code.String()
	}
	return errors.WithMessage(kind, msg)
}

// Translate runs TranslateError on the code carried by err, keeping err's
// text as the message. An error without a code that is already a status
// kind passes through.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) && utils.Kind(err) != utils.ErrIO {
		return err
	}
	return TranslateError(CodeOf(err), err.Error())
}
