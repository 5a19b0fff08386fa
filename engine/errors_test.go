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
	"testing"

	"github.com/hardcore-os/sessionkv/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		code Code
		want error
	}{
		{NotFound, utils.ErrKeyNotFound},
		{Invalid, utils.ErrInvalidState},
		{Closed, utils.ErrInvalidState},
		{NotSupported, utils.ErrNotSupported},
		{Rollback, utils.ErrIO},
		{Busy, utils.ErrIO},
		{Generic, utils.ErrIO},
		{Panic, utils.ErrIO},
		{Code(-1), utils.ErrIO},
	}
	for _, tc := range tests {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := TranslateError(tc.code, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.want, utils.Kind(err))
			assert.Contains(t, err.Error(), tc.code.String())
		})
	}
	assert.NoError(t, TranslateError(OK, "ignored"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, Generic, CodeOf(errors.New("plain")))

	err := Errorf(Busy, "open_session", "limit %d reached", 3)
	assert.Equal(t, Busy, CodeOf(err))
	assert.Equal(t, Busy, CodeOf(errors.Wrap(err, "outer")))
	assert.Contains(t, err.Error(), "limit 3 reached")
	assert.True(t, IsNotFound(Errorf(NotFound, "search", "")))

	assert.Nil(t, Wrap(Generic, "op", nil))
	cause := errors.New("disk on fire")
	wrapped := Wrap(Generic, "commit", cause)
	assert.ErrorIs(t, wrapped, cause)

	translated := Translate(wrapped)
	assert.ErrorIs(t, translated, utils.ErrIO)
	assert.Contains(t, translated.Error(), "disk on fire")
	assert.Nil(t, Translate(nil))

	status := errors.WithMessage(utils.ErrInvalidState, "context closed")
	assert.Equal(t, status, Translate(status))
}

func TestTableURI(t *testing.T) {
	assert.Equal(t, "table:users", TableURI("users"))
	assert.Equal(t, "users", TableName("table:users"))
	assert.Equal(t, "data", TableName(PrimaryURI))
	assert.Equal(t, "snapshot", Snapshot.String())
}
