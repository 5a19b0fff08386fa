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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCatalogRecord(t *testing.T) {
	rec := catalogRecord{name: "users", id: 7, created: time.Now().UnixNano()}
	got, err := decodeCatalogRecord(rec.encode())
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCatalogRecordSkipsUnknownFields(t *testing.T) {
	b := catalogRecord{name: "users", id: 7, created: 42}.encode()
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 10, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)

	got, err := decodeCatalogRecord(b)
	require.NoError(t, err)
	assert.Equal(t, catalogRecord{name: "users", id: 7, created: 42}, got)
}

func TestCatalogRecordRejectsBadInput(t *testing.T) {
	full := catalogRecord{name: "users", id: 7, created: 42}.encode()
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", full[:len(full)-1]},
		{"cut name", full[:4]},
		{"zero id", catalogRecord{name: "users", id: 0}.encode()},
		{"no name", protowire.AppendVarint(protowire.AppendTag(nil, catalogFieldID, protowire.VarintType), 3)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeCatalogRecord(tc.data)
			assert.ErrorIs(t, err, errBadCatalogRecord)
		})
	}
}
