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
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// catalogRecord describes one column family. It is stored under the family
// name in the catalog table, in protobuf wire format:
//
//	1: name    bytes
//	2: id      varint
//	3: created varint, unix nanoseconds
type catalogRecord struct {
	name    string
	id      uint32
	created int64
}

const (
	catalogFieldName    protowire.Number = 1
	catalogFieldID      protowire.Number = 2
	catalogFieldCreated protowire.Number = 3
)

var errBadCatalogRecord = errors.New("malformed catalog record")

func (r catalogRecord) encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, catalogFieldName, protowire.BytesType)
	b = protowire.AppendString(b, r.name)
	b = protowire.AppendTag(b, catalogFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.id))
	b = protowire.AppendTag(b, catalogFieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.created))
	return b
}

func badRecord(n int) error {
	return errors.WithMessage(errBadCatalogRecord, protowire.ParseError(n).Error())
}

// decodeCatalogRecord parses a record, skipping unknown fields.
func decodeCatalogRecord(b []byte) (catalogRecord, error) {
	var (
		r       catalogRecord
		hasName bool
		hasID   bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, badRecord(n)
		}
		b = b[n:]
		switch {
		case num == catalogFieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, badRecord(n)
			}
			r.name, hasName = v, true
			b = b[n:]
		case num == catalogFieldID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, badRecord(n)
			}
			r.id, hasID = uint32(v), true
			b = b[n:]
		case num == catalogFieldCreated && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, badRecord(n)
			}
			r.created = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, badRecord(n)
			}
			b = b[n:]
		}
	}
	if !hasName || !hasID || r.id == 0 {
		return r, errBadCatalogRecord
	}
	return r, nil
}
