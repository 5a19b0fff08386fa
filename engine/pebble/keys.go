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

package pebble

import (
	"bytes"
	"encoding/binary"

	"github.com/hardcore-os/sessionkv/utils"
)

// Every table shares one pebble keyspace:
//
//	0x00 uri                          table registration
//	0x01 uvarint(len(uri)) uri key    table data
//
// The length prefix keeps one table's range from containing another's.
const (
	metaTag byte = 0x00
	dataTag byte = 0x01
)

func metaKey(uri string) []byte {
	k := make([]byte, 0, 1+len(uri))
	k = append(k, metaTag)
	return append(k, uri...)
}

func metaBounds() (lo, hi []byte) {
	return []byte{metaTag}, []byte{dataTag}
}

func tablePrefix(uri string) []byte {
	p := make([]byte, 0, 1+binary.MaxVarintLen64+len(uri))
	p = append(p, dataTag)
	p = binary.AppendUvarint(p, uint64(len(uri)))
	return append(p, uri...)
}

func dataKey(prefix, key []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(key))
	k = append(k, prefix...)
	return append(k, key...)
}

// tableBounds returns the pebble range covering [start, end) of a table.
// Nil bounds are open.
func tableBounds(prefix, start, end []byte) (lo, hi []byte) {
	lo = dataKey(prefix, start)
	if end == nil {
		hi = utils.PrefixSuccessor(prefix)
	} else {
		hi = dataKey(prefix, end)
	}
	return lo, hi
}

func userKey(prefix, k []byte) []byte {
	utils.CondPanic(!bytes.HasPrefix(k, prefix), errKeyOutsideTable)
	return utils.Copy(k[len(prefix):])
}
