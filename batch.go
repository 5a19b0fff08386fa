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

import "github.com/hardcore-os/sessionkv/utils"

// WriteBatch collects puts and deletes that DB.Write applies atomically.
// Keys and values are copied on insertion.
type WriteBatch struct {
	ops []batchOp
}

type batchOp struct {
	cf    *ColumnFamilyHandle // nil is the default family
	key   []byte
	value []byte
	del   bool
}

// BatchHandler receives the operations of a batch in insertion order.
type BatchHandler interface {
	Put(key, value []byte)
	Delete(key []byte)
}

func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func (b *WriteBatch) Put(key, value []byte) {
	b.PutCF(nil, key, value)
}

func (b *WriteBatch) Delete(key []byte) {
	b.DeleteCF(nil, key)
}

func (b *WriteBatch) PutCF(cf *ColumnFamilyHandle, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: utils.Copy(key), value: utils.Copy(value)})
}

func (b *WriteBatch) DeleteCF(cf *ColumnFamilyHandle, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: utils.Copy(key), del: true})
}

// Clear drops every operation.
func (b *WriteBatch) Clear() {
	b.ops = b.ops[:0]
}

// Count returns the number of operations.
func (b *WriteBatch) Count() int {
	return len(b.ops)
}

// Iterate replays the batch into h.
func (b *WriteBatch) Iterate(h BatchHandler) {
	for _, op := range b.ops {
		if op.del {
			h.Delete(op.key)
		} else {
			h.Put(op.key, op.value)
		}
	}
}
