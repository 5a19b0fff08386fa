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

package memory

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/hardcore-os/sessionkv/utils"
)

// oracle tracks in-flight transactions and recent commits for write-write
// conflict detection. All methods must be called with Conn.mu held.
type oracle struct {
	detectConflicts bool

	// pending counts in-flight transactions per read sequence.
	pending map[uint64]int

	// committedTxns holds the fingerprints written at each sequence, for as
	// long as some in-flight transaction started before it.
	committedTxns  []committedTxn
	lastCleanupSeq uint64
}

type committedTxn struct {
	seq          uint64
	conflictKeys map[uint64]struct{}
}

func newOracle(detectConflicts bool) *oracle {
	return &oracle{
		detectConflicts: detectConflicts,
		pending:         make(map[uint64]int),
	}
}

func fingerprint(uri string, key []byte) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(uri)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(key)
	return d.Sum64()
}

func (o *oracle) beginRead(seq uint64) {
	o.pending[seq]++
}

func (o *oracle) doneRead(t *txn) {
	if t.doneRead {
		return
	}
	t.doneRead = true
	if n := o.pending[t.readSeq]; n <= 1 {
		delete(o.pending, t.readSeq)
	} else {
		o.pending[t.readSeq] = n - 1
	}
	o.cleanupCommittedTransactions()
}

// hasConflict reports whether a commit after t began wrote a key t wrote.
func (o *oracle) hasConflict(t *txn) bool {
	if !o.detectConflicts || len(t.conflictKeys) == 0 {
		return false
	}
	for _, committed := range o.committedTxns {
		// Committed before t took its view, so t already sees it.
		if committed.seq <= t.readSeq {
			continue
		}
		for fp := range t.conflictKeys {
			if _, has := committed.conflictKeys[fp]; has {
				return true
			}
		}
	}
	return false
}

func (o *oracle) recordCommit(seq uint64, keys map[uint64]struct{}) {
	// Nobody in flight can conflict with it.
	if !o.detectConflicts || len(o.pending) == 0 || len(keys) == 0 {
		return
	}
	o.committedTxns = append(o.committedTxns, committedTxn{seq: seq, conflictKeys: keys})
}

func (o *oracle) oldestPending() uint64 {
	oldest := uint64(math.MaxUint64)
	for seq := range o.pending {
		if seq < oldest {
			oldest = seq
		}
	}
	return oldest
}

func (o *oracle) cleanupCommittedTransactions() {
	if !o.detectConflicts {
		return
	}
	if len(o.pending) == 0 {
		o.committedTxns = o.committedTxns[:0]
		return
	}
	maxReadSeq := o.oldestPending()
	utils.AssertTrue(maxReadSeq >= o.lastCleanupSeq)
	if maxReadSeq == o.lastCleanupSeq {
		return
	}
	o.lastCleanupSeq = maxReadSeq

	tmp := o.committedTxns[:0]
	for _, committed := range o.committedTxns {
		if committed.seq <= maxReadSeq {
			continue
		}
		tmp = append(tmp, committed)
	}
	o.committedTxns = tmp
}
