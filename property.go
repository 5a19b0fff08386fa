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
	"strconv"

	"github.com/hardcore-os/sessionkv/log"
)

// Property names understood by GetProperty.
const (
	PropertyStats        = "sessionkv.stats"
	PropertyNumSnapshots = "sessionkv.num-snapshots"
	PropertyNumContexts  = "sessionkv.num-contexts"
	PropertyFSAvailBytes = "sessionkv.fs-avail-bytes"
)

// GetProperty returns the value of a named property and whether it exists.
func (db *DB) GetProperty(name string) (string, bool) {
	if db.checkOpen() != nil {
		return "", false
	}
	switch name {
	case PropertyStats:
		return db.stats.String(), true
	case PropertyNumSnapshots:
		return strconv.Itoa(db.snapshots.Len()), true
	case PropertyNumContexts:
		return strconv.Itoa(db.pool.Len()), true
	case PropertyFSAvailBytes:
		if db.opt.Engine == EngineMemory || db.opt.Engine == "" || db.opt.InMemory {
			return "", false
		}
		n, err := fsAvailBytes(db.opt.Dir)
		if err != nil {
			log.DB.Debug().Err(err).Str("dir", db.opt.Dir).Msg("fs-avail-bytes")
			return "", false
		}
		return strconv.FormatUint(n, 10), true
	default:
		return "", false
	}
}
