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

// Status kinds. Test with errors.Is.
var (
	ErrNotFound     = utils.ErrKeyNotFound
	ErrIO           = utils.ErrIO
	ErrInvalidState = utils.ErrInvalidState
	ErrNotSupported = utils.ErrNotSupported

	ErrEmptyKey             = utils.ErrEmptyKey
	ErrDBClosed             = utils.ErrDBClosed
	ErrSnapshotInUse        = utils.ErrSnapshotInUse
	ErrColumnFamilyNotFound = utils.ErrColumnFamilyNotFound
)
