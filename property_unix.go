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

//go:build linux || darwin

package sessionkv

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fsAvailBytes returns the bytes available to unprivileged users on the
// filesystem holding dir.
func fsAvailBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, errors.Wrapf(ErrIO, "statfs %s: %v", dir, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
