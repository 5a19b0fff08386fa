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

package utils

import (
	"sync"
)

// Closer signals background goroutines to stop and waits for them.
type Closer struct {
	waiting     sync.WaitGroup
	once        sync.Once
	CloseSignal chan struct{}
}

// NewCloser _
func NewCloser() *Closer {
	return &Closer{CloseSignal: make(chan struct{})}
}

// Close signals downstream goroutines and waits until all have called Done.
// Calling it more than once is safe.
func (c *Closer) Close() {
	c.once.Do(func() { close(c.CloseSignal) })
	c.waiting.Wait()
}

// Done marks one goroutine as finished.
func (c *Closer) Done() {
	c.waiting.Done()
}

// Add adds n to the wait count.
func (c *Closer) Add(n int) {
	c.waiting.Add(n)
}
