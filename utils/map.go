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

import "sync"

// CoreMap is a typed wrapper over sync.Map.
type CoreMap[K comparable, V any] struct {
	m sync.Map
}

// NewMap
func NewMap[K comparable, V any]() *CoreMap[K, V] {
	return &CoreMap[K, V]{}
}

// Get
func (c *CoreMap[K, V]) Get(key K) (V, bool) {
	v, ok := c.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Set
func (c *CoreMap[K, V]) Set(key K, value V) {
	c.m.Store(key, value)
}

// SetIfAbsent stores value unless key is present and reports whether it stored.
func (c *CoreMap[K, V]) SetIfAbsent(key K, value V) bool {
	_, loaded := c.m.LoadOrStore(key, value)
	return !loaded
}

// Del
func (c *CoreMap[K, V]) Del(key K) {
	c.m.Delete(key)
}

// Range
func (c *CoreMap[K, V]) Range(f func(key K, value V) bool) {
	c.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len counts the entries. It walks the whole map.
func (c *CoreMap[K, V]) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
