// Copyright 2026 DoorCache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import "time"

// Fetch implements the read-through pattern: return the cached value for key
// if there is one, otherwise call fetch, cache its result for ttl (or the
// key's policy TTL when ttl <= 0) and return it. Cache failures never reach
// the caller; only fetch's own error does.
func Fetch[T any](c *Cache, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	var v T
	if c.GetInto(key, &v) {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
