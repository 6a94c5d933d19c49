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

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Counters is a snapshot of cache outcomes.
type Counters struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Sets          uint64 `json:"sets"`
	Invalidations uint64 `json:"invalidations"`
	Errors        uint64 `json:"errors"`
}

// Requests is hits plus misses.
func (c Counters) Requests() uint64 {
	return c.Hits + c.Misses
}

// HitRate is hits / (hits + misses), or 0 before the first lookup.
func (c Counters) HitRate() float64 {
	total := c.Requests()
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// HitRatePercent formats HitRate for status pages, e.g. "87.50%".
func (c Counters) HitRatePercent() string {
	return fmt.Sprintf("%.2f%%", c.HitRate()*100)
}

// Add returns the field-wise sum of c and d.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		Hits:          c.Hits + d.Hits,
		Misses:        c.Misses + d.Misses,
		Sets:          c.Sets + d.Sets,
		Invalidations: c.Invalidations + d.Invalidations,
		Errors:        c.Errors + d.Errors,
	}
}

// Sub returns the field-wise difference c - d. Counters are monotonic, so d
// is always an earlier snapshot of the same collector.
func (c Counters) Sub(d Counters) Counters {
	return Counters{
		Hits:          c.Hits - d.Hits,
		Misses:        c.Misses - d.Misses,
		Sets:          c.Sets - d.Sets,
		Invalidations: c.Invalidations - d.Invalidations,
		Errors:        c.Errors - d.Errors,
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Collector holds this process's counters. Nothing here is shared between
// processes; Flush publishes deltas to the store's shared counters file.
type Collector struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	sets          atomic.Uint64
	invalidations atomic.Uint64
	errors        atomic.Uint64

	flushMu sync.Mutex
	flushed Counters
}

func (c *Collector) Hit()   { c.hits.Add(1) }
func (c *Collector) Miss()  { c.misses.Add(1) }
func (c *Collector) Set()   { c.sets.Add(1) }
func (c *Collector) Error() { c.errors.Add(1) }

// Invalidated records n removed entries.
func (c *Collector) Invalidated(n int) {
	if n > 0 {
		c.invalidations.Add(uint64(n))
	}
}

// Snapshot returns the current process-local counts.
func (c *Collector) Snapshot() Counters {
	return Counters{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errors.Load(),
	}
}

// Pending returns counts not yet published by Flush.
func (c *Collector) Pending() Counters {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.Snapshot().Sub(c.flushed)
}

// Flush merges everything counted since the previous Flush into the shared
// counters file.
func (c *Collector) Flush(ctx context.Context, store *FileStore) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	cur := c.Snapshot()
	delta := cur.Sub(c.flushed)
	if delta.IsZero() {
		return nil
	}
	if _, err := store.MergeStats(ctx, delta); err != nil {
		return err
	}
	c.flushed = cur
	return nil
}
