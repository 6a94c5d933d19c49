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
	"time"

	log "github.com/sirupsen/logrus"
)

// staleTempAge is how old an orphaned temp file must be before a sweep
// deletes it. Live writes finish in well under this.
const staleTempAge = time.Minute

// Sweep deletes expired and unreadable entries, prunes orphaned temp files
// and publishes counters. Expired entries are harmless (reads treat them as
// absent); sweeping only reclaims disk space. Returns the entries removed.
func (c *Cache) Sweep() int {
	if !c.enabled {
		return 0
	}
	ctx := context.Background()
	now := c.now()

	infos, err := c.store.ListAll(ctx)
	if err != nil {
		c.fail("sweep", "*", err)
		return 0
	}
	removed := 0
	for _, fi := range infos {
		ok, err := c.store.RemoveIf(ctx, fi.Key, func(data []byte) bool {
			e, err := DecodeEntry(data)
			return err != nil || c.policy.IsExpired(e, now)
		})
		if err != nil {
			log.Warnf("[CACHE] sweep %s: %v", fi.Key, err)
			continue
		}
		if ok {
			removed++
		}
	}

	if pruned, err := c.store.PruneTemp(ctx, staleTempAge, now); err != nil {
		log.Warnf("[CACHE] sweep temp files: %v", err)
	} else if pruned > 0 {
		log.Debugf("[CACHE] sweep pruned %d temp files", pruned)
	}

	if err := c.FlushStats(); err != nil {
		log.Warnf("[CACHE] flush counters: %v", err)
	}
	log.Debugf("[CACHE] SWEEP: %d expired entries removed", removed)
	return removed
}

// startJanitor runs Sweep every interval until Close. With a non-positive
// interval, or when disabled, expiry stays purely lazy.
func (c *Cache) startJanitor(interval time.Duration) {
	if interval <= 0 || !c.enabled {
		close(c.doneCh)
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func formatMB(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/1024/1024)
}
