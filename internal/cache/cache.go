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

// Package cache provides the on-disk TTL cache that sits between the web
// front end and the door controller API.
//
// Design Principles:
// 1. Fail open - a cache malfunction degrades to a miss, never to an error
// 2. Per-key locking - unrelated keys never contend
// 3. Atomic replace - a key is either a complete entry or absent on disk
//
// The Cache facade is the only place errors are swallowed. Everything below it
// (FileStore, the entry codec, Policy) returns errors wrapped around the
// sentinels in internal/common.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"doorcache/internal/common"
	"doorcache/internal/keys"
)

// Config holds everything the cache needs from settings.
type Config struct {
	Enabled       bool
	Directory     string
	DefaultTTL    time.Duration
	LockTimeout   time.Duration
	SweepInterval time.Duration
	Classes       []Class
}

// Option customizes a Cache at construction.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache is the fail-open facade over FileStore. All methods are safe for
// concurrent use, and from multiple processes sharing one directory.
type Cache struct {
	cfg     Config
	enabled bool
	store   *FileStore
	policy  *Policy
	stats   Collector
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a cache from cfg. It never fails: if the directory cannot be
// prepared or the TTL configuration is invalid, the cache logs the problem
// and runs disabled.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	c := &Cache{
		cfg:     cfg,
		enabled: cfg.Enabled,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	policy, err := NewPolicy(cfg.DefaultTTL, cfg.Classes...)
	if err != nil {
		log.Errorf("[CACHE] invalid ttl configuration, caching disabled: %v", err)
		c.enabled = false
		policy, _ = NewPolicy(DefaultTTL)
	}
	c.policy = policy

	if c.enabled {
		store, err := OpenFileStore(cfg.Directory, cfg.LockTimeout)
		if err != nil {
			log.Errorf("[CACHE] failed to create cache directory, caching disabled: %v", err)
			c.enabled = false
		} else {
			c.store = store
			log.Infof("[CACHE] initialized at %s", store.Dir())
		}
	}

	c.startJanitor(cfg.SweepInterval)
	return c
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Policy exposes the TTL policy, e.g. for callers choosing a ttl by class.
func (c *Cache) Policy() *Policy {
	return c.policy
}

// fail logs err with its context and counts it.
func (c *Cache) fail(op, key string, err error) {
	c.stats.Error()
	log.WithFields(log.Fields{
		"op":   op,
		"key":  key,
		"kind": common.KindOf(err),
	}).Errorf("[CACHE] %s failed: %v", op, err)
}

// lookup is the shared read path. maxAge > 0 tightens the entry's expiry.
func (c *Cache) lookup(op, key string, maxAge time.Duration) (json.RawMessage, bool) {
	if !c.enabled {
		return nil, false
	}
	ctx := context.Background()

	data, found, err := c.store.Read(ctx, key)
	if err != nil {
		c.fail(op, key, err)
		return nil, false
	}
	if !found {
		c.stats.Miss()
		log.Debugf("[CACHE] MISS %s (not found)", key)
		return nil, false
	}

	entry, err := DecodeEntry(data)
	if err != nil {
		c.fail(op, key, err)
		return nil, false
	}
	if entry.Key != key {
		// Two keys that sanitize to the same file name.
		c.stats.Miss()
		log.Debugf("[CACHE] MISS %s (file holds %q)", key, entry.Key)
		return nil, false
	}

	now := c.now()
	if c.policy.IsStale(entry, now, maxAge) {
		c.stats.Miss()
		if c.policy.IsExpired(entry, now) {
			log.Debugf("[CACHE] MISS %s (expired)", key)
			c.dropExpired(ctx, key, now)
		} else {
			log.Debugf("[CACHE] MISS %s (older than %v)", key, maxAge)
		}
		return nil, false
	}

	c.stats.Hit()
	log.Debugf("[CACHE] HIT %s", key)
	return entry.Data, true
}

// dropExpired lazily removes an expired file. The entry is re-checked under
// the key's exclusive lock so a fresh write that raced in is kept.
func (c *Cache) dropExpired(ctx context.Context, key string, now time.Time) {
	_, err := c.store.RemoveIf(ctx, key, func(data []byte) bool {
		e, err := DecodeEntry(data)
		return err == nil && c.policy.IsExpired(e, now)
	})
	if err != nil {
		log.Warnf("[CACHE] failed to drop expired %s: %v", key, err)
	}
}

// Get returns the cached value for key decoded into its generic JSON form
// (map[string]any, []any, string, json.Number, bool).
func (c *Cache) Get(key string) (any, bool) {
	return c.GetFresh(key, 0)
}

// GetFresh is Get with a caller-imposed maximum age. An entry older than
// maxAge is a miss even if its own TTL has not run out.
// Numbers come back as json.Number so large integer ids survive intact.
func (c *Cache) GetFresh(key string, maxAge time.Duration) (any, bool) {
	raw, ok := c.lookup("get", key, maxAge)
	if !ok {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		c.fail("get", key, err)
		return nil, false
	}
	return v, true
}

// GetInto decodes the cached value for key into out, which must be a
// pointer. It reports false on a miss or if the value does not fit out.
func (c *Cache) GetInto(key string, out any) bool {
	raw, ok := c.lookup("get", key, 0)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.fail("get", key, err)
		return false
	}
	return true
}

// GetRaw returns the cached JSON payload for key without decoding it.
func (c *Cache) GetRaw(key string) (json.RawMessage, bool) {
	return c.lookup("get", key, 0)
}

// Set stores value under key. ttl <= 0 resolves the TTL from the key's class
// or the default. It reports whether the value was stored; on false the
// caller simply carries on uncached.
func (c *Cache) Set(key string, value any, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}
	ttl = c.policy.TTLFor(key, ttl)

	entry, err := NewEntry(key, value, ttl, c.now())
	if err != nil {
		c.fail("set", key, err)
		return false
	}
	data, err := EncodeEntry(entry)
	if err != nil {
		c.fail("set", key, err)
		return false
	}
	if err := c.store.Write(context.Background(), key, data); err != nil {
		c.fail("set", key, err)
		return false
	}

	c.stats.Set()
	log.Debugf("[CACHE] SET %s, TTL: %v", key, ttl)
	return true
}

// Invalidate removes key. It reports whether an entry was actually removed;
// an absent key is not a failure.
func (c *Cache) Invalidate(key string) bool {
	if !c.enabled {
		return false
	}
	removed, err := c.store.Remove(context.Background(), key)
	if err != nil {
		c.fail("invalidate", key, err)
		return false
	}
	if removed {
		c.stats.Invalidated(1)
		log.Debugf("[CACHE] INVALIDATE %s", key)
	} else {
		log.Debugf("[CACHE] INVALIDATE %s (not found)", key)
	}
	return removed
}

// InvalidateKeys removes keys one at a time in the order given and returns
// how many entries were removed. List the most granular key first and the
// most aggregate key last.
func (c *Cache) InvalidateKeys(keys ...string) int {
	n := 0
	for _, k := range keys {
		if c.Invalidate(k) {
			n++
		}
	}
	return n
}

// InvalidatePattern removes every entry whose key matches glob ('*' matches
// any run of characters) and returns the number removed.
func (c *Cache) InvalidatePattern(glob string) int {
	if !c.enabled {
		return 0
	}
	p, err := CompilePattern(glob)
	if err != nil {
		c.fail("invalidate_pattern", glob, err)
		return 0
	}
	n, err := c.store.RemoveWhere(context.Background(), p.Match)
	c.stats.Invalidated(n)
	if err != nil {
		c.fail("invalidate_pattern", glob, err)
	}
	log.Debugf("[CACHE] INVALIDATE PATTERN %s (%d entries)", p, n)
	return n
}

// InvalidateFor applies the invalidation plan for one origin mutation, in
// plan order, and returns the number of entries removed.
func (c *Cache) InvalidateFor(m keys.Mutation) int {
	plan := keys.Affected(m)
	if plan.ClearAll {
		return c.ClearAll()
	}
	n := 0
	for _, t := range plan.Targets {
		if t.IsPattern() {
			n += c.InvalidatePattern(t.Pattern)
		} else if c.Invalidate(t.Key) {
			n++
		}
	}
	return n
}

// ClearAll removes every entry and returns how many were removed.
func (c *Cache) ClearAll() int {
	if !c.enabled {
		return 0
	}
	n, err := c.store.Clear(context.Background())
	c.stats.Invalidated(n)
	if err != nil {
		c.fail("clear_all", "*", err)
	}
	log.Infof("[CACHE] CLEAR ALL: %d entries removed", n)
	return n
}

// Status is the administrative view of the cache.
type Status struct {
	Enabled  bool   `json:"enabled"`
	CacheDir string `json:"cache_dir"`

	// Process counters cover only this OS process since it started.
	Scope   string   `json:"scope"`
	PID     int      `json:"pid"`
	Process Counters `json:"process"`

	// Shared counters aggregate every process that has flushed, plus this
	// process's unflushed counts. Nil if the shared file could not be read.
	Shared *Counters `json:"shared,omitempty"`

	TotalRequests  uint64  `json:"total_requests"`
	HitRate        float64 `json:"hit_rate"`
	HitRatePercent string  `json:"hit_rate_percent"`

	FileCount      int    `json:"file_count"`
	TotalSizeBytes int64  `json:"cache_size_bytes"`
	CacheSizeMB    string `json:"cache_size_mb"`
}

// Stats reports counters and directory metrics.
func (c *Cache) Stats() Status {
	proc := c.stats.Snapshot()
	st := Status{
		Enabled:        c.enabled,
		CacheDir:       c.cfg.Directory,
		Scope:          "process",
		PID:            os.Getpid(),
		Process:        proc,
		TotalRequests:  proc.Requests(),
		HitRate:        proc.HitRate(),
		HitRatePercent: proc.HitRatePercent(),
		CacheSizeMB:    "0.00",
	}
	if !c.enabled {
		return st
	}
	st.CacheDir = c.store.Dir()
	ctx := context.Background()

	infos, err := c.store.ListAll(ctx)
	if err != nil {
		c.fail("stats", "*", err)
	}
	for _, fi := range infos {
		st.FileCount++
		st.TotalSizeBytes += fi.Size
	}
	st.CacheSizeMB = formatMB(st.TotalSizeBytes)

	shared, err := c.store.ReadStats(ctx)
	if err != nil {
		log.Warnf("[CACHE] shared counters unavailable: %v", err)
	} else {
		shared = shared.Add(c.stats.Pending())
		st.Shared = &shared
	}
	return st
}

// FlushStats publishes this process's counters to the shared counters file.
func (c *Cache) FlushStats() error {
	if !c.enabled {
		return nil
	}
	return c.stats.Flush(context.Background(), c.store)
}

// Close stops the janitor and flushes counters.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
	return c.FlushStats()
}
