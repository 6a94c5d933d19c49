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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"doorcache/internal/common"
	"doorcache/internal/util"
)

const (
	// DefaultLockTimeout bounds how long one call waits for a key lock.
	DefaultLockTimeout = 2 * time.Second

	lockPollInterval = 10 * time.Millisecond
	statsFileName    = "counters.json"
)

// FileInfo describes one stored entry file.
type FileInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// FileStore maps keys to entry files in a single directory shared by any
// number of processes. Every key has its own flock(2) lock file under .locks;
// readers take it shared, writers and removers take it exclusive. Writes land
// in a hidden sibling temp file and are renamed over the entry, so even a
// reader that skips the lock sees either the old or the new file.
//
// FileStore never interprets entry bytes.
type FileStore struct {
	dir         string
	fs          billy.Filesystem
	lockTimeout time.Duration
}

// OpenFileStore creates dir (and its lock directory) if needed.
func OpenFileStore(dir string, lockTimeout time.Duration) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty cache directory", common.ErrIO)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", common.ErrIO, dir, err)
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	fs := osfs.New(abs, osfs.WithBoundOS())
	for _, sub := range []string{common.LocksDir, common.StatsDir} {
		if err := fs.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", common.ErrIO, filepath.Join(abs, sub), err)
		}
	}
	return &FileStore{dir: abs, fs: fs, lockTimeout: lockTimeout}, nil
}

// Dir returns the absolute cache directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// lock acquires the lock file at rel (relative to the cache directory),
// polling until the store's lock timeout expires.
func (s *FileStore) lock(ctx context.Context, rel string, shared bool) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(s.dir, rel))
	try := fl.TryLock
	if shared {
		try = fl.TryRLock
	}

	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	err := util.Retry(ctx, func() error {
		ok, err := try()
		if err != nil {
			return err
		}
		if !ok {
			return util.ErrLockBusy
		}
		return nil
	}, util.LockRetryOptions(ctx, lockPollInterval)...)
	if err != nil {
		_ = fl.Close()
		if ctx.Err() != nil || util.IsLockBusy(err) {
			return nil, fmt.Errorf("%w: %s after %v", common.ErrLockTimeout, rel, s.lockTimeout)
		}
		return nil, fmt.Errorf("%w: lock %s: %v", common.ErrIO, rel, err)
	}
	return fl, nil
}

func unlock(fl *flock.Flock) {
	if err := fl.Unlock(); err != nil {
		log.Warnf("[STORE] unlock %s: %v", fl.Path(), err)
	}
}

func keyLockPath(name string) string {
	return filepath.Join(common.LocksDir, common.LockFileName(name))
}

// Read returns the raw entry for key. A missing file is reported as
// (nil, false, nil), never as an error.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	name, err := common.EntryFileName(key)
	if err != nil {
		return nil, false, err
	}
	fl, err := s.lock(ctx, keyLockPath(name), true)
	if err != nil {
		return nil, false, err
	}
	defer unlock(fl)

	data, err := s.readFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *FileStore) readFile(name string) ([]byte, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrIO, name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrIO, name, err)
	}
	return data, nil
}

// Write atomically replaces key's entry with data.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) error {
	name, err := common.EntryFileName(key)
	if err != nil {
		return err
	}
	fl, err := s.lock(ctx, keyLockPath(name), false)
	if err != nil {
		return err
	}
	defer unlock(fl)

	return s.replaceFile(ctx, name, data)
}

// replaceFile writes data to a uniquely named hidden sibling of name, syncs
// it, then renames it over name. The caller holds name's exclusive lock.
func (s *FileStore) replaceFile(ctx context.Context, name string, data []byte) error {
	dir, base := filepath.Split(name)
	tmp := filepath.Join(dir, common.TempFileName(base, uuid.NewString()))

	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", common.ErrIO, tmp, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.fs.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %v", common.ErrIO, tmp, err)
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("%w: sync %s: %v", common.ErrIO, tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", common.ErrIO, tmp, err)
	}

	if err := util.Retry(ctx, func() error { return s.fs.Rename(tmp, name) }); err != nil {
		return fmt.Errorf("%w: rename %s: %v", common.ErrIO, name, err)
	}
	committed = true
	log.Tracef("[STORE] wrote %s (%d bytes)", name, len(data))
	return nil
}

// Remove unlinks key's entry. Removing an absent key is not an error.
func (s *FileStore) Remove(ctx context.Context, key string) (bool, error) {
	return s.RemoveIf(ctx, key, nil)
}

// RemoveIf unlinks key's entry only if match is nil or reports true for the
// entry's current bytes. The check and the unlink happen under the key's
// exclusive lock, so a concurrent rewrite is never removed by mistake.
func (s *FileStore) RemoveIf(ctx context.Context, key string, match func([]byte) bool) (bool, error) {
	name, err := common.EntryFileName(key)
	if err != nil {
		return false, err
	}
	fl, err := s.lock(ctx, keyLockPath(name), false)
	if err != nil {
		return false, err
	}
	defer unlock(fl)

	if match != nil {
		data, err := s.readFile(name)
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !match(data) {
			return false, nil
		}
	}

	if err := s.fs.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: remove %s: %v", common.ErrIO, name, err)
	}
	return true, nil
}

// RemoveWhere enumerates the directory once and removes every entry whose key
// satisfies match. Entries written during the scan may or may not be seen.
// Failures on individual files do not stop the scan; they are joined into the
// returned error alongside the count of files actually removed.
func (s *FileStore) RemoveWhere(ctx context.Context, match func(key string) bool) (int, error) {
	infos, err := s.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, fi := range infos {
		if !match(fi.Key) {
			continue
		}
		ok, err := s.Remove(ctx, fi.Key)
		if err != nil {
			log.Warnf("[STORE] remove %s: %v", fi.Key, err)
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// ListAll returns every entry file with its size. Temp files, lock files and
// anything else that is not an entry are skipped.
func (s *FileStore) ListAll(ctx context.Context) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", common.ErrIO, s.dir, err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := common.KeyFromFileName(e.Name())
		if !ok {
			continue
		}
		infos = append(infos, FileInfo{Key: key, Size: e.Size(), ModTime: e.ModTime()})
	}
	return infos, nil
}

// Clear removes every entry file.
func (s *FileStore) Clear(ctx context.Context) (int, error) {
	return s.RemoveWhere(ctx, func(string) bool { return true })
}

// PruneTemp removes temp files left behind by writers that died between
// create and rename, in the entry directory and in the stats directory.
// Only files older than olderThan are touched so that in-flight writes are
// left alone.
func (s *FileStore) PruneTemp(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	pruned := 0
	for _, dir := range []string{".", common.StatsDir} {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		n, err := s.pruneTempIn(dir, olderThan, now)
		pruned += n
		if err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func (s *FileStore) pruneTempIn(dir string, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: list %s: %v", common.ErrIO, filepath.Join(s.dir, dir), err)
	}
	pruned := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, common.TempSuffix) {
			continue
		}
		if now.Sub(e.ModTime()) < olderThan {
			continue
		}
		rel := filepath.Join(dir, name)
		if err := s.fs.Remove(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[STORE] prune %s: %v", rel, err)
			continue
		}
		pruned++
	}
	return pruned, nil
}

func statsPaths() (file, lock string) {
	return filepath.Join(common.StatsDir, statsFileName),
		filepath.Join(common.StatsDir, "counters"+common.LockSuffix)
}

// ReadStats returns the counters shared by all processes using this
// directory. A missing file reads as zero.
func (s *FileStore) ReadStats(ctx context.Context) (Counters, error) {
	file, lockPath := statsPaths()
	fl, err := s.lock(ctx, lockPath, true)
	if err != nil {
		return Counters{}, err
	}
	defer unlock(fl)

	return s.readStatsFile(file)
}

func (s *FileStore) readStatsFile(file string) (Counters, error) {
	var c Counters
	data, err := s.readFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Counters{}, fmt.Errorf("%w: %s: %v", common.ErrCorruptEntry, file, err)
	}
	return c, nil
}

// MergeStats adds delta to the shared counters in a single read-modify-write
// under the stats lock and returns the new totals. A corrupt counters file is
// reset rather than blocking every future merge.
func (s *FileStore) MergeStats(ctx context.Context, delta Counters) (Counters, error) {
	file, lockPath := statsPaths()
	fl, err := s.lock(ctx, lockPath, false)
	if err != nil {
		return Counters{}, err
	}
	defer unlock(fl)

	total, err := s.readStatsFile(file)
	if errors.Is(err, common.ErrCorruptEntry) {
		log.Warnf("[STORE] resetting shared counters: %v", err)
		total = Counters{}
	} else if err != nil {
		return Counters{}, err
	}
	total = total.Add(delta)

	data, err := json.Marshal(total)
	if err != nil {
		return Counters{}, fmt.Errorf("%w: %v", common.ErrEncoding, err)
	}
	if err := s.replaceFile(ctx, file, data); err != nil {
		return Counters{}, err
	}
	return total, nil
}
