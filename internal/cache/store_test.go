package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcache/internal/common"
)

// testStore creates a store in a temp dir.
// Uses t.TempDir() which automatically cleans up after the test.
func testStore(t *testing.T, lockTimeout time.Duration) *FileStore {
	t.Helper()
	s, err := OpenFileStore(t.TempDir(), lockTimeout)
	require.NoError(t, err, "failed to open store")
	return s
}

func storeKeys(t *testing.T, s *FileStore) []string {
	t.Helper()
	infos, err := s.ListAll(context.Background())
	require.NoError(t, err)
	keys := make([]string, 0, len(infos))
	for _, fi := range infos {
		keys = append(keys, fi.Key)
	}
	sort.Strings(keys)
	return keys
}

// holdLock takes key's lock from outside the store, as another process would.
func holdLock(t *testing.T, s *FileStore, key string, shared bool) *flock.Flock {
	t.Helper()
	name, err := common.EntryFileName(key)
	require.NoError(t, err)
	fl := flock.New(filepath.Join(s.Dir(), keyLockPath(name)))
	if shared {
		require.NoError(t, fl.RLock())
	} else {
		require.NoError(t, fl.Lock())
	}
	t.Cleanup(func() { _ = fl.Unlock() })
	return fl
}

func TestOpenFileStore(t *testing.T) {
	t.Parallel()

	t.Run("creates nested directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "a", "b")
		s, err := OpenFileStore(dir, 0)
		require.NoError(t, err)
		assert.DirExists(t, dir)
		assert.DirExists(t, filepath.Join(dir, common.LocksDir))
		assert.Equal(t, DefaultLockTimeout, s.lockTimeout)
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		_, err := OpenFileStore("", 0)
		assert.ErrorIs(t, err, common.ErrIO)
	})

	t.Run("path is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		_, err := OpenFileStore(file, 0)
		assert.Error(t, err)
	})
}

func TestStoreReadWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("missing key is absent, not an error", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, time.Second)
		data, ok, err := s.Read(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("write then read", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, time.Second)
		require.NoError(t, s.Write(ctx, "a_1", []byte("one")))
		data, ok, err := s.Read(ctx, "a_1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "one", string(data))
		assert.FileExists(t, filepath.Join(s.Dir(), "a_1.json"))
	})

	t.Run("overwrite replaces whole file", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, time.Second)
		require.NoError(t, s.Write(ctx, "a_1", []byte(strings.Repeat("x", 4096))))
		require.NoError(t, s.Write(ctx, "a_1", []byte("short")))
		data, _, err := s.Read(ctx, "a_1")
		require.NoError(t, err)
		assert.Equal(t, "short", string(data))
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, time.Second)
		for i := range 5 {
			require.NoError(t, s.Write(ctx, "a_1", []byte(fmt.Sprint(i))))
		}
		entries, err := os.ReadDir(s.Dir())
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasSuffix(e.Name(), common.TempSuffix), "leftover %s", e.Name())
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, time.Second)
		_, _, err := s.Read(ctx, "")
		assert.ErrorIs(t, err, common.ErrInvalidKey)
		assert.ErrorIs(t, s.Write(ctx, ".hidden", []byte("x")), common.ErrInvalidKey)
	})

	t.Run("separators stay inside the directory", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, time.Second)
		require.NoError(t, s.Write(ctx, "controller/1", []byte("x")))
		assert.FileExists(t, filepath.Join(s.Dir(), "controller_1.json"))
	})
}

func TestStoreLocking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("exclusive holder times out readers and writers", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, 50*time.Millisecond)
		require.NoError(t, s.Write(ctx, "k", []byte("v")))
		holdLock(t, s, "k", false)

		start := time.Now()
		_, _, err := s.Read(ctx, "k")
		assert.ErrorIs(t, err, common.ErrLockTimeout)
		assert.Less(t, time.Since(start), time.Second, "wait must be bounded")

		assert.ErrorIs(t, s.Write(ctx, "k", []byte("w")), common.ErrLockTimeout)
		_, err = s.Remove(ctx, "k")
		assert.ErrorIs(t, err, common.ErrLockTimeout)
	})

	t.Run("shared holder admits readers, blocks writers", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, 50*time.Millisecond)
		require.NoError(t, s.Write(ctx, "k", []byte("v")))
		holdLock(t, s, "k", true)

		data, ok, err := s.Read(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", string(data))

		assert.ErrorIs(t, s.Write(ctx, "k", []byte("w")), common.ErrLockTimeout)
	})

	t.Run("locks are per key", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, 50*time.Millisecond)
		holdLock(t, s, "a_1", false)
		require.NoError(t, s.Write(ctx, "a_2", []byte("v")))
	})

	t.Run("writer proceeds once holder releases", func(t *testing.T) {
		t.Parallel()
		s := testStore(t, 2*time.Second)
		fl := holdLock(t, s, "k", false)
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = fl.Unlock()
		}()
		require.NoError(t, s.Write(ctx, "k", []byte("v")))
	})
}

func TestStoreRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, time.Second)

	require.NoError(t, s.Write(ctx, "k", []byte("v")))
	removed, err := s.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, "k")
	require.NoError(t, err, "removing an absent key is not an error")
	assert.False(t, removed)

	t.Run("remove if", func(t *testing.T) {
		require.NoError(t, s.Write(ctx, "c", []byte("keep")))
		removed, err := s.RemoveIf(ctx, "c", func(b []byte) bool { return string(b) == "drop" })
		require.NoError(t, err)
		assert.False(t, removed)

		removed, err = s.RemoveIf(ctx, "c", func(b []byte) bool { return string(b) == "keep" })
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.RemoveIf(ctx, "c", func([]byte) bool { return true })
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestStoreRemoveWhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, time.Second)

	for _, k := range []string{"a_1", "a_2", "b_1"} {
		require.NoError(t, s.Write(ctx, k, []byte(k)))
	}
	// Non-entry files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "README"), []byte("x"), 0o644))

	n, err := s.RemoveWhere(ctx, func(k string) bool { return strings.HasPrefix(k, "a_") })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"b_1"}, storeKeys(t, s))
	assert.FileExists(t, filepath.Join(s.Dir(), "README"))

	n, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, storeKeys(t, s))
}

func TestStoreRemoveWhereContinuesPastLockedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, 50*time.Millisecond)

	for _, k := range []string{"a_1", "a_2", "a_3"} {
		require.NoError(t, s.Write(ctx, k, []byte(k)))
	}
	holdLock(t, s, "a_2", false)

	n, err := s.Clear(ctx)
	assert.ErrorIs(t, err, common.ErrLockTimeout)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a_2"}, storeKeys(t, s))
}

func TestStoreListAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, time.Second)

	require.NoError(t, s.Write(ctx, "x", []byte("123")))
	require.NoError(t, s.Write(ctx, "y", []byte("12345")))
	// A stray temp file from a crashed writer is not an entry.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), common.TempFileName("z.json", "dead")), []byte("1"), 0o644))

	infos, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	var total int64
	for _, fi := range infos {
		total += fi.Size
	}
	assert.Equal(t, int64(8), total)
}

func TestStorePruneTemp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, time.Second)

	old := filepath.Join(s.Dir(), common.TempFileName("a.json", "old"))
	fresh := filepath.Join(s.Dir(), common.TempFileName("b.json", "new"))
	require.NoError(t, os.WriteFile(old, nil, 0o644))
	require.NoError(t, os.WriteFile(fresh, nil, 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := s.PruneTemp(ctx, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestStorePruneTempStatsDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, time.Second)

	_, err := s.MergeStats(ctx, Counters{Hits: 1})
	require.NoError(t, err)

	// Left by a process that died inside MergeStats.
	orphan := filepath.Join(s.Dir(), common.StatsDir, common.TempFileName(statsFileName, "crashed"))
	require.NoError(t, os.WriteFile(orphan, []byte("{"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(orphan, past, past))

	n, err := s.PruneTemp(ctx, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, orphan)

	shared, err := s.ReadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), shared.Hits)
	assert.FileExists(t, filepath.Join(s.Dir(), common.StatsDir, "counters"+common.LockSuffix))
}

func TestStoreConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, 5*time.Second)

	const writers = 16
	payloads := make(map[string]bool, writers)
	for i := range writers {
		payloads[strings.Repeat(string(rune('a'+i)), 64*1024)] = true
	}

	var wg sync.WaitGroup
	for p := range payloads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(ctx, "k", []byte(p)))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, ok, err := s.Read(ctx, "k")
			assert.NoError(t, err)
			if ok {
				assert.True(t, payloads[string(data)], "read a torn payload")
			}
		}()
	}
	wg.Wait()

	data, ok, err := s.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, payloads[string(data)])
}

func TestStoreSharedStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t, time.Second)

	c, err := s.ReadStats(ctx)
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	_, err = s.MergeStats(ctx, Counters{Hits: 2, Misses: 1})
	require.NoError(t, err)
	total, err := s.MergeStats(ctx, Counters{Hits: 1, Sets: 4})
	require.NoError(t, err)
	assert.Equal(t, Counters{Hits: 3, Misses: 1, Sets: 4}, total)

	c, err = s.ReadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, c)

	t.Run("stats file is not an entry", func(t *testing.T) {
		assert.Empty(t, storeKeys(t, s))
	})

	t.Run("corrupt stats file is reset on merge", func(t *testing.T) {
		file, _ := statsPaths()
		require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), file), []byte("{"), 0o644))
		_, err := s.ReadStats(ctx)
		assert.ErrorIs(t, err, common.ErrCorruptEntry)

		total, err := s.MergeStats(ctx, Counters{Errors: 1})
		require.NoError(t, err)
		assert.Equal(t, Counters{Errors: 1}, total)
	})
}
