package dupwalk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkConsistent asserts the forward and reverse maps describe the same pairs
func checkConsistent(t *testing.T, s *Store) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for path, fp := range s.forward {
		assert.Contains(t, s.reverse[fp.Digest], path)
	}
	for digest, paths := range s.reverse {
		assert.NotEmpty(t, paths)
		for _, p := range paths {
			assert.Equal(t, digest, s.forward[p].Digest, "reverse entry %s", p)
		}
	}
}

func TestStoreInsertFiresOnSecondPath(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	var events []DuplicateEvent
	s.AddListener(func(ev DuplicateEvent) { events = append(events, ev) })

	x := digestOf(t, "X")
	s.Insert("/r/a", x)
	assert.Empty(t, events)

	s.Insert("/r/b", x)
	require.Len(t, events, 1)
	assert.Equal(t, "/r/b", events[0].Path)
	assert.Equal(t, 2, events[0].Count)
	assert.True(t, events[0].Fingerprint.Equal(x))

	s.Insert("/r/c", x)
	require.Len(t, events, 2)
	assert.Equal(t, 3, events[1].Count)

	assert.Equal(t, []string{"/r/a", "/r/b", "/r/c"}, s.LookupPaths(x))
	checkConsistent(t, s)
}

func TestStoreOverwriteSameDigestKeepsPosition(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	var events []DuplicateEvent
	s.AddListener(func(ev DuplicateEvent) { events = append(events, ev) })

	x := digestOf(t, "X")
	s.Insert("/r/a", x)
	s.Insert("/r/b", x)
	later := x
	later.Computed = testEpoch.Add(time.Hour)
	s.Insert("/r/a", later)

	assert.Len(t, events, 1)
	assert.Equal(t, []string{"/r/a", "/r/b"}, s.LookupPaths(x))
	got, ok := s.Get("/r/a")
	require.True(t, ok)
	assert.Equal(t, later.Computed, got.Computed)
	checkConsistent(t, s)
}

func TestStoreOverwriteNewDigestMovesPath(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	var events []DuplicateEvent
	s.AddListener(func(ev DuplicateEvent) { events = append(events, ev) })

	x, y := digestOf(t, "X"), digestOf(t, "Y")
	s.Insert("/r/a", x)
	s.Insert("/r/b", y)
	s.Insert("/r/a", y)

	assert.Empty(t, s.LookupPaths(x))
	assert.Equal(t, []string{"/r/b", "/r/a"}, s.LookupPaths(y))
	require.Len(t, events, 1)
	assert.Equal(t, "/r/a", events[0].Path)
	assert.Equal(t, 2, events[0].Count)
	checkConsistent(t, s)
}

func TestStoreRemove(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	x := digestOf(t, "X")
	s.Insert("/r/a", x)
	s.Insert("/r/sub/b", x)
	s.Insert("/r/sub/deeper/c", digestOf(t, "Y"))
	s.Insert("/r/subway", digestOf(t, "Z"))

	assert.True(t, s.Remove("/r/a"))
	assert.False(t, s.Remove("/r/a"))
	assert.Equal(t, []string{"/r/sub/b"}, s.LookupPaths(x))
	checkConsistent(t, s)

	assert.Equal(t, 2, s.RemoveTree("/r/sub"))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("/r/subway")
	assert.True(t, ok)
	checkConsistent(t, s)
}

func TestStoreListenerOrderUnderConcurrency(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	var mu sync.Mutex
	var counts []int
	s.AddListener(func(ev DuplicateEvent) {
		mu.Lock()
		counts = append(counts, ev.Count)
		mu.Unlock()
	})

	x := digestOf(t, "X")
	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Insert(fmt.Sprintf("/r/f%02d", i), x)
		}(i)
	}
	wg.Wait()

	require.Len(t, counts, writers-1)
	for i, c := range counts {
		assert.Equal(t, i+2, c, "event %d delivered out of order", i)
	}
	checkConsistent(t, s)
}

func TestStoreSnapshotRestore(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	x, y := digestOf(t, "X"), digestOf(t, "Y")
	s.Insert("/r/c", x)
	s.Insert("/r/a", x)
	s.Insert("/r/b", y)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.True(t, sort.SliceIsSorted(snap, func(i, j int) bool { return snap[i].Path < snap[j].Path }))

	restored := NewStore(nil, nil, nil, nil)
	fired := 0
	restored.AddListener(func(DuplicateEvent) { fired++ })
	restored.Restore(snap)

	assert.Equal(t, 0, fired)
	assert.Equal(t, snap, restored.Snapshot())
	// Restore replays in snapshot order, so buckets follow path order
	assert.Equal(t, []string{"/r/a", "/r/c"}, restored.LookupPaths(x))
	checkConsistent(t, restored)
}

func TestStoreDuplicateGroups(t *testing.T) {
	s := NewStore(nil, nil, nil, nil)
	x, y := digestOf(t, "X"), digestOf(t, "Y")
	s.Insert("/r/a", x)
	s.Insert("/r/b", x)
	s.Insert("/r/c", y)
	s.Insert("/r/d", digestOf(t, "Z"))
	s.Insert("/r/e", y)

	groups := s.DuplicateGroups()
	require.Len(t, groups, 2)
	assert.True(t, groups[0].Hash < groups[1].Hash)
	for _, g := range groups {
		assert.Equal(t, 2, g.Count)
		switch g.Hash {
		case x.String():
			assert.Equal(t, []string{"/r/a", "/r/b"}, g.Files)
		case y.String():
			assert.Equal(t, []string{"/r/c", "/r/e"}, g.Files)
		default:
			t.Errorf("unexpected group %s", g.Hash)
		}
	}
}

func TestStoreGetOrRefresh(t *testing.T) {
	rig := newTestRig(t, 1, 1)
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	writeTree(t, dir, map[string]string{"f.txt": "first"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := rig.store.GetOrRefresh(ctx, path).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.FilesHashed))

	// Unchanged file: served from the store
	again, err := rig.store.GetOrRefresh(ctx, path).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.FilesHashed))
	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.CacheHits))

	// Modified after the digest was computed: rehashed
	require.NoError(t, os.WriteFile(path, []byte("second"), 0644))
	future := first.Computed.Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	updated, err := rig.store.GetOrRefresh(ctx, path).Wait(ctx)
	require.NoError(t, err)
	assert.False(t, updated.Equal(first))
	assert.Equal(t, 2.0, testutil.ToFloat64(rig.metrics.FilesHashed))
	stored, _ := rig.store.Get(path)
	assert.True(t, stored.Equal(updated))
	assert.Empty(t, rig.store.LookupPaths(first))
}

func TestStoreGetOrRefreshUnreadableLeavesStoreUnchanged(t *testing.T) {
	rig := newTestRig(t, 1, 1)
	missing := filepath.Join(t.TempDir(), "gone.txt")

	ctx := context.Background()
	_, err := rig.store.GetOrRefresh(ctx, missing).Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.Equal(t, 0, rig.store.Len())
}

func TestStorePrune(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"keep": "k"})

	s := NewStore(nil, nil, nil, nil)
	s.Insert(filepath.Join(dir, "keep"), digestOf(t, "k"))
	s.Insert(filepath.Join(dir, "gone"), digestOf(t, "g"))

	removed, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
	checkConsistent(t, s)
}
