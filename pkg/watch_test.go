package dupwalk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchPicksUpNewAndRemovedFiles(t *testing.T) {
	rig := newTestRig(t, 1, 1)
	root := t.TempDir()
	staging := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "X", "sub/b.txt": "Y"})

	walker := runWalker(t, rig, root, WalkerOptions{})

	events := make(chan DuplicateEvent, 10)
	rig.store.AddListener(func(ev DuplicateEvent) { events <- ev })

	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, walker, rig.store, WatchOptions{
			Debounce: 20 * time.Millisecond,
			OnReady:  func() { close(ready) },
		})
	}()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("watch never became ready")
	}

	// Renamed in whole so the folder is never rescanned with a half-written file
	staged := filepath.Join(staging, "c.txt")
	require.NoError(t, os.WriteFile(staged, []byte("X"), 0644))
	require.NoError(t, os.Rename(staged, filepath.Join(root, "sub", "c.txt")))

	select {
	case ev := <-events:
		assert.Equal(t, filepath.Join(root, "sub", "c.txt"), ev.Path)
		assert.Equal(t, 2, ev.Count)
	case <-time.After(10 * time.Second):
		t.Fatal("no duplicate event after adding a copy")
	}

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	assert.Eventually(t, func() bool {
		return len(rig.store.LookupPaths(digestOf(t, "X"))) == 1
	}, 10*time.Second, 10*time.Millisecond)
}
