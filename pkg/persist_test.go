package dupwalk

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStoreMissingAndCorruptStartEmpty(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir, HashTypeSHA256)
	store := NewStore(nil, nil, nil, nil)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	assert.Equal(t, 0, LoadStore(backend, store, logger))
	assert.Equal(t, 0, store.Len())

	require.NoError(t, os.WriteFile(backend.Path(), []byte("definitely not a state file, just some bytes here......"), 0644))
	assert.Equal(t, 0, LoadStore(backend, store, logger))
	assert.Equal(t, 0, store.Len())
	assert.Contains(t, logs.String(), "saved state unusable")
}

func TestSaveAndLoadStore(t *testing.T) {
	for _, kind := range []string{"file", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			backend, err := OpenBackend(kind, dir, HashTypeSHA256)
			require.NoError(t, err)
			defer backend.Close()

			src := NewStore(nil, nil, nil, nil)
			src.Insert("/r/b", digestOf(t, "X"))
			src.Insert("/r/a", digestOf(t, "X"))
			src.Insert("/r/c", digestOf(t, "Y"))
			require.NoError(t, SaveStore(backend, src))

			dst := NewStore(nil, nil, nil, nil)
			assert.Equal(t, 3, LoadStore(backend, dst, discardLogger()))
			equalEntries(t, src.Snapshot(), dst.Snapshot())
			assert.Len(t, dst.DuplicateGroups(), 1)
		})
	}
}

func TestOpenBackendUnknown(t *testing.T) {
	_, err := OpenBackend("tape", t.TempDir(), HashTypeSHA256)
	assert.Error(t, err)
}

func TestSidecarSavesOnExit(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir, HashTypeSHA256)
	store := NewStore(nil, nil, nil, nil)
	store.Insert("/r/a", digestOf(t, "X"))

	metrics := NewMetrics()
	sidecar := NewSidecar(backend, store, time.Hour, nil, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sidecar.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("sidecar did not stop")
	}

	loaded, err := backend.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "/r/a", loaded[0].Path)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StateSaves))
}

func TestSidecarPeriodicSave(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir, HashTypeSHA256)
	store := NewStore(nil, nil, nil, nil)
	metrics := NewMetrics()
	sidecar := NewSidecar(backend, store, 10*time.Millisecond, nil, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sidecar.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, StateFile))
		return err == nil && testutil.ToFloat64(metrics.StateSaves) >= 2
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestLockState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), StateDir)
	first, err := LockState(dir)
	require.NoError(t, err)

	_, err = LockState(dir)
	assert.True(t, errors.Is(err, ErrStateLocked))

	require.NoError(t, first.Unlock())
	again, err := LockState(dir)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}
