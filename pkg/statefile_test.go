package dupwalk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries(t *testing.T, n int) []Entry {
	t.Helper()
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		fp := digestOf(t, fmt.Sprintf("content-%d", i%7))
		fp.Computed = testEpoch.Add(time.Duration(i) * time.Second)
		entries = append(entries, Entry{
			Path:        fmt.Sprintf("/data/photos/2024/album-%03d/img_%05d.jpg", i/50, i),
			Fingerprint: fp,
		})
	}
	return entries
}

// equalEntries compares entries without depending on time.Time location
func equalEntries(t *testing.T, want, got []Entry) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Path, got[i].Path)
		assert.Equal(t, want[i].Fingerprint.Digest, got[i].Fingerprint.Digest)
		assert.True(t, want[i].Fingerprint.Computed.Equal(got[i].Fingerprint.Computed), "entry %d time", i)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"single", sampleEntries(t, 1)},
		{"compressible", sampleEntries(t, 2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewFileBackend(t.TempDir(), HashTypeSHA256)
			require.NoError(t, backend.Save(tt.entries))

			loaded, err := backend.Load()
			require.NoError(t, err)
			equalEntries(t, tt.entries, loaded)
		})
	}
}

func TestFileBackendCompressesRepetitiveBody(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir, HashTypeSHA256)
	entries := sampleEntries(t, 2000)
	require.NoError(t, backend.Save(entries))

	data, err := os.ReadFile(backend.Path())
	require.NoError(t, err)
	header, err := unmarshalStateHeader(data)
	require.NoError(t, err)

	assert.Equal(t, StateSignature, header.Signature)
	assert.Equal(t, uint64(2000), header.EntryCount)
	assert.NotZero(t, header.Flags&StateFlagLZ4)
	assert.Less(t, header.BodyLen, header.RawLen)

	// No temp files left behind
	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestFileBackendMissing(t *testing.T) {
	_, err := NewFileBackend(t.TempDir(), HashTypeSHA256).Load()
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFileBackendCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(data []byte) []byte
	}{
		{"truncated header", func(data []byte) []byte { return data[:10] }},
		{"bad signature", func(data []byte) []byte { data[0] = 'X'; return data }},
		{"flipped body byte", func(data []byte) []byte { data[len(data)-1] ^= 0xff; return data }},
		{"truncated body", func(data []byte) []byte { return data[:len(data)-5] }},
		{"bad version", func(data []byte) []byte { data[4] = 99; return data }},
		{"entry count", func(data []byte) []byte { binary.LittleEndian.PutUint64(data[12:20], 1<<62); return data }},
		{"raw length", func(data []byte) []byte { binary.LittleEndian.PutUint64(data[20:28], 1<<39); return data }},
		{"unknown flag", func(data []byte) []byte { data[8] |= 0x80; return data }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewFileBackend(t.TempDir(), HashTypeSHA256)
			require.NoError(t, backend.Save(sampleEntries(t, 20)))

			data, err := os.ReadFile(backend.Path())
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(backend.Path(), tt.corrupt(data), 0644))

			_, err = backend.Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)
		})
	}
}

// resign recomputes the checksum so only the header validation can reject data
func resign(data []byte) []byte {
	binary.LittleEndian.PutUint64(data[36:44], stateChecksum(data[:StateHeaderSize], data[StateHeaderSize:]))
	return data
}

func TestFileBackendRejectsImplausibleHeader(t *testing.T) {
	tests := []struct {
		name    string
		entries int
		corrupt func(data []byte)
	}{
		{"entry count past body", 1, func(data []byte) { binary.LittleEndian.PutUint64(data[12:20], 1<<62) }},
		{"raw length mismatch uncompressed", 1, func(data []byte) { binary.LittleEndian.PutUint64(data[20:28], 1<<39) }},
		{"raw length past lz4 ratio", 2000, func(data []byte) {
			data[8] |= byte(StateFlagLZ4)
			binary.LittleEndian.PutUint64(data[20:28], 1<<39)
		}},
		{"unknown flag", 1, func(data []byte) { data[9] |= 0x40 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewFileBackend(t.TempDir(), HashTypeSHA256)
			require.NoError(t, backend.Save(sampleEntries(t, tt.entries)))

			data, err := os.ReadFile(backend.Path())
			require.NoError(t, err)
			tt.corrupt(data)
			require.NoError(t, os.WriteFile(backend.Path(), resign(data), 0644))

			_, err = backend.Load()
			assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)

			store := NewStore(nil, nil, nil, nil)
			assert.NotPanics(t, func() {
				assert.Equal(t, 0, LoadStore(backend, store, discardLogger()))
			})
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestFileBackendHashTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewFileBackend(dir, HashTypeSHA256).Save(sampleEntries(t, 3)))

	_, err := NewFileBackend(dir, HashTypeSHA512_256).Load()
	assert.True(t, errors.Is(err, ErrSerialization))
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := OpenSQLiteBackend(dir, HashTypeSHA256)
	require.NoError(t, err)
	defer backend.Close()

	empty, err := backend.Load()
	require.NoError(t, err)
	assert.Empty(t, empty)

	entries := sampleEntries(t, 120)
	require.NoError(t, backend.Save(entries))
	// A second save replaces rather than appends
	require.NoError(t, backend.Save(entries[:60]))

	loaded, err := backend.Load()
	require.NoError(t, err)
	equalEntries(t, entries[:60], loaded)
	assert.FileExists(t, filepath.Join(dir, StateDB))
}

func TestSQLiteBackendHashTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	backend, err := OpenSQLiteBackend(dir, HashTypeSHA256)
	require.NoError(t, err)
	require.NoError(t, backend.Save(sampleEntries(t, 3)))
	require.NoError(t, backend.Close())

	other, err := OpenSQLiteBackend(dir, HashTypeSHA512_256)
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Load()
	assert.True(t, errors.Is(err, ErrSerialization))
}
