package dupwalk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testRig struct {
	pools    *Pools
	metrics  *Metrics
	computer *DigestComputer
	store    *Store
}

// newTestRig builds pools of the given sizes plus a computer and store sharing one metrics registry
func newTestRig(t *testing.T, ioWorkers, orchestrationWorkers int) *testRig {
	t.Helper()
	pools := NewPools(ioWorkers, orchestrationWorkers)
	t.Cleanup(pools.Shutdown)

	metrics := NewMetrics()
	computer, err := NewDigestComputer(pools.IO, DigestOptions{BufferSize: 4096, Metrics: metrics})
	require.NoError(t, err)

	return &testRig{
		pools:    pools,
		metrics:  metrics,
		computer: computer,
		store:    NewStore(computer, pools.Orchestration, metrics, nil),
	}
}

// writeTree creates files (relative path -> content) under root
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func digestOf(t *testing.T, content string) Fingerprint {
	t.Helper()
	algorithm, err := GetHashAlgorithm("sha256")
	require.NoError(t, err)
	h := algorithm.NewFunc()
	h.Write([]byte(content))
	return NewFingerprint(h.Sum(nil), testEpoch)
}
