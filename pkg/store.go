package dupwalk

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Entry is one persisted forward-map pair
type Entry struct {
	Path        string
	Fingerprint Fingerprint
}

// DuplicateEvent is delivered when a write grows a digest's bucket past one path.
// Path is the path just added; Count is the bucket size after the write.
type DuplicateEvent struct {
	Fingerprint Fingerprint
	Path        string
	Count       int
}

// Store maps paths to fingerprints and fingerprints back to every path holding them.
//
// After each mutation returns, p is in reverse[d] exactly when forward[p] has digest d,
// and no bucket is empty. Duplicate events are delivered in the order the mutations
// happened; listeners never run while the maps are locked.
type Store struct {
	mu      sync.RWMutex
	forward map[string]Fingerprint
	reverse map[Digest][]string
	pending []DuplicateEvent // appended under mu, drained under dispatchMu

	dispatchMu sync.Mutex
	listeners  []func(DuplicateEvent)

	computer *DigestComputer
	pool     *WorkerPool
	metrics  *Metrics
	logger   *slog.Logger
	stat     func(string) (os.FileInfo, error)
}

// NewStore builds an empty store. computer may be nil for a store that is only
// restored and reported on; GetOrRefresh then fails.
func NewStore(computer *DigestComputer, orchestration *WorkerPool, metrics *Metrics, logger *slog.Logger) *Store {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Store{
		forward:  make(map[string]Fingerprint),
		reverse:  make(map[Digest][]string),
		computer: computer,
		pool:     orchestration,
		metrics:  metrics,
		logger:   logger,
		stat:     os.Stat,
	}
}

// AddListener registers fn for duplicate events. fn must not call Insert or Remove.
func (s *Store) AddListener(fn func(DuplicateEvent)) {
	s.dispatchMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.dispatchMu.Unlock()
}

// Len returns the number of known paths
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.forward)
}

// Get returns the stored fingerprint for path without refreshing it
func (s *Store) Get(path string) (Fingerprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.forward[path]
	return fp, ok
}

// GetOrRefresh returns the fingerprint for path, computing it when the path is
// unknown or the file changed after the stored fingerprint was computed.
// The lookup runs on the orchestration pool and hashing on the IO pool; the
// insert is chained back onto the orchestration pool so no worker waits on another.
func (s *Store) GetOrRefresh(ctx context.Context, path string) *Future[Fingerprint] {
	out := NewFuture[Fingerprint]()
	if err := s.pool.Submit(func() { s.refresh(ctx, path, out) }); err != nil {
		out.Complete(Fingerprint{}, err)
	}
	return out
}

func (s *Store) refresh(ctx context.Context, path string, out *Future[Fingerprint]) {
	if err := ctx.Err(); err != nil {
		out.Complete(Fingerprint{}, err)
		return
	}

	if fp, ok := s.Get(path); ok {
		info, err := s.stat(path)
		if err != nil {
			s.metrics.HashErrors.Inc()
			out.Complete(Fingerprint{}, ioError(path, err))
			return
		}
		if !info.ModTime().After(fp.Computed) {
			s.metrics.CacheHits.Inc()
			out.Complete(fp, nil)
			return
		}
		if IsDebugEnabled("store") {
			VerboseLog(3, "store: %s modified at %v after digest at %v, rehashing", path, info.ModTime(), fp.Computed)
		}
	}

	if s.computer == nil {
		out.Complete(Fingerprint{}, errors.New("store has no digest computer"))
		return
	}

	computed := s.computer.ComputeAsync(ctx, path)
	Then(computed, s.pool, func(fp Fingerprint, err error) (Fingerprint, error) {
		if err != nil {
			return Fingerprint{}, err
		}
		s.Insert(path, fp)
		return fp, nil
	}).OnComplete(func(fp Fingerprint, err error) {
		out.Complete(fp, err)
	})
}

// Insert records fp for path, replacing any previous fingerprint.
// It returns after the duplicate event caused by this write, if any, was delivered.
func (s *Store) Insert(path string, fp Fingerprint) {
	s.mu.Lock()
	ev, fire := s.insertLocked(path, fp)
	if fire {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()

	if fire {
		s.dispatch()
	}
}

// insertLocked updates both maps; the caller holds mu for writing
func (s *Store) insertLocked(path string, fp Fingerprint) (DuplicateEvent, bool) {
	old, had := s.forward[path]
	s.forward[path] = fp
	if had {
		if old.Digest == fp.Digest {
			return DuplicateEvent{}, false
		}
		s.unlinkLocked(path, old.Digest)
	}

	bucket := append(s.reverse[fp.Digest], path)
	s.reverse[fp.Digest] = bucket
	if len(bucket) < 2 {
		return DuplicateEvent{}, false
	}
	return DuplicateEvent{Fingerprint: fp, Path: path, Count: len(bucket)}, true
}

func (s *Store) unlinkLocked(path string, digest Digest) {
	bucket := s.reverse[digest]
	if i := slices.Index(bucket, path); i >= 0 {
		bucket = slices.Delete(bucket, i, i+1)
	}
	if len(bucket) == 0 {
		delete(s.reverse, digest)
		return
	}
	s.reverse[digest] = bucket
}

// dispatch delivers every pending event in log order. Whoever holds dispatchMu
// drains the whole log, so an event appended before the lock was taken is
// delivered by the time dispatch returns.
func (s *Store) dispatch() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range events {
		s.metrics.Duplicates.Inc()
		for _, fn := range s.listeners {
			fn(ev)
		}
	}
}

// Remove forgets path. It reports whether the path was known.
func (s *Store) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.forward[path]
	if !ok {
		return false
	}
	delete(s.forward, path)
	s.unlinkLocked(path, fp.Digest)
	return true
}

// RemoveTree forgets path and every path below it, returning how many went
func (s *Store) RemoveTree(path string) int {
	prefix := path + string(filepath.Separator)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for p, fp := range s.forward {
		if p != path && !strings.HasPrefix(p, prefix) {
			continue
		}
		delete(s.forward, p)
		s.unlinkLocked(p, fp.Digest)
		removed++
	}
	return removed
}

// Prune removes every path whose file no longer exists and returns how many went
func (s *Store) Prune(ctx context.Context) (int, error) {
	s.mu.RLock()
	paths := make([]string, 0, len(s.forward))
	for p := range s.forward {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)

	removed := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, err := s.stat(p); errors.Is(err, fs.ErrNotExist) {
			if s.Remove(p) {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Info("pruned vanished files", "count", removed)
	}
	return removed, nil
}

// LookupPaths returns a copy of every path currently holding fp's digest
func (s *Store) LookupPaths(fp Fingerprint) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.reverse[fp.Digest])
}

// Snapshot returns the forward map sorted by path
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.forward))
	for p, fp := range s.forward {
		entries = append(entries, Entry{Path: p, Fingerprint: fp})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Restore replaces the store contents with entries, replayed in order.
// No duplicate events fire.
func (s *Store) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forward = make(map[string]Fingerprint, len(entries))
	s.reverse = make(map[Digest][]string)
	for _, e := range entries {
		s.insertLocked(e.Path, e.Fingerprint)
	}
}
