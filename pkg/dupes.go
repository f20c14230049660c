package dupwalk

import (
	"log/slog"
	"sort"
	"sync"
)

// DuplicateGroup represents a group of files with the same hash
type DuplicateGroup struct {
	Hash  string   `json:"hash"`
	Files []string `json:"files"`
	Count int      `json:"count"`
}

// DuplicateGroups returns every digest held by two or more paths, sorted by hash.
// Files keep the order they were recorded in.
func (s *Store) DuplicateGroups() []DuplicateGroup {
	s.mu.RLock()
	var result []DuplicateGroup
	for digest, paths := range s.reverse {
		if len(paths) < 2 {
			continue
		}
		files := make([]string, len(paths))
		copy(files, paths)
		result = append(result, DuplicateGroup{
			Hash:  Fingerprint{Digest: digest}.String(),
			Files: files,
			Count: len(files),
		})
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Hash < result[j].Hash })
	return result
}

// LogDuplicates returns a listener that logs each event at info level together
// with every path the store holds for the digest at delivery time
func LogDuplicates(store *Store, logger *slog.Logger) func(DuplicateEvent) {
	return func(ev DuplicateEvent) {
		logger.Info("duplicate found",
			"hash", ev.Fingerprint.String(),
			"path", ev.Path,
			"copies", ev.Count,
			"files", store.LookupPaths(ev.Fingerprint))
	}
}

// DuplicateRecorder keeps every event it receives; scan counts them for its summary
type DuplicateRecorder struct {
	mu     sync.Mutex
	events []DuplicateEvent
}

// Listen is the listener function to pass to Store.AddListener
func (r *DuplicateRecorder) Listen(ev DuplicateEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events in delivery order
func (r *DuplicateRecorder) Events() []DuplicateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DuplicateEvent, len(r.events))
	copy(out, r.events)
	return out
}
