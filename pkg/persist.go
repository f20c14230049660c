package dupwalk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"
)

// StateBackend saves and loads the forward map
type StateBackend interface {
	Save(entries []Entry) error
	Load() ([]Entry, error)
	Close() error
}

// OpenBackend returns the backend named by kind ("file" or "sqlite")
func OpenBackend(kind, stateDir string, hashType uint16) (StateBackend, error) {
	switch strings.ToLower(kind) {
	case "", "file":
		return NewFileBackend(stateDir, hashType), nil
	case "sqlite":
		return OpenSQLiteBackend(stateDir, hashType)
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", kind)
	}
}

// LoadStore restores the store from backend. Missing or unusable state is not
// an error: the store starts empty and a warning is logged.
func LoadStore(backend StateBackend, store *Store, logger *slog.Logger) int {
	entries, err := backend.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("no saved state, starting empty")
		return 0
	case err != nil:
		if !errors.Is(err, ErrSerialization) {
			err = fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		logger.Warn("saved state unusable, starting empty", "error", err)
		return 0
	}

	store.Restore(entries)
	logger.Info("restored saved state", "entries", len(entries))
	return len(entries)
}

// SaveStore snapshots the store and writes it through backend
func SaveStore(backend StateBackend, store *Store) error {
	return backend.Save(store.Snapshot())
}

// Sidecar saves the store periodically while a run is in progress
type Sidecar struct {
	backend  StateBackend
	store    *Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

// NewSidecar builds a sidecar; interval <= 0 selects one minute
func NewSidecar(backend StateBackend, store *Store, interval time.Duration, logger *slog.Logger, metrics *Metrics) *Sidecar {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = discardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Sidecar{
		backend:  backend,
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Save writes one snapshot now
func (s *Sidecar) Save() error {
	start := time.Now()
	if err := SaveStore(s.backend, s.store); err != nil {
		s.logger.Error("state save failed", "error", err)
		return err
	}
	s.metrics.StateSaves.Inc()
	s.logger.Debug("state saved", "entries", s.store.Len(), "took", time.Since(start))
	return nil
}

// Run saves every interval until ctx ends, then saves once more.
// Periodic failures are logged and retried at the next tick; the final save's error is returned.
func (s *Sidecar) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Save()
		case <-ctx.Done():
			return s.Save()
		}
	}
}
