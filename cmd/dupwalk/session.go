package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	dupwalk "github.com/mattkeenan/dupwalk/pkg"
)

// session owns everything one command builds for a tree: config, lock,
// logger, pools, store and state backend.
type session struct {
	root     string
	stateDir string
	config   *dupwalk.Config
	logger   *slog.Logger
	lock     *dupwalk.StateLock
	ignore   *dupwalk.IgnoreManager
	metrics  *dupwalk.Metrics
	pools    *dupwalk.Pools
	computer *dupwalk.DigestComputer
	store    *dupwalk.Store
	backend  dupwalk.StateBackend
	loaded   int
}

// openSession prepares root for a run and restores the saved state.
// The caller must call close.
func openSession(root string, overrides []string, stderr io.Writer) (_ *session, err error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dupwalk.ErrRootMissing, root, err)
	}
	// Checked before the config load, which would otherwise create the tree
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dupwalk.ErrRootMissing, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", dupwalk.ErrRootMissing, abs)
	}

	s := &session{root: abs, stateDir: filepath.Join(abs, dupwalk.StateDir)}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if s.config, err = dupwalk.LoadConfig(s.stateDir); err != nil {
		return nil, err
	}
	if err = s.config.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	if err = s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	all := s.config.GetAllConfig()

	dupwalk.SetVerboseLevel(all.Verbose.Level)
	dupwalk.SetDebugFlags(all.Verbose.Debug)
	logger, err := dupwalk.NewLogger(dupwalk.LogOptions{
		Format: all.Log.Format,
		Level:  dupwalk.LevelForVerbosity(all.Verbose.Level),
		Output: stderr,
	})
	if err != nil {
		return nil, err
	}
	s.logger = logger.With("run", uuid.NewString())
	dupwalk.SetVerboseLogger(s.logger)

	if s.lock, err = dupwalk.LockState(s.stateDir); err != nil {
		return nil, err
	}

	s.ignore = dupwalk.NewIgnoreManager(abs)
	if err = s.ignore.LoadIgnorePatterns(); err != nil {
		return nil, err
	}

	algorithm, err := dupwalk.GetHashAlgorithm(all.Hash.Default)
	if err != nil {
		return nil, err
	}
	bufferSize, err := s.config.HashBufferBytes()
	if err != nil {
		return nil, err
	}

	s.metrics = dupwalk.NewMetrics()
	s.pools = dupwalk.NewPools(all.Performance.IOWorkers, all.Performance.OrchestrationWorkers)
	s.computer, err = dupwalk.NewDigestComputer(s.pools.IO, dupwalk.DigestOptions{
		Algorithm:  algorithm,
		BufferSize: bufferSize,
		Metrics:    s.metrics,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, err
	}
	s.store = dupwalk.NewStore(s.computer, s.pools.Orchestration, s.metrics, s.logger)

	if s.backend, err = dupwalk.OpenBackend(all.State.Backend, s.stateDir, algorithm.TypeID); err != nil {
		return nil, err
	}
	s.loaded = dupwalk.LoadStore(s.backend, s.store, s.logger)

	s.logger.Info("session ready",
		"root", abs,
		"algorithm", algorithm.Name,
		"backend", all.State.Backend,
		"restored", s.loaded,
		"io_workers", s.pools.IO.Workers(),
		"orchestration_workers", s.pools.Orchestration.Workers())
	return s, nil
}

// newWalker builds a walker over the session's tree using its ignore rules
func (s *session) newWalker(onFolderDone func(string)) (*dupwalk.Walker, error) {
	return dupwalk.NewWalker(s.root, s.store, s.pools, dupwalk.WalkerOptions{
		Eligible:     s.ignore.Eligible,
		MaxInFlight:  s.config.GetPerformanceConfig().MaxInFlightFolders,
		Logger:       s.logger,
		Metrics:      s.metrics,
		OnFolderDone: onFolderDone,
	})
}

// writeMetrics writes the run counters when path is set
func (s *session) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := s.metrics.WriteTextfile(path); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// close releases everything openSession acquired, in reverse order
func (s *session) close() error {
	var errs []error
	if s.pools != nil {
		s.pools.Shutdown()
	}
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	dupwalk.SetVerboseLogger(nil)
	return errors.Join(errs...)
}
