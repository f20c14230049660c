package dupwalk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// WalkerOptions configures a Walker; zero values select defaults
type WalkerOptions struct {
	Eligible     func(path string) bool // nil admits everything
	MaxInFlight  int                    // folders with file digests outstanding; default 1000
	Logger       *slog.Logger
	Metrics      *Metrics
	OnFolderDone func(path string)
	Now          func() time.Time
}

// Walker crawls a tree folder by folder, stalest folder first, handing every
// regular file to the store and writing a marker into each folder once all of
// its files and subfolders are done.
type Walker struct {
	root     string
	store    *Store
	pools    *Pools
	eligible func(string) bool
	queue    *folderQueue
	throttle *semaphore.Weighted
	barrier  *completionBarrier
	logger   *slog.Logger
	metrics  *Metrics
	onDone   func(string)
	now      func() time.Time

	completedMu sync.Mutex
	completed   map[string]struct{}
}

// NewWalker validates root and builds a walker over it
func NewWalker(root string, store *Store, pools *Pools, opts WalkerOptions) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootMissing, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootMissing, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootMissing, abs)
	}

	if opts.Eligible == nil {
		opts.Eligible = func(string) bool { return true }
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlightFolders
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Walker{
		root:      abs,
		store:     store,
		pools:     pools,
		eligible:  opts.Eligible,
		queue:     newFolderQueue(),
		throttle:  semaphore.NewWeighted(int64(opts.MaxInFlight)),
		barrier:   newCompletionBarrier(),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		onDone:    opts.OnFolderDone,
		now:       opts.Now,
		completed: make(map[string]struct{}),
	}, nil
}

// Root returns the absolute root folder
func (w *Walker) Root() string { return w.root }

// Eligible applies the walker's predicate; the root itself is always eligible
func (w *Walker) Eligible(path string) bool {
	return path == w.root || w.eligible(path)
}

// Enqueue queues the absolute folder path for listing if it is eligible.
// It reports whether a new entry was added.
func (w *Walker) Enqueue(path string) bool {
	_, added := w.enqueue(filepath.Clean(path))
	return added
}

// enqueue returns the record a parent should wait on: the new entry's, or the one already waiting.
// nil means the folder is not eligible.
func (w *Walker) enqueue(path string) (*folderRecord, bool) {
	if !w.Eligible(path) {
		return nil, false
	}
	if pf, ok := w.queue.Pending(path); ok {
		return pf.record, false
	}

	staleness, checked := readMarker(path)
	pf, added := w.queue.Push(newPendingFolder(path, staleness, checked, newFolderRecord(path)))
	if added {
		w.barrier.Add()
		w.metrics.QueueDepth.Inc()
		if IsDebugEnabled("walk") {
			VerboseLog(3, "walk: queued %s (checked=%t staleness=%v)", path, checked, staleness)
		}
	}
	return pf.record, added
}

// Drain lists queued folders until the queue is empty, then hands onDrained to the
// orchestration pool and returns without waiting for outstanding digests.
// When ctx ends every still-queued folder is released without a marker.
func (w *Walker) Drain(ctx context.Context, onDrained func()) error {
	defer VerboseEnter()()

	for {
		if err := ctx.Err(); err != nil {
			w.abandonQueued()
			return err
		}

		pf, ok := w.queue.Pop()
		if !ok {
			break
		}
		w.metrics.QueueDepth.Dec()

		if err := w.throttle.Acquire(ctx, 1); err != nil {
			w.signal(pf)
			w.abandonQueued()
			return err
		}
		w.processFolder(ctx, pf)
	}

	if onDrained != nil {
		if err := w.pools.Orchestration.Submit(onDrained); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every discovered folder is done or ctx ends (ErrWaitInterrupted)
func (w *Walker) Wait(ctx context.Context) error {
	return w.barrier.Wait(ctx)
}

// Run drains from the root and waits for the whole tree to finish
func (w *Walker) Run(ctx context.Context) error {
	w.enqueue(w.root)
	if err := w.Drain(ctx, nil); err != nil {
		return err
	}
	return w.Wait(ctx)
}

// processFolder lists pf, submits its files before queueing its subfolders and
// arranges for pf to finish once all of them have.
// The caller holds one throttle slot, released when pf's own files settle.
func (w *Walker) processFolder(ctx context.Context, pf *pendingFolder) {
	w.metrics.InFlightFolders.Inc()

	// ReadDir returns entries sorted by name
	entries, err := os.ReadDir(pf.Path)
	if err != nil {
		w.logger.Warn("cannot list folder", "path", pf.Path, "error", err)
		entries = nil
	}

	var files []Awaitable
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == MarkerName {
			continue
		}
		full := filepath.Join(pf.Path, e.Name())
		if !w.eligible(full) {
			continue
		}
		files = append(files, w.store.GetOrRefresh(ctx, full))
	}

	var children []Awaitable
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if record, _ := w.enqueue(filepath.Join(pf.Path, e.Name())); record != nil {
			children = append(children, record)
		}
	}

	if IsDebugEnabled("walk") {
		VerboseLog(3, "walk: %s has %d files and %d subfolders", pf.Path, len(files), len(children))
	}

	WhenAll(files, func() {
		w.metrics.InFlightFolders.Dec()
		w.throttle.Release(1)
	})

	all := make([]Awaitable, 0, len(files)+len(children))
	all = append(all, files...)
	all = append(all, children...)
	if len(all) == 0 {
		w.finish(ctx, pf)
		return
	}
	WhenAll(all, func() {
		if err := w.pools.Orchestration.Submit(func() { w.finish(ctx, pf) }); err != nil {
			w.finish(ctx, pf)
		}
	})
}

// finish writes the marker unless the run was cancelled, then signals the folder done
func (w *Walker) finish(ctx context.Context, pf *pendingFolder) {
	if ctx.Err() == nil {
		if err := touchMarker(pf.Path, w.now()); err != nil {
			w.logger.Warn("cannot write folder marker", "path", pf.Path, "error", err)
		}
		w.completedMu.Lock()
		w.completed[pf.Path] = struct{}{}
		w.completedMu.Unlock()
		w.metrics.FoldersCompleted.Inc()
	}
	w.signal(pf)
}

func (w *Walker) signal(pf *pendingFolder) {
	pf.record.complete()
	if w.onDone != nil {
		w.onDone(pf.Path)
	}
	w.barrier.Done()
}

// abandonQueued releases every waiting folder without listing it
func (w *Walker) abandonQueued() {
	for {
		pf, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.metrics.QueueDepth.Dec()
		w.signal(pf)
	}
}

// CompletedFolders returns every folder that finished with a marker, sorted
func (w *Walker) CompletedFolders() []string {
	w.completedMu.Lock()
	defer w.completedMu.Unlock()
	out := make([]string, 0, len(w.completed))
	for p := range w.completed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Outstanding returns the number of discovered folders not yet done
func (w *Walker) Outstanding() int {
	return w.barrier.Outstanding()
}
