package dupwalk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchOptions configures Watch
type WatchOptions struct {
	Debounce time.Duration // events are batched for this long; default 500ms
	Logger   *slog.Logger
	// OnReady, if set, runs once every completed folder is being watched
	OnReady func()
	// OnBatch, if set, runs after every batch of folders has been rescanned
	OnBatch func(folders []string)
}

// Watch keeps the store current after a full run. Every completed folder is
// watched; changes are batched per folder and the affected folders are queued
// and drained again. Removed paths leave the store immediately. Watch returns
// nil when ctx ends.
func Watch(ctx context.Context, walker *Walker, store *Store, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	watched := make(map[string]struct{})
	addWatches := func() {
		for _, dir := range walker.CompletedFolders() {
			if _, ok := watched[dir]; ok {
				continue
			}
			if err := fsw.Add(dir); err != nil {
				opts.Logger.Warn("cannot watch folder", "path", dir, "error", err)
				continue
			}
			watched[dir] = struct{}{}
		}
	}
	addWatches()
	opts.Logger.Info("watching for changes", "folders", len(watched))
	if opts.OnReady != nil {
		opts.OnReady()
	}

	ticker := time.NewTicker(opts.Debounce)
	defer ticker.Stop()
	dirty := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == MarkerName {
				continue
			}
			if !walker.Eligible(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				removed := store.RemoveTree(ev.Name)
				delete(watched, ev.Name)
				if IsDebugEnabled("watch") {
					VerboseLog(3, "watch: %s gone, dropped %d entries", ev.Name, removed)
				}
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
					dirty[ev.Name] = struct{}{}
				} else {
					dirty[filepath.Dir(ev.Name)] = struct{}{}
				}
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			opts.Logger.Warn("watch error", "error", err)

		case <-ticker.C:
			if len(dirty) == 0 {
				continue
			}
			folders := make([]string, 0, len(dirty))
			for dir := range dirty {
				folders = append(folders, dir)
			}
			sort.Strings(folders)
			dirty = make(map[string]struct{})

			if err := rescan(ctx, walker, folders); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				opts.Logger.Warn("rescan failed", "error", err)
				continue
			}
			addWatches()
			opts.Logger.Info("rescanned changed folders", "count", len(folders))
			if opts.OnBatch != nil {
				opts.OnBatch(folders)
			}
		}
	}
}

func rescan(ctx context.Context, walker *Walker, folders []string) error {
	for _, dir := range folders {
		walker.Enqueue(dir)
	}
	if err := walker.Drain(ctx, nil); err != nil {
		return err
	}
	return walker.Wait(ctx)
}
