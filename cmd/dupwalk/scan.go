package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	dupwalk "github.com/mattkeenan/dupwalk/pkg"
)

type scanOptions struct {
	prune       bool
	metricsFile string
	format      string
}

func (o *scanOptions) overrides() []string {
	if o.format == "" {
		return nil
	}
	return []string{"format:" + o.format}
}

// scanSummary is what a finished (or interrupted) run reports
type scanSummary struct {
	root        string
	restored    int
	pruned      int
	groups      int
	events      int
	stats       dupwalk.RunStats
	elapsed     time.Duration
	interrupted bool
}

func newScanCommand(g *globalOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Hash every eligible file under root and report duplicates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := setupSignalContext(cmd.Context(), cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(rootArg(args), g.configOverrides(opts.overrides()...), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			summary, err := runScan(ctx, s, opts.prune, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			format := s.config.GetOutputConfig().Format
			if format == "human" {
				printSummary(out, summary)
			}
			if err := printDuplicates(out, format, s.store.DuplicateGroups()); err != nil {
				return err
			}
			if err := s.writeMetrics(opts.metricsFile); err != nil {
				return err
			}
			if summary.interrupted {
				return fmt.Errorf("scan interrupted: %w", context.Canceled)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Drop saved entries whose files no longer exist before scanning")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write prometheus counters to this textfile after the run")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: human, json, fdupes")
	return cmd
}

func newWatchCommand(g *globalOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Scan root, then keep rescanning folders as they change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := setupSignalContext(cmd.Context(), cmd.ErrOrStderr())
			defer cancel()

			s, err := openSession(rootArg(args), g.configOverrides(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			s.store.AddListener(printEvent(out, s.store))

			watch := func(ctx context.Context, walker *dupwalk.Walker) error {
				return dupwalk.Watch(ctx, walker, s.store, dupwalk.WatchOptions{
					Debounce: s.config.GetWatchConfig().Debounce,
					Logger:   s.logger,
					OnReady: func() {
						fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", s.root)
					},
				})
			}
			summary, err := runScan(ctx, s, opts.prune, watch)
			if err != nil {
				return err
			}
			printSummary(out, summary)
			return s.writeMetrics(opts.metricsFile)
		},
	}

	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Drop saved entries whose files no longer exist before scanning")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write prometheus counters to this textfile on exit")
	return cmd
}

// runScan walks the session's tree with the state sidecar saving alongside.
// after, when set, runs once the walk completes and before the final save.
// Cancellation is reported through summary.interrupted, not as an error.
func runScan(ctx context.Context, s *session, prune bool, after func(context.Context, *dupwalk.Walker) error) (scanSummary, error) {
	start := time.Now()
	summary := scanSummary{root: s.root, restored: s.loaded}

	if prune {
		n, err := s.store.Prune(ctx)
		if err != nil && ctx.Err() == nil {
			return summary, err
		}
		summary.pruned = n
	}

	recorder := &dupwalk.DuplicateRecorder{}
	s.store.AddListener(recorder.Listen)
	s.store.AddListener(dupwalk.LogDuplicates(s.store, s.logger))
	walker, err := s.newWalker(func(path string) {
		if dupwalk.IsDebugEnabled("walk") {
			dupwalk.VerboseLog(2, "folder done: %s", path)
		}
	})
	if err != nil {
		return summary, err
	}

	sidecar := dupwalk.NewSidecar(s.backend, s.store, s.config.GetStateConfig().SaveInterval, s.logger, s.metrics)
	sidecarCtx, stopSidecar := context.WithCancel(ctx)
	defer stopSidecar()

	var group errgroup.Group
	group.Go(func() error {
		return sidecar.Run(sidecarCtx)
	})
	group.Go(func() error {
		defer stopSidecar()
		if err := walker.Run(ctx); err != nil {
			return err
		}
		s.logger.Info("walk complete", "folders", len(walker.CompletedFolders()), "took", time.Since(start))
		if after != nil {
			return after(ctx, walker)
		}
		return nil
	})

	err = group.Wait()
	summary.elapsed = time.Since(start)
	summary.groups = len(s.store.DuplicateGroups())
	summary.events = len(recorder.Events())
	summary.stats, _ = s.metrics.Stats()

	if ctx.Err() != nil {
		summary.interrupted = true
		s.logger.Warn("run interrupted", "outstanding", walker.Outstanding())
		return summary, nil
	}
	if errors.Is(err, dupwalk.ErrWaitInterrupted) {
		summary.interrupted = true
		return summary, nil
	}
	return summary, err
}

func printSummary(w io.Writer, summary scanSummary) {
	title := color.New(color.Bold)
	if summary.interrupted {
		title = color.New(color.FgYellow, color.Bold)
		title.Fprintf(w, "Interrupted scan of %s\n", summary.root)
	} else {
		title.Fprintf(w, "Scanned %s\n", summary.root)
	}

	st := summary.stats
	rows := [][]string{
		{"Folders completed", humanize.Comma(int64(st.FoldersCompleted))},
		{"Files hashed", humanize.Comma(int64(st.FilesHashed))},
		{"Bytes hashed", humanize.IBytes(st.BytesHashed)},
		{"Cache hits", humanize.Comma(int64(st.CacheHits))},
		{"Unreadable files", humanize.Comma(int64(st.HashErrors))},
		{"Entries restored", humanize.Comma(int64(summary.restored))},
		{"Entries pruned", humanize.Comma(int64(summary.pruned))},
		{"Duplicate groups", humanize.Comma(int64(summary.groups))},
		{"New duplicates", humanize.Comma(int64(summary.events))},
		{"State saves", humanize.Comma(int64(st.StateSaves))},
		{"Elapsed", summary.elapsed.Round(time.Millisecond).String()},
	}
	fmt.Fprintln(w, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
}

// printEvent returns a listener that prints each duplicate as it is found,
// followed by every path that now shares its content
func printEvent(w io.Writer, store *dupwalk.Store) func(dupwalk.DuplicateEvent) {
	hash := color.New(color.FgCyan)
	return func(ev dupwalk.DuplicateEvent) {
		hash.Fprintf(w, "%s", ev.Fingerprint.String()[:16])
		fmt.Fprintf(w, "  %s (%d copies)\n", ev.Path, ev.Count)
		for _, path := range store.LookupPaths(ev.Fingerprint) {
			if path != ev.Path {
				fmt.Fprintf(w, "    %s\n", path)
			}
		}
	}
}
