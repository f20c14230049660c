package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	dupwalk "github.com/mattkeenan/dupwalk/pkg"
)

func newDupesCommand(g *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dupes [root]",
		Short: "List duplicate groups from the saved state without scanning",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []string
			if format != "" {
				extra = append(extra, "format:"+format)
			}
			s, err := openSession(rootArg(args), g.configOverrides(extra...), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			return printDuplicates(cmd.OutOrStdout(), s.config.GetOutputConfig().Format, s.store.DuplicateGroups())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: human, json, fdupes")
	return cmd
}

// printDuplicates writes groups in the configured output format
func printDuplicates(w io.Writer, format string, groups []dupwalk.DuplicateGroup) error {
	switch format {
	case "json":
		if groups == nil {
			groups = []dupwalk.DuplicateGroup{}
		}
		data, err := json.MarshalIndent(groups, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode duplicate groups: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "fdupes":
		// fdupes style: one path per line, groups separated by a blank line
		for i, group := range groups {
			if i > 0 {
				fmt.Fprintln(w)
			}
			for _, path := range group.Files {
				fmt.Fprintln(w, path)
			}
		}
		return nil

	default:
		printDuplicatesHuman(w, groups)
		return nil
	}
}

func printDuplicatesHuman(w io.Writer, groups []dupwalk.DuplicateGroup) {
	if len(groups) == 0 {
		color.New(color.FgGreen).Fprintln(w, "No duplicates found")
		return
	}

	hash := color.New(color.FgCyan)
	var wasted uint64
	for _, group := range groups {
		size := fileSize(group.Files[0])
		wasted += size * uint64(group.Count-1)

		hash.Fprintf(w, "%s", group.Hash)
		fmt.Fprintf(w, "  %d copies, %s each\n", group.Count, humanize.IBytes(size))
		for _, path := range group.Files {
			fmt.Fprintf(w, "    %s\n", path)
		}
	}
	color.New(color.FgYellow).Fprintf(w, "%s in %s duplicate groups could be reclaimed\n",
		humanize.IBytes(wasted), humanize.Comma(int64(len(groups))))
}

// fileSize is best effort; a file removed since it was hashed counts as zero
func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
