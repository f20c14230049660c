package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	verbose   int
	debug     string
	overrides []string
	noColor   bool
}

// configOverrides folds the shorthand flags into key:value overrides.
// Explicit --override values are applied last so they win.
func (g *globalOptions) configOverrides(extra ...string) []string {
	var out []string
	if g.verbose > 0 {
		out = append(out, fmt.Sprintf("level:%d", g.verbose))
	}
	if g.debug != "" {
		out = append(out, "debug:"+g.debug)
	}
	out = append(out, extra...)
	return append(out, g.overrides...)
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "dupwalk",
		Short:         "Find duplicate files by content, resuming where the last run stopped",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.NoColor = !useColor(cmd.OutOrStdout(), opts.noColor) //nolint:reassign // library global
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	flags.StringVar(&opts.debug, "debug", "", "Comma-separated debug flags (walk,store,watch)")
	flags.StringArrayVarP(&opts.overrides, "override", "o", nil, "Override a config value, key:value (repeatable)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable coloured output")

	rootCmd.AddCommand(newScanCommand(opts))
	rootCmd.AddCommand(newDupesCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))

	return rootCmd
}

// useColor reports whether w is an interactive terminal and colour was not disabled
func useColor(w io.Writer, disabled bool) bool {
	if disabled || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// rootArg returns the tree root named on the command line, defaulting to "."
func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
