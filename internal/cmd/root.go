// Package cmd wires zibuild's cobra subcommands to the core components:
// config loading, recipe loading, the fetch/build/archivx stages, the
// pipeline engine and the terminal progress UI.
package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zibuild/zibuild/internal/config"
	"github.com/zibuild/zibuild/internal/errs"
	"github.com/zibuild/zibuild/internal/zlog"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "zibuild",
	Short:         "Download, build and package source recipes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command, printing any error and setting the
// process exit code per §6: 0 on complete success, 1 otherwise.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(describeCmd)
}

func logger() *log.Logger { return zlog.New(cfg.Verbose) }

// printError renders the top-level failure the way §7 specifies: an
// AggregateError prints its header plus one indented line per error;
// anything else prints as a single red line.
func printError(err error) {
	red := color.New(color.FgRed)
	if agg, ok := err.(*errs.AggregateError); ok {
		red.Fprintln(os.Stderr, agg.Error())
		for _, e := range agg.Errors {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		return
	}
	red.Fprintln(os.Stderr, err.Error())
}
