// Package main provides the entry point for the specpriv CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liberty-specpriv/specpriv/cmd/specpriv/commands"
	"github.com/liberty-specpriv/specpriv/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "specpriv",
		Short: "THE CORE - automatic loop parallelization toolchain",
		Long: `specpriv critiques a loop's dependence graph for parallelism, selects
remedies for the dependences standing in its way, and drives a
process-per-worker speculative execution of the resulting plan.

Commands:
  profile   Replay an allocation/access trace into a points-to profile
  remedy    Annotate a dependence graph's edges with discharging remedies
  plan      Run the critic over a loop's dependence graph
  run       Spawn the speculative parallel worker processes
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewProfileCommand())
	rootCmd.AddCommand(commands.NewRemedyCommand())
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(os.Stdout, version.String())
		},
	}
}
