// Command grideye runs the thermal intrusion node and its tooling.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "grideye",
		Short: "GridEye thermal intrusion detection node",
		Long: `grideye reads 8x8 thermal frames from the GridEye board over serial,
learns the background, detects warm objects entering or leaving the field of
view and raises an alarm when one enters the configured zone.

Use "grideye serve --demo" to run against a synthetic scene without hardware.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newReplayCmd(),
		newMigrateCmd(),
		newViewCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
