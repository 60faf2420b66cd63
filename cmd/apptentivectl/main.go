// Package main is apptentivectl, a command line host for the SDK core. Each
// command opens the local store, connects the conversation and runs one SDK
// operation against the configured backend API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "apptentivectl",
	Short: "Drive the ApptentiveKit SDK core from the command line",
	Long: `apptentivectl hosts the SDK core in a short-lived process.

Settings come from APPTENTIVE_* environment variables (API base URL, app key
and signature, storage backend). The conversation, manifest and payload queue
persist between runs, so queued payloads are retried by the next command.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func registerCommands() {
	rootCmd.AddCommand(
		newEngageCmd(),
		newStatusCmd(),
		newPersonCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newServeCmd(),
	)
}
