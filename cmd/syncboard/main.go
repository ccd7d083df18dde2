package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncboard",
		Short: "Real-time canvas collaboration coordinator",
		Long: `Syncboard coordinates concurrent editing of shared canvas documents.

One room exists per document: sessions connect over WebSocket, exchange
CRDT update deltas, and converge without locking. Idle rooms persist
their document snapshot to durable storage and hibernate until the next
connection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("syncboard %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
