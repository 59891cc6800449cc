// sercha-coordinator-cli is a thin operator client for the coordinator's
// HTTP API: trigger and cancel syncs, stream run progress, manage sources,
// and inspect schedules and connectors. It never touches the database
// directly.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	coordinatorURL string
	httpClient     = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "sercha-coordinator-cli",
		Short:        "Operate the sync coordinator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator", envOr("COORDINATOR_URL", "http://localhost:8090"), "coordinator base URL")

	rootCmd.AddCommand(syncCommand())
	rootCmd.AddCommand(sourceCommand())
	rootCmd.AddCommand(schedulesCommand())
	rootCmd.AddCommand(connectorsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
