// The filesystem connector worker: accepts sync jobs from the coordinator,
// walks local directory trees, and reports documents back through the
// coordinator's SDK surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-coordinator/internal/connectors/fsworker"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

func main() {
	var (
		port    int
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:   "sercha-connector-filesystem",
		Short: "Run the filesystem connector worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if v := os.Getenv("PORT"); v != "" && !cmd.Flags().Changed("port") {
				fmt.Sscanf(v, "%d", &port) //nolint:errcheck
			}
			logger.SetVerbose(verbose || os.Getenv("SERCHA_VERBOSE") == "1")

			server := fsworker.NewServer(nil)
			addr := fmt.Sprintf(":%d", port)
			logger.Info("fsworker: listening on %s", addr)
			return server.ListenAndServe(cmd.Context(), addr)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().IntVar(&port, "port", 8091, "port for the worker HTTP surface")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
