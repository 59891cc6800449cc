// The coordinator is the single process that schedules, admits, and
// supervises sync runs: it serves the operator API and the connector SDK
// surface, runs the scheduler sweep, and drains the Event Queue into the
// document store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/api"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/config"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/indexer"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/rpcclient"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/scheduler"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/sdksurface"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/storage/s3blob"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/storage/sqlite"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/syncmanager"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

func main() {
	var (
		configPath string
		port       int
		dataDir    string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "sercha-coordinator",
		Short: "Run the sync coordination plane",
		Long: `Starts the sync coordinator: the operator HTTP API, the connector SDK
surface, the scheduler sweep, and the event queue consumer, backed by a
single SQLite database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}
			logger.SetVerbose(cfg.Verbose)
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to the coordinator TOML config file")
	rootCmd.Flags().IntVar(&port, "port", config.DefaultPort, "port for the operator and SDK HTTP surface")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the coordinator database")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening coordinator store: %w", err)
	}
	defer store.Close()

	blobs, err := buildBlobStore(ctx, cfg, store)
	if err != nil {
		return err
	}

	runs := store.SyncRunLedger()
	sources := store.SourceStore()
	events := store.EventQueue()
	embeddings := store.EmbeddingQueue()

	// Connectors never resume on their own, so every run still marked
	// running belongs to a previous process life and is failed up front.
	if n, err := runs.FailAllRunning(ctx); err != nil {
		return fmt.Errorf("recovering interrupted sync runs: %w", err)
	} else if n > 0 {
		logger.Info("coordinator: failed %d sync runs interrupted by restart", n)
	}

	connectorURLs := cfg.TypedConnectorURLs()
	connector := rpcclient.New()

	manager := syncmanager.New(syncmanager.Config{
		MaxConcurrentSyncs:        cfg.MaxConcurrentSyncs,
		MaxConcurrentSyncsPerType: cfg.MaxConcurrentSyncsPerType,
		StaleSyncTimeout:          cfg.StaleSyncTimeout(),
		ConnectorURLs:             connectorURLs,
		CoordinatorURL:            cfg.ResolvedPublicURL(),
	}, runs, sources, store.CredentialsStore(), connector)

	sweep := scheduler.New(scheduler.Config{Interval: cfg.SchedulerInterval()}, sources, manager)
	go func() {
		if err := sweep.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("coordinator: scheduler stopped: %v", err)
		}
	}()
	defer sweep.Stop()

	consumer := indexer.New(indexer.Config{}, events, store.DocumentStore(), embeddings)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("coordinator: event consumer stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	api.New(manager, sources, runs, connector, connectorURLs).Register(mux)
	sdksurface.New(events, blobs, runs).Register(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("coordinator: listening on %s", addr)
	return api.ListenAndServe(ctx, addr, mux)
}

func buildBlobStore(ctx context.Context, cfg config.Config, store *sqlite.Store) (ports.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		return s3blob.New(ctx, s3blob.Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return store.BlobStore(), nil
	}
}
