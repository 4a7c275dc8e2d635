/*
main.go - Application entry point

PURPOSE:
  Runs the listing code service and its maintenance commands.

COMMANDS:
  serve              HTTP API (default when no command is given)
  preview            Print the next free code for a prefix or labels
  reserve            Reserve the next code
  import FILE        Seed used codes from a legacy CSV
  export FILE        Write the XLSX workbook
  verify [--repair]  Check counters against used codes
  rules              Print the active prefix rule document

GLOBAL FLAGS:
  --config   YAML config file (default: listing.yaml; missing file is fine)
  --db       SQLite database path, overrides config
             Use ":memory:" for an in-memory database
  --verbose  Debug logging

ENVIRONMENT:
  LISTING_DB, LISTING_PORT, LISTING_LOG_LEVEL, LISTING_RULES

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the integrity scheduler
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration file format
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/listing-codes/api"
	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/config"
	"github.com/warp/listing-codes/factory"
	"github.com/warp/listing-codes/store/sqlite"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger

	buildLogger = func(zc zap.Config) (*zap.Logger, error) { return zc.Build() }
)

var rootCmd = &cobra.Command{
	Use:   "listing-codes",
	Short: "Listing code allocator for real-estate offices",
	Long: `Assigns listing codes such as C-0001 or BL-0042.

The prefix is chosen from the transaction and building type of a listing;
the number is the next free one in that prefix's series.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}

		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(cfg.GetLogLevel())
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = buildLogger(zc)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "listing.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, previewCmd, reserveCmd, importCmd, exportCmd, verifyCmd, rulesCmd)
}

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run executes the root command and flushes the logger afterwards.
// PersistentPostRun is skipped when a command fails, so the flush lives here.
func run() error {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	return err
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	store     *sqlite.Store
	allocator *codes.Allocator
	resolver  *codes.Resolver
}

func openApp() (*app, error) {
	resolver := codes.DefaultResolver()
	if cfg.Codes.RulesFile != "" {
		var err error
		resolver, err = factory.LoadRules(cfg.Codes.RulesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("prefix rules loaded", zap.String("file", cfg.Codes.RulesFile))
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	allocator := codes.NewAllocator(store,
		codes.WithGuardLimit(cfg.Codes.GuardLimit),
		codes.WithLogger(logger))

	return &app{store: store, allocator: allocator, resolver: resolver}, nil
}

func (a *app) Close() error { return a.store.Close() }

// =============================================================================
// SERVE
// =============================================================================

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.store, a.allocator, a.resolver, logger)

	if cfg.Server.LoadScenarios {
		if err := handler.LoadScenarioByID(cmd.Context(), "busy-office"); err != nil {
			logger.Warn("failed to load demo scenario", zap.Error(err))
		}
	}

	if interval := cfg.GetVerifyInterval(); interval > 0 {
		scheduler := api.NewIntegrityScheduler(a.allocator, logger)
		scheduler.CheckInterval = interval
		scheduler.AutoRepair = cfg.Codes.AutoRepair
		handler.Integrity = scheduler
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
