// Package main provides the PageFinder CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/cmd/pagefinder/ui"
	"github.com/mmumbaiwala/PageFinder/internal/cache"
	"github.com/mmumbaiwala/PageFinder/internal/config"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
	"github.com/mmumbaiwala/PageFinder/internal/store"
)

const version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration, logger and terminal output, set by PersistentPreRunE
	cfg    *config.Config
	logger *observability.Logger
	term   *ui.UI
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "pagefinder",
	Short: "PageFinder extracts and indexes text from PDF collections",
	Long: `PageFinder processes a directory of PDF documents into a searchable store
of per-page text.

Use this tool to:
- Process a directory of PDFs concurrently, resuming interrupted runs
- Inspect document status, checkpoints, and run history
- Search committed page text
- Export the store to an XLSX workbook
- Purge documents, orphans, or the whole store
- Serve a read-only status API

Runs are incremental: unchanged documents are skipped by content
fingerprint, and partially processed documents resume from their last
checkpoint. All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load() // Ignore error if .env doesn't exist

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logFormat := cfg.Logging.Format
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "pagefinder",
		})

		term = ui.New(outputJSON, noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// term is nil when PersistentPreRunE itself failed.
		if term != nil {
			term.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{"version": version})
				return
			}
			fmt.Printf("pagefinder v%s\n", version)
		},
	}
}

// openStore opens the configured backing store and runs migrations.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// openCache builds the configured cache client, or nil when caching is
// disabled. Falls back to the in-process cache when Redis is unreachable.
func openCache() cache.Client {
	if !cfg.Cache.EnableCaching {
		return nil
	}
	if cfg.Cache.Driver == "redis" {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process cache")
			return cache.NewMemoryClient(cfg.Cache.MaxEntries)
		}
		return client
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
