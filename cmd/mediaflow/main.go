package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/ingest"
	"mediaflow/internal/metadata"
	"mediaflow/internal/scraper"
	"mediaflow/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mediaflow",
	Short:   "Indian OTT release catalog",
	Long:    "MediaFlow scrapes new Indian streaming releases, enriches them with TMDB metadata, and serves the catalog as a Stremio addon.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mediaflow", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/mediaflow/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the source, languages, and the TMDB API key env var.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Buffer:")
		fmt.Printf("  Total scraped: %d\n", stats.ScrapedTotal)
		fmt.Printf("  Pending: %d\n", stats.ScrapedPending)
		fmt.Printf("  Processed: %d\n", stats.ScrapedProcessed)
		fmt.Printf("  Errors: %d\n", stats.ScrapedErrors)
		fmt.Println("\nCatalog:")
		fmt.Printf("  Total items: %d\n", stats.MediaTotal)
		fmt.Printf("  Movies: %d\n", stats.MediaMovies)
		fmt.Printf("  Series: %d\n", stats.MediaSeries)
		fmt.Printf("  Approved: %d\n", stats.MediaApproved)
		fmt.Printf("  Awaiting review: %d\n", stats.MediaNew)
		return nil
	},
}

// --- scan command ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one full ingestion cycle: scrape -> resolve -> promote",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := newIngestService(db).RunDailyScan(context.Background())
		if err != nil {
			return err
		}
		if result.Skipped {
			fmt.Println("An ingestion cycle is already running, nothing to do.")
			return nil
		}

		fmt.Println("\nScan complete:")
		fmt.Printf("  Buffered movies: %d\n", result.BufferedMovies)
		fmt.Printf("  Buffered series: %d\n", result.BufferedSeries)
		printProcessResult(result.Process)
		return nil
	},
}

// --- process command ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Promote pending buffered records without scraping",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := newIngestService(db).ProcessPending(context.Background())
		if err != nil {
			return err
		}

		fmt.Println("\nPromotion complete:")
		printProcessResult(*result)
		return nil
	},
}

func printProcessResult(r ingest.ProcessResult) {
	fmt.Printf("  Processed: %d\n", r.Processed)
	fmt.Printf("  Created: %d\n", r.Created)
	fmt.Printf("  Updated: %d\n", r.Updated)
	fmt.Printf("  Without metadata: %d\n", r.NoMetadata)
	fmt.Printf("  Errors: %d\n", r.Errors)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server with the background ingestion scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := newIngestService(db)
		go runScheduler(context.Background(), svc)

		resolver := metadata.New(cfg.TMDBAPIKey(), cfg.Metadata.TMDBBaseURL, cfg.Metadata.CinemetaBaseURL)
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, cfg, resolver, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// runScheduler runs one ingestion cycle at startup, then one per
// configured interval. Overlapping runs are skipped by the service.
func runScheduler(ctx context.Context, svc *ingest.Service) {
	run := func() {
		if _, err := svc.RunDailyScan(ctx); err != nil {
			log.Printf("Scheduled ingestion failed: %v", err)
		}
	}
	run()

	hours := cfg.Ingestion.IntervalHours
	if hours <= 0 {
		hours = 6
	}
	ticker := time.NewTicker(time.Duration(hours) * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func newIngestService(db *database.DB) *ingest.Service {
	fetcher := scraper.New(cfg.Source.BaseURL, cfg.Source.DetailConcurrency)
	resolver := metadata.New(cfg.TMDBAPIKey(), cfg.Metadata.TMDBBaseURL, cfg.Metadata.CinemetaBaseURL)
	return ingest.New(cfg, db, fetcher, resolver)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "mediaflow.db")
	return database.Open(dbPath)
}
