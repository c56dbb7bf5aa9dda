package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/cosmetics-harvester/internal/api"
	"github.com/maltedev/cosmetics-harvester/internal/browser"
	"github.com/maltedev/cosmetics-harvester/internal/config"
	"github.com/maltedev/cosmetics-harvester/internal/database"
	"github.com/maltedev/cosmetics-harvester/internal/events"
	"github.com/maltedev/cosmetics-harvester/internal/harvest"
	"github.com/maltedev/cosmetics-harvester/internal/ratelimit"
	"github.com/maltedev/cosmetics-harvester/internal/scraper"
	"github.com/maltedev/cosmetics-harvester/internal/storage"
	"github.com/spf13/cobra"
)

var (
	outputPath      string
	linksOutputPath string
	headless        bool
	categoryFilter  []string
	statusAddr      string
	logLevel        string
	maxValue        int
	noProgress      bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvest the goldapple.ru face care catalog into a CSV table",
	Long: `harvester walks every face care category of goldapple.ru, collects product
links from the incrementally loaded listings, fetches each product and its
reviews, keeps face products only and writes product_id, price, rating,
review_count and composition to a CSV file.

Configuration comes from HARVESTER_* environment variables (and an optional
.env file); flags override them.`,
	SilenceUsage: true,
	RunE:         runHarvest,
}

func init() {
	persistent := rootCmd.PersistentFlags()
	persistent.StringArrayVarP(&categoryFilter, "category", "c", nil, "only use this category path (repeatable)")
	persistent.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	flags := rootCmd.Flags()
	flags.StringVarP(&outputPath, "output", "o", "", "CSV output file (default gold_apple_data.csv)")
	flags.StringVar(&linksOutputPath, "links-output", "", "write discovered product links as JSON to this file")
	flags.BoolVar(&headless, "headless", true, "run the browser without a window")
	flags.StringVar(&statusAddr, "status-addr", "", "serve the status API on this address, e.g. :8084")
	flags.IntVar(&maxValue, "max-value", 0, "maximum number of rows in the output table")
	flags.BoolVar(&noProgress, "no-progress", false, "hide the progress bar")

	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(installCmd)
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output.CSVPath = outputPath
	}
	if flags.Changed("links-output") {
		cfg.Output.LinksPath = linksOutputPath
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("status-addr") {
		cfg.Server.Addr = statusAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("max-value") {
		cfg.Output.MaxValue = maxValue
	}

	if err := cfg.FilterCategories(categoryFilter); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	csvSink := storage.NewCSVSink(cfg.Output.CSVPath)
	sinks := []harvest.Sink{csvSink}

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		recordSink := database.NewRecordSink(db, logger)
		if err := recordSink.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, recordSink)
	}

	if cfg.Redis.Addr != "" {
		client, err := events.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		publisher := events.NewPublisher(client, cfg.Redis.Stream, logger)
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	tracker := harvest.NewTracker()

	if cfg.Server.Addr != "" {
		handlers := api.NewHandlers(tracker, cfg.Categories, cfg.Crawler.MaxCacheValue, logger)
		server := api.NewServer(cfg.Server.Addr, api.NewRouter(handlers), cfg.Server.ShutdownTimeout, logger)
		if _, err := server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer server.Shutdown()
	}

	launcher := browser.NewLauncher(browser.OptionsFromConfig(cfg.Browser, cfg.Crawler, cfg.Fetcher.UserAgent), logger)
	crawler := scraper.NewCategoryCrawler(cfg.Site, cfg.Crawler, logger)
	fetcher := scraper.NewProductFetcher(&http.Client{}, cfg.Site, cfg.Fetcher, logger)

	opts := harvest.Options{
		Categories:    cfg.Categories,
		MaxValue:      cfg.Output.MaxValue,
		MaxCacheValue: cfg.Crawler.MaxCacheValue,
		LinksPath:     cfg.Output.LinksPath,
	}
	if cfg.Fetcher.RequestDelayMax > 0 {
		opts.Pacer = ratelimit.NewSimpleRateLimiter(cfg.Fetcher.RequestDelayMin, cfg.Fetcher.RequestDelayMax)
	}
	if !noProgress {
		opts.ProgressOutput = os.Stderr
	}

	h := harvest.New(launcher, crawler, fetcher, sinks, opts, tracker, logger)

	report, err := h.Run(ctx)
	if report != nil {
		printSummary(cmd.OutOrStdout(), report, csvSink.Filename())
	}
	if err != nil && ctx.Err() != nil {
		logger.Warn("harvest interrupted, partial results written", "error", err)
	}
	return err
}

func printSummary(w io.Writer, report *harvest.Report, csvPath string) {
	partial := 0
	for _, c := range report.Categories {
		if c.Partial {
			partial++
		}
	}

	fmt.Fprintf(w, "\nrun %s\n", report.RunID)
	fmt.Fprintf(w, "categories: %d crawled, %d partial\n", len(report.Categories), partial)
	fmt.Fprintf(w, "product links: %d\n", report.URLs)
	fmt.Fprintf(w, "processed: %d (accepted %d, filtered %d, failed %d)\n",
		report.Processed, report.Accepted, report.Filtered, report.Failed)
	fmt.Fprintf(w, "%d products saved to %s\n", report.Records, csvPath)
}
