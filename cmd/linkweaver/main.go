package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/link-weaver/internal/cache"
	"github.com/alvmarrod/link-weaver/internal/config"
	"github.com/alvmarrod/link-weaver/internal/fetch"
	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/metrics"
	"github.com/alvmarrod/link-weaver/internal/report"
	"github.com/alvmarrod/link-weaver/internal/site"
	"github.com/alvmarrod/link-weaver/internal/storage"
	"github.com/alvmarrod/link-weaver/internal/version"
)

const defaultConfigPath = "config.json"

// Exit codes
const (
	exitOK     = 0
	exitError  = 1
	exitBroken = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "JSON configuration file")
	seed := flag.String("url", "", "page to start from, overrides seed_url")
	format := flag.String("format", "", "report format (table, csv, json), overrides report_format")
	output := flag.String("output", "", "write the report to this file instead of stdout")
	auth := flag.String("auth", "", "basic auth credentials as user:password for the start origin")
	history := flag.Int("history", 0, "print the last N recorded runs for the seed and exit")
	flag.Parse()

	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logrus.Infof("Link Weaver v%s starting...", version.Version)

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logrus.Errorf("Failed to load config: %v", err)
		return exitError
	}
	if *seed != "" {
		cfg.SeedURL = *seed
	}
	if *format != "" {
		cfg.ReportFormat = *format
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("Invalid configuration: %v", err)
		return exitError
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Errorf("Invalid log level %q: %v", cfg.LogLevel, err)
		return exitError
	}
	logrus.SetLevel(level)

	start, err := parseSeed(cfg.SeedURL)
	if err != nil {
		logrus.Errorf("Invalid seed URL: %v", err)
		return exitError
	}
	credentials, err := parseAuth(*auth)
	if err != nil {
		logrus.Errorf("Invalid credentials: %v", err)
		return exitError
	}

	logrus.Infof("Configuration loaded: seed=%s, max_pages=%d, sockets=%d/%d per host",
		start.Redacted(), cfg.MaxPages, cfg.MaxSockets, cfg.MaxSocketsPerHost)

	// Initialize storage
	var store *storage.Storage
	if cfg.CacheDBPath != "" {
		store, err = storage.NewStorage(cfg.CacheDBPath)
		if err != nil {
			logrus.Errorf("Failed to initialize storage: %v", err)
			return exitError
		}
		defer store.Close()
		logrus.Infof("Database initialized: %s", cfg.CacheDBPath)
	}

	if *history > 0 {
		return printHistory(store, start.Redacted(), *history)
	}

	outcomes, err := newCache(cfg, store)
	if err != nil {
		logrus.Errorf("Failed to initialize cache: %v", err)
		return exitError
	}
	if outcomes != nil {
		defer outcomes.Close()
	}

	exporter, err := report.NewExporter(cfg.ReportFormat)
	if err != nil {
		logrus.Errorf("Failed to create exporter: %v", err)
		return exitError
	}

	// Initialize metrics tracker and crawler
	tracker := metrics.NewTracker()
	fetcher := fetch.NewChecker(cfg, logrus.WithField("component", "fetch"))
	crawler, err := site.New(cfg, fetcher, outcomes, tracker, logrus.WithField("component", "site"))
	if err != nil {
		logrus.Errorf("Failed to create crawler: %v", err)
		return exitError
	}
	defer crawler.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal cancels the crawl, a second one forces the exit
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logrus.Infof("Received signal: %v, cancelling crawl...", sig)
		cancel()

		sig = <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		if err := tracker.WriteToFile(cfg.MetricsPath, "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(exitError)
	}()

	// Start progress logger
	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	result, err := crawler.Crawl(ctx, start, credentials)
	close(stopProgress)
	wg.Wait()

	terminationReason := "completed"
	switch {
	case errors.Is(err, context.Canceled):
		terminationReason = "signal"
	case err != nil:
		logrus.Errorf("Crawl failed: %v", err)
		return exitError
	}

	logrus.Info("Final stats: " + tracker.LogProgress())

	if err := writeReport(exporter, result, *output); err != nil {
		logrus.Errorf("Failed to write report: %v", err)
		return exitError
	}

	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	if store != nil {
		runID, err := store.RecordRun(tracker.GetSnapshot(), start.Redacted())
		if err != nil {
			logrus.Errorf("Failed to record run: %v", err)
		} else {
			logrus.Infof("Run %d recorded", runID)
		}
	}

	if result.BrokenCount() > 0 {
		return exitBroken
	}
	return exitOK
}

// loadConfig reads path, falling back to defaults when the default file is absent
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		logrus.Infof("No %s found, using defaults", defaultConfigPath)
		return config.Default(), nil
	}
	return nil, err
}

func parseSeed(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("no seed URL, set seed_url or -url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

func parseAuth(raw string) (*link.Auth, error) {
	if raw == "" {
		return nil, nil
	}
	username, password, ok := strings.Cut(raw, ":")
	if !ok || username == "" {
		return nil, errors.New("expected user:password")
	}
	return &link.Auth{Username: username, Password: password}, nil
}

// newCache picks the outcome store: sqlite when a database is configured,
// memory otherwise
func newCache(cfg *config.Config, store *storage.Storage) (*cache.Cache, error) {
	if cfg.DisableCache {
		return nil, nil
	}
	if store != nil {
		count, err := store.CountOutcomes()
		if err != nil {
			return nil, err
		}
		logrus.Infof("Persistent cache holds %d outcomes", count)
		return cache.New(store, cfg.CacheExpiry()), nil
	}
	return cache.NewMemory(cfg.CacheExpiry())
}

func writeReport(exporter report.Exporter, result *report.Result, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	return exporter.Export(w, result)
}

func printHistory(store *storage.Storage, seed string, limit int) int {
	if store == nil {
		logrus.Error("Run history needs cache_db_path")
		return exitError
	}
	runs, err := store.LoadRuns(seed, limit)
	if err != nil {
		logrus.Errorf("Failed to load runs: %v", err)
		return exitError
	}

	tbl := table.New("Run", "Started", "Duration", "Pages", "Checked", "Broken")
	for _, r := range runs {
		tbl.AddRow(r.RunID, r.StartedAt.Format(time.RFC3339), r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.PagesScanned, r.LinksChecked, r.LinksBroken)
	}
	tbl.Print()
	return exitOK
}
