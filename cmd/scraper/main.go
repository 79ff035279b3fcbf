package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-books-proxy/config"
	"github.com/aluiziolira/go-scrape-books-proxy/headers"
	"github.com/aluiziolira/go-scrape-books-proxy/models"
	"github.com/aluiziolira/go-scrape-books-proxy/pipeline"
	"github.com/aluiziolira/go-scrape-books-proxy/proxy"
	"github.com/aluiziolira/go-scrape-books-proxy/scraper"
	"github.com/aluiziolira/go-scrape-books-proxy/store"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	defaultCfg := config.DefaultConfig()
	pagesDefault := intFromEnv("SCRAPER_PAGES", defaultCfg.MaxPages)
	parallelDefault := intFromEnv("SCRAPER_PARALLEL", defaultCfg.Parallelism)
	outputDefault := stringFromEnv(defaultCfg.OutputFile, "SCRAPER_OUTPUT")
	formatDefault := stringFromEnv(defaultCfg.OutputFormat, "SCRAPER_FORMAT")
	metricsDefault := stringFromEnv(defaultCfg.MetricsAddr, "SCRAPER_METRICS_ADDR")

	so := defaultCfg.ScrapeOps
	apiKeyDefault := stringFromEnv("", "SCRAPEOPS_API_KEY", "API_KEY")
	numResultsDefault := intFromEnv("SCRAPEOPS_NUM_RESULTS", so.NumResults)
	proxyEnabledDefault := boolFromEnv("SCRAPEOPS_PROXY_ENABLED", so.ProxyEnabled)
	proxyEndpointDefault := stringFromEnv(so.ProxyEndpoint, "SCRAPEOPS_PROXY_ENDPOINT")
	proxyFeaturesDefault := stringFromEnv(so.ProxyFeatures, "SCRAPEOPS_PROXY_FEATURES")
	fakeHeadersDefault := boolFromEnv("SCRAPEOPS_FAKE_HEADERS_ENABLED", so.FakeHeadersEnabled)
	fakeHeadersEndpointDefault := stringFromEnv(so.FakeHeadersEndpoint, "SCRAPEOPS_FAKE_HEADERS_ENDPOINT")
	fakeUADefault := boolFromEnv("SCRAPEOPS_FAKE_USER_AGENT_ENABLED", so.FakeUserAgentEnabled)
	fakeUAEndpointDefault := stringFromEnv(so.FakeUserAgentEndpoint, "SCRAPEOPS_FAKE_USER_AGENT_ENDPOINT")

	dbDriverDefault := stringFromEnv(defaultCfg.Storage.Driver, "SCRAPER_DB_DRIVER")
	dbDSNDefault := stringFromEnv("", "SCRAPER_DB_DSN", "DATABASE_URL")

	maxPages := flag.Int("pages", pagesDefault, "Maximum catalog pages to scrape")
	parallelism := flag.Int("parallel", parallelDefault, "Number of concurrent requests")
	delayMs := flag.Int("delay", 0, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	maxRetries := flag.Int("max-retries", 2, "Maximum retry attempts per URL")
	retryBackoffMs := flag.Int("retry-backoff", 200, "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", 2000, "Maximum retry backoff (milliseconds)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", formatDefault, "Output format: csv, json, dual, or db")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Base URL to crawl")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	apiKey := flag.String("api-key", apiKeyDefault, "ScrapeOps API key (default from SCRAPEOPS_API_KEY or API_KEY)")
	numResults := flag.Int("num-results", numResultsDefault, "Header sets requested from the ScrapeOps headers API")
	proxyEnabled := flag.Bool("proxy", proxyEnabledDefault, "Route requests through the ScrapeOps proxy")
	proxyEndpoint := flag.String("proxy-endpoint", proxyEndpointDefault, "ScrapeOps proxy endpoint")
	proxyFeatures := flag.String("proxy-features", proxyFeaturesDefault, "Comma separated proxy flags applied to every request: "+strings.Join(proxy.FlagNames(), ","))
	fakeHeaders := flag.Bool("fake-headers", fakeHeadersDefault, "Send random browser headers from ScrapeOps")
	fakeHeadersEndpoint := flag.String("fake-headers-endpoint", fakeHeadersEndpointDefault, "ScrapeOps browser headers endpoint")
	fakeUserAgent := flag.Bool("fake-user-agent", fakeUADefault, "Send a random User-Agent from ScrapeOps")
	fakeUserAgentEndpoint := flag.String("fake-user-agent-endpoint", fakeUAEndpointDefault, "ScrapeOps user agents endpoint")
	dbDriver := flag.String("db-driver", dbDriverDefault, "Database driver for -format db: postgres or sqlite")
	dbDSN := flag.String("db-dsn", dbDSNDefault, "Database DSN for -format db (default from SCRAPER_DB_DSN or DATABASE_URL)")
	dbCreate := flag.Bool("db-create", false, "Create the sqlite database file when missing")
	checkIP := flag.Bool("check-ip", false, "Print the proxy egress IP and exit")

	flag.Parse()

	runID := uuid.NewString()
	logger, level := newLogger(*verbose)
	logger = logger.With(slog.String("run_id", runID))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := buildConfigFromFlags(*baseURL, *maxPages, *parallelism, *delayMs, *randomDelayMs, *maxRetries, *retryBackoffMs, *retryBackoffMaxMs, *respectRobots, *outputFile, *outputFormat, *verbose, *metricsAddr)
	cfg.ScrapeOps = config.ScrapeOps{
		APIKey:                strings.TrimSpace(*apiKey),
		NumResults:            *numResults,
		ProxyEnabled:          *proxyEnabled,
		ProxyEndpoint:         *proxyEndpoint,
		ProxyFeatures:         *proxyFeatures,
		FakeHeadersEnabled:    *fakeHeaders,
		FakeHeadersEndpoint:   *fakeHeadersEndpoint,
		FakeUserAgentEnabled:  *fakeUserAgent,
		FakeUserAgentEndpoint: *fakeUserAgentEndpoint,
	}
	cfg.Storage.Driver = strings.ToLower(*dbDriver)
	cfg.Storage.DSN = *dbDSN
	cfg.Storage.CreateIfMissing = *dbCreate
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := resty.New().SetTimeout(cfg.Timeout)

	if *checkIP {
		ip, err := proxy.EgressIP(ctx, client, proxy.NewBuilder(cfg.ScrapeOps.ProxyEndpoint, cfg.ScrapeOps.APIKey))
		if err != nil {
			slog.Error("egress ip check failed", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(ip)
		return
	}

	if cfg.ScrapeOps.APIKey == "" && (cfg.ScrapeOps.ProxyEnabled || cfg.ScrapeOps.FakeHeadersEnabled || cfg.ScrapeOps.FakeUserAgentEnabled) {
		slog.Warn("no ScrapeOps API key configured, proxy and fake headers are disabled")
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
		slog.Bool("proxy", cfg.ProxyActive()),
		slog.Bool("fake_headers", cfg.FakeHeadersActive()),
		slog.Bool("fake_user_agent", cfg.FakeUserAgentActive()),
	)

	opts := scraper.Options{}
	if cfg.FakeHeadersActive() {
		opts.BrowserHeaders = fetchPool(ctx, client, "browser_headers", cfg.ScrapeOps.FakeHeadersEndpoint, cfg)
	}
	if cfg.FakeUserAgentActive() {
		opts.UserAgents = fetchPool(ctx, client, "user_agents", cfg.ScrapeOps.FakeUserAgentEndpoint, cfg)
	}

	s, err := scraper.NewScraper(cfg, opts)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	metrics := p.GetMetrics()
	duration := time.Since(startTime)
	totalItems := int64(0)
	if processed, ok := metrics["processed_books"].(int64); ok {
		totalItems = processed
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(totalItems) / duration.Seconds()
	}

	printSummary(runID, result, duration, itemsPerSec, outputTarget(cfg), metrics)
}

// fetchPool loads one header pool. A failed fetch is logged and yields an
// empty pool, which leaves request headers untouched.
func fetchPool(ctx context.Context, client *resty.Client, source, endpoint string, cfg *config.Config) *headers.Pool {
	fetcher := &headers.Fetcher{
		Client:     client,
		Endpoint:   endpoint,
		APIKey:     cfg.ScrapeOps.APIKey,
		NumResults: cfg.ScrapeOps.NumResults,
	}
	pool, err := fetcher.Fetch(ctx)
	if err != nil {
		slog.Warn("header pool unavailable",
			slog.String("source", source),
			slog.Any("error", err),
		)
		return pool
	}
	slog.Info("header pool loaded", slog.String("source", source), slog.Int("size", pool.Len()))
	return pool
}

func buildConfigFromFlags(baseURL string, maxPages, parallelism, delayMs, randomDelayMs, maxRetries, retryBackoffMs, retryBackoffMaxMs int, respectRobots bool, outputFile, outputFormat string, verbose bool, metricsAddr string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.MaxPages = maxPages
	cfg.Parallelism = parallelism
	cfg.Delay = time.Duration(delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(randomDelayMs) * time.Millisecond
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = time.Duration(retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = respectRobots
	cfg.OutputFile = outputFile
	cfg.OutputFormat = strings.ToLower(outputFormat)
	cfg.Verbose = verbose
	cfg.MetricsAddr = metricsAddr
	return cfg
}

func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	filename := cfg.OutputFile
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	case "db":
		s, err := store.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return pipeline.NewStoreWriter(ctx, s, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func outputTarget(cfg *config.Config) string {
	if cfg.OutputFormat == "db" {
		return cfg.Storage.Driver + " database"
	}
	return cfg.OutputFile
}

func printSummary(runID string, result *models.ScraperResult, duration time.Duration, itemsPerSec float64, output string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Run ID:        %s\n", runID)

	totalItems := int64(0)
	if processed, ok := metrics["processed_books"].(int64); ok {
		totalItems = processed
	}

	fmt.Printf("  Total items:   %d\n", totalItems)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Products:      %d\n", result.ProductVisits)
	fmt.Printf("  Proxied:       %d\n", result.ProxiedCount)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Output:        %s\n", output)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// stringFromEnv returns the first set variable among keys, or fallback.
func stringFromEnv(fallback string, keys ...string) string {
	for _, key := range keys {
		if value, ok := config.EnvString(key); ok {
			return value
		}
	}
	return fallback
}

func intFromEnv(key string, fallback int) int {
	value, ok, err := config.EnvInt(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}

func boolFromEnv(key string, fallback bool) bool {
	value, ok, err := config.EnvBool(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}
