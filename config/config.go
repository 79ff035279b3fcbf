package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	MaxPages         int
	Parallelism      int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	OutputFile       string
	OutputFormat     string // csv, json, dual, or db
	UserAgent        string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string

	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int

	ScrapeOps ScrapeOps
	Storage   Storage
}

// ScrapeOps configures the vendor proxy and the fake identity services.
type ScrapeOps struct {
	APIKey     string
	NumResults int

	ProxyEnabled  bool
	ProxyEndpoint string
	// ProxyFeatures lists the proxy flags applied to every request,
	// e.g. "render_js,country".
	ProxyFeatures string

	FakeHeadersEnabled  bool
	FakeHeadersEndpoint string

	FakeUserAgentEnabled  bool
	FakeUserAgentEndpoint string
}

// Storage configures the relational store used by the db output format.
type Storage struct {
	Driver   string // postgres or sqlite
	DSN      string
	MaxConns int
	// CreateIfMissing lets the sqlite backend create its database file.
	CreateIfMissing bool
}

const (
	DefaultProxyEndpoint         = "https://proxy.scrapeops.io/v1/"
	DefaultFakeHeadersEndpoint   = "http://headers.scrapeops.io/v1/browser-headers"
	DefaultFakeUserAgentEndpoint = "http://headers.scrapeops.io/v1/user-agents"
)

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://books.toscrape.com",
		MaxPages:           50,
		Parallelism:        16,
		Delay:              0,
		RandomDelay:        0,
		Timeout:            10 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		OutputFile:         "output/books.csv",
		OutputFormat:       "csv",
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		ScrapeOps: ScrapeOps{
			NumResults:            100,
			ProxyEnabled:          true,
			ProxyEndpoint:         DefaultProxyEndpoint,
			FakeHeadersEndpoint:   DefaultFakeHeadersEndpoint,
			FakeUserAgentEndpoint: DefaultFakeUserAgentEndpoint,
		},
		Storage: Storage{
			Driver:   "postgres",
			MaxConns: 4,
		},
	}
}

// ProxyActive reports whether requests are routed through the proxy.
// A missing API key deactivates the feature.
func (c *Config) ProxyActive() bool {
	return c.ScrapeOps.ProxyEnabled && c.ScrapeOps.APIKey != ""
}

// FakeHeadersActive reports whether random browser headers are injected.
func (c *Config) FakeHeadersActive() bool {
	return c.ScrapeOps.FakeHeadersEnabled && c.ScrapeOps.APIKey != ""
}

// FakeUserAgentActive reports whether a random User-Agent is injected.
func (c *Config) FakeUserAgentActive() bool {
	return c.ScrapeOps.FakeUserAgentEnabled && c.ScrapeOps.APIKey != ""
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" && c.OutputFormat != "db" {
		return fmt.Errorf("output format must be csv, json, dual, or db")
	}
	if c.OutputFormat != "db" && c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.ScrapeOps.NumResults < 0 {
		return fmt.Errorf("scrapeops num results cannot be negative")
	}
	if c.ProxyActive() {
		if err := validateEndpoint("proxy endpoint", c.ScrapeOps.ProxyEndpoint); err != nil {
			return err
		}
	}
	if c.FakeHeadersActive() {
		if err := validateEndpoint("fake headers endpoint", c.ScrapeOps.FakeHeadersEndpoint); err != nil {
			return err
		}
	}
	if c.FakeUserAgentActive() {
		if err := validateEndpoint("fake user agent endpoint", c.ScrapeOps.FakeUserAgentEndpoint); err != nil {
			return err
		}
	}
	if c.OutputFormat == "db" {
		if c.Storage.Driver != "postgres" && c.Storage.Driver != "sqlite" {
			return fmt.Errorf("storage driver must be postgres or sqlite")
		}
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage DSN cannot be empty for db output")
		}
	}

	return nil
}

func validateEndpoint(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
