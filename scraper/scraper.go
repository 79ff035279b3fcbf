package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-books-proxy/config"
	"github.com/aluiziolira/go-scrape-books-proxy/headers"
	"github.com/aluiziolira/go-scrape-books-proxy/models"
	"github.com/aluiziolira/go-scrape-books-proxy/pipeline"
	"github.com/aluiziolira/go-scrape-books-proxy/proxy"
	"github.com/gocolly/colly/v2"
)

// flagsKey holds a request's proxy.Flags in the colly context.
const flagsKey = "proxy_flags"

// Options carries the collaborators that cannot be derived from the config.
type Options struct {
	// Base is the innermost transport; a tuned http.Transport when nil.
	Base http.RoundTripper
	// BrowserHeaders and UserAgents feed the fake identity transports.
	// Nil or empty pools leave request headers alone.
	BrowserHeaders *headers.Pool
	UserAgents     *headers.Pool
	// StartFlags are the proxy flags of the start request. Every request
	// discovered from it inherits them.
	StartFlags proxy.Flags
}

// Scraper wraps the colly collector and retry logic for the catalog.
type Scraper struct {
	cfg        *config.Config
	collector  *colly.Collector
	retry      *retryManager
	startFlags proxy.Flags
	Metrics    *Metrics

	proxied *tally

	requestCount  int64
	pageCount     int64
	errorCount    int64
	productVisits int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts Options) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		startFlags:   opts.StartFlags,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	s.proxied = newTally(s.Metrics.ProxiedTotal)

	transport, err := s.buildTransport(opts)
	if err != nil {
		return nil, err
	}
	collector.WithTransport(transport)

	s.retry = newRetryManager(cfg, s.Metrics)
	return s, nil
}

// buildTransport stacks the middleware chain. Requests pass through the
// user-agent layer, then the browser-headers layer, then the proxy
// rewriter, before reaching base.
func (s *Scraper) buildTransport(opts Options) (http.RoundTripper, error) {
	base := opts.Base
	if base == nil {
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   s.cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	defaults, err := proxy.ParseFlagList(s.cfg.ScrapeOps.ProxyFeatures)
	if err != nil {
		return nil, fmt.Errorf("default proxy features: %w", err)
	}
	rewriter := proxy.NewRewriter(s.cfg.ScrapeOps.ProxyEndpoint, s.cfg.ScrapeOps.APIKey, s.cfg.ScrapeOps.ProxyEnabled, defaults)
	// The proxy layer is always installed so the features header never
	// leaks to the target, even with the proxy off.
	proxied := proxy.NewTransport(rewriter, base)
	proxied.Proxied = s.proxied

	var rt http.RoundTripper = proxied
	if s.cfg.FakeHeadersActive() {
		ht := headers.NewTransport("browser_headers", opts.BrowserHeaders, rt)
		ht.Injected = s.Metrics.HeaderInjectionCounter("browser_headers")
		rt = ht
	}
	if s.cfg.FakeUserAgentActive() {
		ut := headers.NewTransport("user_agents", opts.UserAgents, rt)
		ut.Injected = s.Metrics.HeaderInjectionCounter("user_agents")
		rt = ut
	}

	slog.Debug("transport chain configured",
		slog.Bool("proxy", s.cfg.ProxyActive()),
		slog.String("proxy_features", defaults.String()),
		slog.Bool("fake_headers", s.cfg.FakeHeadersActive()),
		slog.Bool("fake_user_agent", s.cfg.FakeUserAgentActive()),
	)
	return rt, nil
}

// Run starts the crawl and streams items through the pipeline.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, p)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	if err := s.collector.Request(http.MethodGet, s.cfg.BaseURL, nil, s.newContext(s.startFlags), nil); err != nil {
		return nil, fmt.Errorf("initial visit: %w", err)
	}

	s.wait()
	s.retry.Stop()

	result := &models.ScraperResult{
		StartTime:     start,
		EndTime:       time.Now(),
		ErrorCount:    int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:    s.snapshotFailedURLs(),
		ErrorsByType:  s.snapshotErrors(),
		RetryCount:    s.retry.TotalRetries(),
		RequestCount:  int(atomic.LoadInt64(&s.requestCount)),
		ProxiedCount:  int(s.proxied.Load()),
		PageCount:     int(atomic.LoadInt64(&s.pageCount)),
		ProductVisits: int(atomic.LoadInt64(&s.productVisits)),
	}

	if metrics := p.GetMetrics(); metrics != nil {
		if processed, ok := metrics["processed_books"].(int64); ok {
			result.TotalCount = int(processed)
		}
	}

	return result, nil
}

// Scrape is a compatibility wrapper for older callers.
func (s *Scraper) Scrape(p *pipeline.Pipeline) (*models.ScraperResult, error) {
	return s.Run(context.Background(), p)
}

// wait blocks until the collector is idle and no retry is pending. A retry
// that fires re-enters the collector, so both are polled until neither
// made progress.
func (s *Scraper) wait() {
	for {
		fired := s.retry.Fired()
		s.collector.Wait()
		s.retry.WaitIdle()
		if s.retry.Fired() == fired {
			return
		}
	}
}

func (s *Scraper) newContext(flags proxy.Flags) *colly.Context {
	ctx := colly.NewContext()
	ctx.Put(flagsKey, flags)
	return ctx
}

func flagsFrom(ctx *colly.Context) proxy.Flags {
	if ctx == nil {
		return proxy.Flags{}
	}
	flags, _ := ctx.GetAny(flagsKey).(proxy.Flags)
	return flags
}

// follow schedules link relative to r with a fresh context that inherits
// r's proxy flags.
func (s *Scraper) follow(r *colly.Request, link string) {
	abs := r.AbsoluteURL(link)
	if abs == "" {
		return
	}
	err := s.collector.Request(http.MethodGet, abs, nil, s.newContext(flagsFrom(r.Ctx)), nil)
	if err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
		slog.Debug("visit skipped", slog.String("url", abs), slog.Any("error", err))
	}
}

func (s *Scraper) configureHandlers(ctx context.Context, p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			if ctx.Err() != nil {
				r.Abort()
				return
			}
			r.Ctx.Put("start", time.Now())
			if flags := flagsFrom(r.Ctx); len(flags.Enabled()) > 0 {
				r.Headers.Set(proxy.FeaturesHeader, flags.String())
			}
			current := atomic.AddInt64(&s.requestCount, 1)
			if s.Metrics != nil {
				s.Metrics.IncRequest("started")
			}
			if current%50 == 0 {
				slog.Debug("scraper request progress",
					slog.Int64("requests", current),
					slog.Int64("pages", atomic.LoadInt64(&s.pageCount)),
					slog.Int64("proxied", s.proxied.Load()),
					slog.String("url", r.URL.String()),
				)
			}
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if r.StatusCode >= http.StatusBadRequest {
				slog.Error("non-200 response",
					slog.Int("status", r.StatusCode),
					slog.String("url", r.Request.URL.String()),
				)
			}
			if s.Metrics != nil {
				s.Metrics.IncRequest("completed")
				if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
					s.Metrics.ObserveDuration(time.Since(start))
				}
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&s.errorCount, 1)
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			category := errorTypeLabel(classified)

			s.mu.Lock()
			s.errorsByType[category]++
			s.mu.Unlock()

			var req *colly.Request
			url := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				req = r.Request
				url = req.URL.String()
			}
			slog.Error("request error",
				slog.String("url", url),
				slog.String("category", category),
				slog.Any("error", err),
			)
			if s.Metrics != nil {
				s.Metrics.IncError(category)
			}

			if !s.retry.Schedule(req) {
				s.mu.Lock()
				s.failedURLs = append(s.failedURLs, url)
				s.mu.Unlock()
			}
		})

		s.collector.OnHTML("article.product_pod h3 a", func(e *colly.HTMLElement) {
			if ctx.Err() != nil {
				return
			}
			if href := e.Attr("href"); href != "" {
				atomic.AddInt64(&s.productVisits, 1)
				s.follow(e.Request, href)
			}
		})

		s.collector.OnHTML("article.product_page", func(e *colly.HTMLElement) {
			book := extractBook(e)
			if book == nil {
				return
			}
			if s.Metrics != nil {
				s.Metrics.IncItems()
			}
			if err := p.Process(book); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
				slog.Error("pipeline process error", slog.Any("error", err))
			}
		})

		s.collector.OnHTML("li.next a", func(e *colly.HTMLElement) {
			currentPage := atomic.AddInt64(&s.pageCount, 1)
			if currentPage >= int64(s.cfg.MaxPages) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.follow(e.Request, e.Attr("href"))
		})
	})
}

// extractBook reads the raw product fields of a detail page. Values are
// kept as displayed; the pipeline cleans them.
func extractBook(e *colly.HTMLElement) *models.RawBook {
	title := strings.TrimSpace(e.ChildText("div.product_main h1"))
	if title == "" {
		return nil
	}

	image := e.ChildAttr("img", "src")
	if image != "" {
		image = e.Request.AbsoluteURL(image)
	}

	info := productInformation(e.DOM)
	return &models.RawBook{
		Title:           title,
		Image:           image,
		Description:     strings.TrimSpace(e.DOM.Find("#product_description ~ p").First().Text()),
		UPC:             info["UPC"],
		ProductType:     info["Product Type"],
		Price:           info["Price (excl. tax)"],
		PriceTax:        info["Price (incl. tax)"],
		Tax:             info["Tax"],
		Availability:    info["Availability"],
		NumberOfReviews: info["Number of reviews"],
		URL:             e.Request.URL.String(),
		ScrapedAt:       time.Now(),
	}
}

// productInformation maps the header cell of each product table row to
// the text of its last data cell.
func productInformation(sel *goquery.Selection) map[string]string {
	rows := make(map[string]string)
	sel.Find("table.table-striped tr").Each(func(_ int, tr *goquery.Selection) {
		key := strings.TrimSpace(tr.Find("th").First().Text())
		if key == "" {
			return
		}
		if _, seen := rows[key]; seen {
			return
		}
		rows[key] = strings.TrimSpace(tr.Find("td").Last().Text())
	})
	return rows
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusUnauthorized:
			return ErrUnauthorized{Err: wrapped}
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
