package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-books-proxy/config"
	"github.com/gocolly/colly/v2"
)

// retrier is the part of colly.Request the retry manager needs.
type retrier interface {
	Retry() error
}

type retryManager struct {
	cfg     *config.Config
	metrics *Metrics
	ctx     context.Context

	mu           sync.Mutex
	idle         *sync.Cond
	attempts     map[string]int
	timers       map[string]scheduledRetry
	pending      int
	fired        int
	totalRetries int
	stopped      bool
}

type scheduledRetry struct {
	timer   *time.Timer
	attempt int
}

func newRetryManager(cfg *config.Config, metrics *Metrics) *retryManager {
	rm := &retryManager{
		cfg:      cfg,
		attempts: make(map[string]int),
		timers:   make(map[string]scheduledRetry),
		metrics:  metrics,
		ctx:      context.Background(),
	}
	rm.idle = sync.NewCond(&rm.mu)
	return rm
}

// Schedule queues req for another attempt after a backoff. It reports
// false when the request is out of attempts or the manager is stopped.
// The retry reuses the request's context, so its proxy flags survive.
func (rm *retryManager) Schedule(req *colly.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return rm.schedule(req.URL.String(), req)
}

func (rm *retryManager) schedule(url string, req retrier) bool {
	if rm.cfg.MaxRetries == 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return false
	}
	if rm.ctx != nil && rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	if rm.metrics != nil {
		rm.metrics.IncRetries()
	}

	delay := rm.backoff(attempt)
	rm.resetTimerLocked(url)
	rm.pending++
	timer := time.AfterFunc(delay, func() {
		rm.fireRetry(url, req, attempt)
	})
	rm.timers[url] = scheduledRetry{timer: timer, attempt: attempt}
	slog.Debug("retry scheduled",
		slog.String("url", url),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if limit := rm.cfg.RetryBackoffMax; limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

func (rm *retryManager) resetTimerLocked(url string) {
	if scheduled, ok := rm.timers[url]; ok {
		if scheduled.timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) fireRetry(url string, req retrier, attempt int) {
	rm.mu.Lock()
	if rm.timers[url].attempt == attempt {
		delete(rm.timers, url)
	}
	stopped := rm.stopped
	ctx := rm.ctx
	rm.mu.Unlock()

	if !stopped && (ctx == nil || ctx.Err() == nil) {
		if err := req.Retry(); err != nil {
			slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
		}
	}

	rm.mu.Lock()
	rm.fired++
	rm.doneLocked()
	rm.mu.Unlock()
}

func (rm *retryManager) doneLocked() {
	rm.pending--
	if rm.pending <= 0 {
		rm.pending = 0
		rm.idle.Broadcast()
	}
}

// WaitIdle blocks until no retry timer is pending.
func (rm *retryManager) WaitIdle() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for rm.pending > 0 {
		rm.idle.Wait()
	}
}

// Fired returns how many retry timers have run.
func (rm *retryManager) Fired() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.fired
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, scheduled := range rm.timers {
		if scheduled.timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
