package headers

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Transport overwrites request headers with a random set from Pool before
// passing the request on. An empty pool leaves headers untouched.
type Transport struct {
	Pool *Pool
	Next http.RoundTripper
	// Source labels log lines, e.g. "browser_headers".
	Source string
	// Injected counts requests that received a header set when set.
	Injected prometheus.Counter

	warnOnce sync.Once
}

// NewTransport wraps next with header injection from pool.
func NewTransport(source string, pool *Pool, next http.RoundTripper) *Transport {
	return &Transport{Pool: pool, Next: next, Source: source}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	set, err := t.Pool.Next()
	if err != nil {
		if errors.Is(err, ErrEmptyPool) {
			t.warnOnce.Do(func() {
				slog.Warn("header pool empty, sending requests with their own headers",
					slog.String("source", t.Source),
				)
			})
			return next.RoundTrip(req)
		}
		return nil, err
	}

	out := req.Clone(req.Context())
	for key, value := range set {
		out.Header.Set(key, value)
	}
	if t.Injected != nil {
		t.Injected.Inc()
	}
	slog.Debug("random headers applied",
		slog.String("source", t.Source),
		slog.String("url", req.URL.String()),
		slog.String("user_agent", out.Header.Get("User-Agent")),
	)
	return next.RoundTrip(out)
}
