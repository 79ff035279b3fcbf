package proxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Transport is an http.RoundTripper that sends requests through the proxy
// and hands back responses bound to the original URL.
type Transport struct {
	Rewriter *Rewriter
	Next     http.RoundTripper
	// Proxied counts rewritten requests when set.
	Proxied prometheus.Counter
}

// NewTransport wraps next with rw.
func NewTransport(rw *Rewriter, next http.RoundTripper) *Transport {
	return &Transport{Rewriter: rw, Next: next}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	out, rewritten, err := t.Rewriter.Rewrite(req)
	if err != nil {
		return nil, err
	}
	if !rewritten {
		return next.RoundTrip(out)
	}
	if t.Proxied != nil {
		t.Proxied.Inc()
	}

	resp, err := next.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	restored, err := Restore(resp, out)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return restored, nil
}
