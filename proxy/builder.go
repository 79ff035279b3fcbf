// Package proxy routes crawl requests through the ScrapeOps proxy API and
// restores the original URL on the way back.
package proxy

import (
	"net/url"
	"strconv"
	"strings"
)

// Builder constructs proxy URLs for target pages.
type Builder struct {
	// Endpoint is the proxy API base, e.g. https://proxy.scrapeops.io/v1/.
	Endpoint string
	APIKey   string
	// RandInt drives the js_scenario timings. Nil uses math/rand.
	RandInt RandIntFunc
}

// NewBuilder returns a Builder for endpoint and apiKey.
func NewBuilder(endpoint, apiKey string) *Builder {
	return &Builder{Endpoint: endpoint, APIKey: apiKey}
}

// featureParams holds the fixed query pair each flag contributes. Values
// are constants; only js_scenario is generated per call.
var featureParams = []struct {
	key     string
	enabled func(Flags) bool
	value   func(*Builder) string
}{
	{"render_js", func(f Flags) bool { return f.RenderJS }, constant(strconv.FormatBool(true))},
	{"residential", func(f Flags) bool { return f.Residential }, constant(strconv.FormatBool(true))},
	{"keep_headers", func(f Flags) bool { return f.KeepHeaders }, constant(strconv.FormatBool(true))},
	{"country", func(f Flags) bool { return f.Country }, constant("us")},
	{"js_scenario", func(f Flags) bool { return f.JSScenario }, func(b *Builder) string { return NewScenario(b.RandInt).Encode() }},
	{"session_number", func(f Flags) bool { return f.SessionNumber }, constant(strconv.Itoa(1))},
	{"follow_redirects", func(f Flags) bool { return f.FollowRedirects }, constant(strconv.FormatBool(false))},
	{"initial_status_code", func(f Flags) bool { return f.InitialStatusCode }, constant(strconv.FormatBool(true))},
	{"final_status_code", func(f Flags) bool { return f.FinalStatusCode }, constant(strconv.FormatBool(true))},
	{"premium", func(f Flags) bool { return f.Premium }, constant(strconv.FormatBool(true))},
	{"optimize_request", func(f Flags) bool { return f.OptimizeRequest }, constant(strconv.FormatBool(true))},
	{"max_request_cost", func(f Flags) bool { return f.MaxRequestCost }, constant(strconv.Itoa(50))},
	{"bypass", func(f Flags) bool { return f.Bypass }, constant("generic_level_1")},
}

func constant(v string) func(*Builder) string {
	return func(*Builder) string { return v }
}

// Query returns the proxy query parameters for target and flags.
func (b *Builder) Query(target string, flags Flags) url.Values {
	values := url.Values{}
	values.Set("api_key", b.APIKey)
	values.Set("url", target)
	for _, param := range featureParams {
		if param.enabled(flags) {
			values.Set(param.key, param.value(b))
		}
	}
	return values
}

// Build returns the proxy URL that fetches target with the given flags.
func (b *Builder) Build(target string, flags Flags) string {
	return b.base() + "?" + b.Query(target, flags).Encode()
}

// Targets reports whether rawURL already points at the proxy endpoint.
func (b *Builder) Targets(rawURL string) bool {
	base := b.base()
	return base != "" && strings.Contains(rawURL, base)
}

func (b *Builder) base() string {
	return strings.TrimRight(b.Endpoint, "?")
}
