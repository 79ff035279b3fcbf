package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://proxy.scrapeops.io/v1/"

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{name: "bool true", value: true, want: true},
		{name: "bool false", value: false, want: false},
		{name: "lower true", value: "true", want: true},
		{name: "title true", value: "True", want: true},
		{name: "upper true", value: "TRUE", want: true},
		{name: "false string", value: "False", want: false},
		{name: "yes string", value: "yes", want: false},
		{name: "one string", value: "1", want: false},
		{name: "padded true", value: " true", want: false},
		{name: "uuid string", value: "4b0a3c1e-9d0a-4d5f-8f8f-3f6a1b2c3d4e", want: false},
		{name: "empty string", value: "", want: false},
		{name: "nil", value: nil, want: false},
		{name: "int", value: 1, want: false},
		{name: "float", value: 1.0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CoerceBool(tt.value))
		})
	}
}

func TestFlagsFromMeta(t *testing.T) {
	flags := FlagsFromMeta(map[string]any{
		"sops_render_js":      "False",
		"sops_residential":    false,
		"sops_country":        "true",
		"premium":             true,
		"sops_session_number": "4b0a3c1e-9d0a-4d5f-8f8f-3f6a1b2c3d4e",
		"sops_unknown":        true,
	})

	require.Equal(t, Flags{Country: true, Premium: true}, flags)
}

func TestParseFlagList(t *testing.T) {
	flags, err := ParseFlagList(" render_js, COUNTRY ,,bypass")
	require.NoError(t, err)
	require.Equal(t, Flags{RenderJS: true, Country: true, Bypass: true}, flags)
	require.Equal(t, "render_js,country,bypass", flags.String())

	_, err = ParseFlagList("render_js,teleport,warp")
	require.ErrorContains(t, err, "teleport, warp")

	empty, err := ParseFlagList("")
	require.NoError(t, err)
	require.Equal(t, Flags{}, empty)
}

func TestFlagsMerge(t *testing.T) {
	merged := Flags{Country: true}.Merge(Flags{Premium: true})
	require.Equal(t, Flags{Country: true, Premium: true}, merged)
}

var fixedValues = map[string]string{
	"render_js":           "true",
	"residential":         "true",
	"keep_headers":        "true",
	"country":             "us",
	"session_number":      "1",
	"follow_redirects":    "false",
	"initial_status_code": "true",
	"final_status_code":   "true",
	"premium":             "true",
	"optimize_request":    "true",
	"max_request_cost":    "50",
	"bypass":              "generic_level_1",
}

func TestBuilderAllFlagCombinations(t *testing.T) {
	b := NewBuilder(testEndpoint, "secret")
	b.RandInt = func(lo, hi int) int { return lo }
	target := "https://books.toscrape.com/catalogue/page-2.html"

	for mask := 0; mask < 1<<len(flagFields); mask++ {
		var flags Flags
		want := []string{"api_key", "url"}
		for i, field := range flagFields {
			if mask&(1<<i) != 0 {
				*field.ptr(&flags) = true
				want = append(want, field.name)
			}
		}

		built := b.Build(target, flags)
		require.True(t, strings.HasPrefix(built, testEndpoint+"?"), built)
		parsed, err := url.Parse(built)
		require.NoError(t, err)
		query := parsed.Query()

		got := make([]string, 0, len(query))
		for key, values := range query {
			require.Len(t, values, 1, key)
			got = append(got, key)
		}
		sort.Strings(got)
		sort.Strings(want)
		require.Equal(t, want, got, "mask %b", mask)

		require.Equal(t, "secret", query.Get("api_key"))
		require.Equal(t, target, query.Get("url"))
		for key, value := range fixedValues {
			if query.Has(key) {
				require.Equal(t, value, query.Get(key), key)
			}
		}
	}
}

func TestBuilderEndpointWithTrailingQuestionMark(t *testing.T) {
	b := NewBuilder("https://proxy.scrapeops.io/v1/?", "secret")
	built := b.Build("https://books.toscrape.com/", Flags{})
	require.Equal(t, "https://proxy.scrapeops.io/v1/?api_key=secret&url=https%3A%2F%2Fbooks.toscrape.com%2F", built)
	require.True(t, b.Targets(built))
	require.False(t, b.Targets("https://books.toscrape.com/"))
}

func TestScenarioShape(t *testing.T) {
	b := NewBuilder(testEndpoint, "secret")
	b.RandInt = func(lo, hi int) int { return hi }

	parsed, err := url.Parse(b.Build("https://books.toscrape.com/", Flags{JSScenario: true}))
	require.NoError(t, err)

	var scenario struct {
		Instructions []map[string]any `json:"instructions"`
	}
	require.NoError(t, json.Unmarshal([]byte(parsed.Query().Get("js_scenario")), &scenario))

	want := []map[string]any{
		{"wait": float64(20000)},
		{"scroll_y": float64(4000)},
		{"wait_for": "li> a"},
		{"wait": float64(200)},
		{"click": "li> a"},
		{"wait": float64(100)},
		{"scroll_x": float64(4000)},
		{"wait": float64(100)},
		{"evaluate": "console.log('interaction finished')"},
	}
	require.Equal(t, want, scenario.Instructions)
}

func TestScenarioRandomRanges(t *testing.T) {
	ranges := [][2]int{{10000, 20000}, {1000, 4000}, {0, 0}, {100, 200}, {0, 0}, {10, 100}, {1000, 4000}, {10, 100}, {0, 0}}
	for i := 0; i < 200; i++ {
		scenario := NewScenario(nil)
		require.Len(t, scenario.Instructions, len(ranges))
		for idx, instruction := range scenario.Instructions {
			for _, value := range instruction {
				n, ok := value.(int)
				if !ok {
					continue
				}
				require.GreaterOrEqual(t, n, ranges[idx][0])
				require.LessOrEqual(t, n, ranges[idx][1])
			}
		}
	}
}

func newTestRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func TestRewriteDisabled(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		enabled bool
	}{
		{name: "feature off", apiKey: "secret", enabled: false},
		{name: "missing api key", apiKey: "", enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := NewRewriter(testEndpoint, tt.apiKey, tt.enabled, Flags{})
			req := newTestRequest(t, "https://books.toscrape.com/")

			out, rewritten, err := rw.Rewrite(req)
			require.NoError(t, err)
			require.False(t, rewritten)
			require.Same(t, req, out)
		})
	}
}

func TestRewriteLoopGuard(t *testing.T) {
	rw := NewRewriter(testEndpoint, "secret", true, Flags{})

	for _, target := range []string{testEndpoint, rw.Builder.Build("https://books.toscrape.com/", Flags{})} {
		req := newTestRequest(t, target)
		out, rewritten, err := rw.Rewrite(req)
		require.NoError(t, err)
		require.False(t, rewritten)
		require.Same(t, req, out)
		require.Equal(t, target, out.URL.String())
	}
}

func TestRewriteStripsFeaturesWhenNotRewriting(t *testing.T) {
	rw := NewRewriter(testEndpoint, "", true, Flags{})
	req := newTestRequest(t, "https://books.toscrape.com/")
	req.Header.Set(FeaturesHeader, "render_js")

	out, rewritten, err := rw.Rewrite(req)
	require.NoError(t, err)
	require.False(t, rewritten)
	require.Empty(t, out.Header.Get(FeaturesHeader))
	require.Equal(t, "render_js", req.Header.Get(FeaturesHeader))
}

func TestRewrite(t *testing.T) {
	rw := NewRewriter(testEndpoint, "secret", true, Flags{Country: true})
	original := "https://books.toscrape.com/catalogue/page-2.html"
	req := newTestRequest(t, original)
	req.Header.Set(FeaturesHeader, "render_js")
	req.Header.Set("Accept", "text/html")

	out, rewritten, err := rw.Rewrite(req)
	require.NoError(t, err)
	require.True(t, rewritten)

	require.Equal(t, original, out.Header.Get(OriginalURLHeader))
	require.Empty(t, out.Header.Get(FeaturesHeader))
	require.Equal(t, "text/html", out.Header.Get("Accept"))
	require.Equal(t, "proxy.scrapeops.io", out.URL.Host)
	require.Empty(t, out.Host)

	query := out.URL.Query()
	require.Equal(t, original, query.Get("url"))
	require.Equal(t, "true", query.Get("render_js"))
	require.Equal(t, "us", query.Get("country"))

	// The caller's request is left alone.
	require.Equal(t, original, req.URL.String())
	require.Equal(t, "books.toscrape.com", req.Host)
	require.Empty(t, req.Header.Get(OriginalURLHeader))
	require.Equal(t, "render_js", req.Header.Get(FeaturesHeader))
}

func TestRewriteRejectsUnknownFeatures(t *testing.T) {
	rw := NewRewriter(testEndpoint, "secret", true, Flags{})
	req := newTestRequest(t, "https://books.toscrape.com/")
	req.Header.Set(FeaturesHeader, "teleport")

	_, _, err := rw.Rewrite(req)
	require.ErrorContains(t, err, "teleport")
}

func TestTransportRoundTripRestoresURL(t *testing.T) {
	mock := httpmock.NewMockTransport()
	var seen []string
	mock.RegisterResponder(http.MethodGet, testEndpoint, func(req *http.Request) (*http.Response, error) {
		seen = append(seen, req.URL.Query().Get("url"))
		resp := httpmock.NewStringResponse(http.StatusOK, "<html></html>")
		resp.Header.Set("Content-Type", "text/html; charset=iso-8859-1")
		return resp, nil
	})

	transport := NewTransport(NewRewriter(testEndpoint, "secret", true, Flags{}), mock)
	client := &http.Client{Transport: transport}

	targets := []string{
		"https://books.toscrape.com/",
		"https://books.toscrape.com/catalogue/page-2.html",
		"https://books.toscrape.com/catalogue/search.html?q=a%20light&sort=price&sort=title",
		"https://books.toscrape.com/catalogue/caf%C3%A9_12/index.html",
	}
	for _, target := range targets {
		resp, err := client.Get(target)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()

		require.Equal(t, "<html></html>", string(body))
		require.Equal(t, target, resp.Request.URL.String())
		require.Equal(t, "books.toscrape.com", resp.Request.Host)
	}
	require.Equal(t, targets, seen)
}

func TestRestoreFallsBackToResponseURL(t *testing.T) {
	sent := newTestRequest(t, "https://books.toscrape.com/index.html")
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Request: sent}

	restored, err := Restore(resp, sent)
	require.NoError(t, err)
	require.Equal(t, "https://books.toscrape.com/index.html", restored.Request.URL.String())
}

func TestRestoreDoesNotMutateSentRequest(t *testing.T) {
	rw := NewRewriter(testEndpoint, "secret", true, Flags{})
	out, _, err := rw.Rewrite(newTestRequest(t, "https://books.toscrape.com/"))
	require.NoError(t, err)
	proxied := out.URL.String()

	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Request: out}
	restored, err := Restore(resp, out)
	require.NoError(t, err)

	require.Equal(t, "https://books.toscrape.com/", restored.Request.URL.String())
	require.Empty(t, restored.Request.Header.Get(OriginalURLHeader))
	require.Equal(t, proxied, out.URL.String())
	require.Equal(t, "https://books.toscrape.com/", out.Header.Get(OriginalURLHeader))
	require.Same(t, out, resp.Request)
}

func TestEgressIP(t *testing.T) {
	client := resty.New()
	httpmock.ActivateNonDefault(client.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, testEndpoint, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("url") != IPEchoURL || req.URL.Query().Get("api_key") != "secret" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad query"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"ip": "203.0.113.7"})
	})

	ip, err := EgressIP(context.Background(), client, NewBuilder(testEndpoint, "secret"))
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", ip)

	_, err = EgressIP(context.Background(), client, NewBuilder(testEndpoint, ""))
	require.Error(t, err)
}
