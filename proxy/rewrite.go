package proxy

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"golang.org/x/net/html/charset"
)

// OriginalURLHeader stores the pre-proxy URL on the outbound request.
const OriginalURLHeader = "X-Original-URL"

// Rewriter turns target requests into proxy API requests.
type Rewriter struct {
	Builder *Builder
	Enabled bool
	// Defaults are merged into the flags of every request.
	Defaults Flags
	Logger   *slog.Logger
}

// NewRewriter returns a Rewriter. It is disabled when apiKey is empty.
func NewRewriter(endpoint, apiKey string, enabled bool, defaults Flags) *Rewriter {
	return &Rewriter{
		Builder:  NewBuilder(endpoint, apiKey),
		Enabled:  enabled && apiKey != "",
		Defaults: defaults,
		Logger:   slog.Default(),
	}
}

// Rewrite returns the request to send instead of req and whether it was
// rewritten. Disabled rewriters and requests already aimed at the proxy
// come back as is, minus the private features header. req is never
// modified.
func (rw *Rewriter) Rewrite(req *http.Request) (*http.Request, bool, error) {
	features, hasFeatures := req.Header[FeaturesHeader]
	if !rw.active() || rw.Builder.Targets(req.URL.String()) {
		if !hasFeatures {
			return req, false, nil
		}
		clean := req.Clone(req.Context())
		clean.Header.Del(FeaturesHeader)
		return clean, false, nil
	}

	flags := rw.Defaults
	if hasFeatures && len(features) > 0 {
		requested, err := ParseFlagList(features[0])
		if err != nil {
			return nil, false, fmt.Errorf("proxy features header: %w", err)
		}
		flags = flags.Merge(requested)
	}

	target := req.URL.String()
	out := req.Clone(req.Context())
	// Stash before the URL changes so the response can be mapped back.
	out.Header.Set(OriginalURLHeader, target)
	out.Header.Del(FeaturesHeader)

	proxyURL, err := url.Parse(rw.Builder.Build(target, flags))
	if err != nil {
		return nil, false, fmt.Errorf("parse proxy url: %w", err)
	}
	out.URL = proxyURL
	out.Host = ""

	rw.logger().Debug("request routed through proxy",
		slog.String("url", target),
		slog.String("features", flags.String()),
	)
	return out, true, nil
}

func (rw *Rewriter) active() bool {
	return rw != nil && rw.Enabled && rw.Builder != nil && rw.Builder.APIKey != ""
}

func (rw *Rewriter) logger() *slog.Logger {
	if rw.Logger != nil {
		return rw.Logger
	}
	return slog.Default()
}

// Restore returns a copy of resp whose Request carries the URL stashed on
// req, falling back to the response's own URL. The stash header is
// dropped from the copy so a retry of it starts clean. The stashed value is
// decoded with the charset the response declares. Neither resp nor req is
// modified.
func Restore(resp *http.Response, req *http.Request) (*http.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("restore: nil response")
	}
	sent := req
	if sent == nil {
		sent = resp.Request
	}

	original := ""
	if sent != nil {
		original = sent.Header.Get(OriginalURLHeader)
	}
	if original == "" {
		if resp.Request == nil || resp.Request.URL == nil {
			return resp, nil
		}
		original = resp.Request.URL.String()
	}

	decoded, err := decodeHeaderValue(original, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode original url: %w", err)
	}
	originalURL, err := url.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("parse original url: %w", err)
	}

	base := sent
	if base == nil {
		base = &http.Request{Method: http.MethodGet, Header: http.Header{}}
	}
	logical := base.Clone(base.Context())
	logical.URL = originalURL
	logical.Host = originalURL.Host
	logical.Header.Del(OriginalURLHeader)

	restored := *resp
	restored.Request = logical
	return &restored, nil
}

func decodeHeaderValue(value, contentType string) (string, error) {
	if contentType == "" {
		return value, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return value, nil
	}
	label := params["charset"]
	if label == "" {
		return value, nil
	}
	enc, name := charset.Lookup(label)
	if enc == nil || name == "utf-8" {
		return value, nil
	}
	return enc.NewDecoder().String(value)
}
