package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// IPEchoURL returns the caller's public address as {"ip": "..."}.
const IPEchoURL = "https://api.ipify.org?format=json"

type ipEcho struct {
	IP string `json:"ip"`
}

// EgressIP fetches IPEchoURL through the proxy and returns the address the
// proxy used for the request.
func EgressIP(ctx context.Context, client *resty.Client, b *Builder) (string, error) {
	if b == nil || b.APIKey == "" {
		return "", fmt.Errorf("egress ip: proxy api key not configured")
	}
	res, err := client.R().
		SetContext(ctx).
		Get(b.Build(IPEchoURL, Flags{}))
	if err != nil {
		return "", fmt.Errorf("egress ip request: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("egress ip request: http status %d", res.StatusCode())
	}

	var echo ipEcho
	if err := json.Unmarshal(res.Body(), &echo); err != nil {
		return "", fmt.Errorf("decode egress ip response %q: %w", strings.TrimSpace(res.String()), err)
	}
	if echo.IP == "" {
		return "", fmt.Errorf("egress ip response has no ip")
	}
	return echo.IP, nil
}
