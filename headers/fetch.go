package headers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Fetcher loads header sets from the ScrapeOps headers API.
type Fetcher struct {
	Client   *resty.Client
	Endpoint string
	APIKey   string
	// NumResults is sent as num_results when positive.
	NumResults int
}

type fetchResponse struct {
	Result []json.RawMessage `json:"result"`
}

// Fetch calls the endpoint once, without retry. The result array may hold
// header objects or bare user-agent strings. On failure it returns an
// empty pool together with the error so callers can continue without
// header replacement.
func (f *Fetcher) Fetch(ctx context.Context, opts ...PoolOption) (*Pool, error) {
	empty := NewPool(nil, opts...)

	params := map[string]string{"api_key": f.APIKey}
	if f.NumResults > 0 {
		params["num_results"] = strconv.Itoa(f.NumResults)
	}

	client := f.Client
	if client == nil {
		client = resty.New()
	}
	res, err := client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(strings.TrimRight(f.Endpoint, "?"))
	if err != nil {
		return empty, fmt.Errorf("fetch header sets: %w", err)
	}
	if res.IsError() {
		return empty, fmt.Errorf("fetch header sets: http status %d", res.StatusCode())
	}

	var payload fetchResponse
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return empty, fmt.Errorf("decode header sets: %w", err)
	}

	sets := make([]HeaderSet, 0, len(payload.Result))
	skipped := 0
	for _, raw := range payload.Result {
		set, ok := decodeEntry(raw)
		if !ok {
			skipped++
			continue
		}
		sets = append(sets, set)
	}
	if skipped > 0 {
		slog.Debug("skipped unusable header entries",
			slog.String("endpoint", f.Endpoint),
			slog.Int("skipped", skipped),
		)
	}
	return NewPool(sets, opts...), nil
}

func decodeEntry(raw json.RawMessage) (HeaderSet, bool) {
	var userAgent string
	if err := json.Unmarshal(raw, &userAgent); err == nil {
		userAgent = strings.TrimSpace(userAgent)
		if userAgent == "" {
			return nil, false
		}
		return HeaderSet{"User-Agent": userAgent}, true
	}

	var set HeaderSet
	if err := json.Unmarshal(raw, &set); err != nil || len(set) == 0 {
		return nil, false
	}
	return set, true
}
