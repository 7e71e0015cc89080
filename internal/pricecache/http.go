package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const feedTimeout = 10 * time.Second

// HTTPSource builds a Source that queries a price feed over HTTP. The feed
// takes a comma-separated symbols parameter and answers with a flat
// symbol-to-price JSON object.
func HTTPSource(baseURL string) (Source, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid price feed url %q", baseURL)
	}

	client := &http.Client{Timeout: feedTimeout}

	return func(ctx context.Context, markets []string) (map[string]float64, error) {
		if len(markets) == 0 {
			return map[string]float64{}, nil
		}

		op := func() (map[string]float64, error) {
			return fetchPrices(ctx, client, u, markets)
		}
		prices, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(feedTimeout))
		if err != nil {
			return nil, fmt.Errorf("price feed: %w", err)
		}
		return prices, nil
	}, nil
}

func fetchPrices(ctx context.Context, client *http.Client, base *url.URL, markets []string) (map[string]float64, error) {
	u := *base
	q := u.Query()
	q.Set("symbols", strings.Join(markets, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(fmt.Errorf("price feed returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price feed returned %d", resp.StatusCode)
	}

	var prices map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode price feed response: %w", err))
	}
	return prices, nil
}
