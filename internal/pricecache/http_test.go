package pricecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceFetchesPrices(t *testing.T) {
	var gotSymbols string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbols = r.URL.Query().Get("symbols")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"BTC-USD": 64250.5, "ETH-USD": 3120.25}`))
	}))
	defer srv.Close()

	source, err := HTTPSource(srv.URL)
	require.NoError(t, err)

	prices, err := source(context.Background(), []string{"BTC-USD", "ETH-USD"})
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD,ETH-USD", gotSymbols)
	assert.Equal(t, 64250.5, prices["BTC-USD"])
	assert.Equal(t, 3120.25, prices["ETH-USD"])
}

func TestHTTPSourceClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source, err := HTTPSource(srv.URL)
	require.NoError(t, err)

	_, err = source(context.Background(), []string{"BTC-USD"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPSourceRetriesServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"BTC-USD": 64000}`))
	}))
	defer srv.Close()

	source, err := HTTPSource(srv.URL)
	require.NoError(t, err)

	prices, err := source(context.Background(), []string{"BTC-USD"})
	require.NoError(t, err)
	assert.Equal(t, float64(64000), prices["BTC-USD"])
	assert.Equal(t, 3, calls)
}

func TestHTTPSourceRejectsBadURL(t *testing.T) {
	_, err := HTTPSource("not a url")
	assert.Error(t, err)
}

func TestHTTPSourceEmptyMarkets(t *testing.T) {
	source, err := HTTPSource("http://localhost:9")
	require.NoError(t, err)

	prices, err := source(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
