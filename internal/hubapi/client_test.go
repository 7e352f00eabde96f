package hubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		BaseURL: srv.URL,
		Token:   "hf_test_token",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return srv, client
}

func TestListModelsDecodesResponse(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotAuth, gotQuery string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Model{
			{ID: "org/new-model", Likes: 12, Downloads: 3400},
			{ID: "org/old-model", Likes: 2, Downloads: 100},
		})
	})

	models, err := client.ListModels(context.Background(), ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "org/new-model", models[0].ID)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "Bearer hf_test_token", gotAuth)
	require.Contains(t, gotQuery, "limit=2")
	require.Contains(t, gotQuery, "sort=lastModified")
	require.Contains(t, gotQuery, "direction=-1")
}

func TestGetModelNotFound(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetModel(context.Background(), "org/missing")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetJSONSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	})

	_, err := client.ListModels(context.Background(), ListParams{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")
	require.Contains(t, err.Error(), "upstream unavailable")
}

func TestClientRespectsRateLimit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{
		BaseURL:       srv.URL,
		RatePerSecond: 10,
		Burst:         1,
	})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.ListModels(context.Background(), ListParams{})
		require.NoError(t, err)
	}
	// Burst 1 at 10 rps forces ~100ms between the remaining calls.
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, hits)
}

func TestCrawlJobSummarizesListing(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]Model{
			{ID: "org/first"},
			{ID: "org/second"},
		})
	})

	job := NewCrawlJob(client, 50)
	got, err := job.Execute(context.Background())
	require.NoError(t, err)

	result, ok := got.(CrawlResult)
	require.True(t, ok)
	require.Equal(t, 2, result.Models)
	require.Equal(t, "org/first", result.NewestID)
	require.Contains(t, result.String(), "2 models")
}

func TestLookupJobFatalOn404(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	job := NewLookupJob(client, "org/missing")
	_, err := job.Execute(context.Background())
	require.Error(t, err)
	require.True(t, agent.IsFatal(err), "404 must not be retried")
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
