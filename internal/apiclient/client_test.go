package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:        baseURL,
		Token:          "test-token",
		RatePerSec:     1000,
		MaxConcurrency: 4,
		MaxRetries:     4,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  50 * time.Millisecond,
		Timeout:        5 * time.Second,
	}
}

func TestGetDecodesArrayAndSendsAuth(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 1}, {"id": 2}]`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), adapter.NewClock())
	spec := domain.EndpointSpec{Name: "games", Path: "/games", Type: domain.EndpointSeason}

	result, err := client.Get(context.Background(), spec, domain.Params{"season": 2024})
	require.NoError(t, err)

	records := domain.CoerceRecords(result)
	assert.Len(t, records, 2)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "season=2024", gotQuery)
}

func TestGetSubstitutesPathParams(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), adapter.NewClock())
	spec := domain.EndpointSpec{Name: "plays_game", Path: "/plays/game/{gameId}", Type: domain.EndpointGameFanout}

	_, err := client.Get(context.Background(), spec, domain.Params{"gameId": 401234, "season": 2024})
	require.NoError(t, err)
	assert.Equal(t, "/plays/game/401234", gotPath)
	assert.Equal(t, "season=2024", gotQuery)
}

func TestGetRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"id": 7}]`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), adapter.NewClock())
	spec := domain.EndpointSpec{Name: "teams", Path: "/teams", Type: domain.EndpointSnapshot}

	result, err := client.Get(context.Background(), spec, domain.Params{})
	require.NoError(t, err)
	assert.Len(t, domain.CoerceRecords(result), 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetHonorsRetryAfterHint(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(testConfig(server.URL), adapter.NewClock())
	spec := domain.EndpointSpec{Name: "teams", Path: "/teams", Type: domain.EndpointSnapshot}

	start := time.Now()
	_, err := client.Get(context.Background(), spec, domain.Params{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	// The hinted delay outranks the 5ms base backoff
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(testConfig(server.URL), adapter.NewClock())
	spec := domain.EndpointSpec{Name: "games", Path: "/games", Type: domain.EndpointSeason}

	_, err := client.Get(context.Background(), spec, domain.Params{"season": 1900})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "status:404", statusErr.Reason())
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(testConfig(server.URL), adapter.NewClock())
	spec := domain.EndpointSpec{Name: "teams", Path: "/teams", Type: domain.EndpointSnapshot}

	_, err := client.Get(context.Background(), spec, domain.Params{})
	require.Error(t, err)
	// initial attempt plus max_retries retries
	assert.Equal(t, int32(5), calls.Load())
}
