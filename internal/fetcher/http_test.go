package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestFetcher(retries int) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := newTestFetcher(1)
	body, err := f.Download(context.Background(), srv.URL+"/data", http.Header{"Authorization": {"Bearer tok"}})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownload_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Timeout: time.Second})
	_, err := f.Download(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(2)
	body, err := f.Download(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownload_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid MAP_KEY", http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	_, err := f.Download(context.Background(), srv.URL+"/api?key=secret", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, "invalid MAP_KEY", se.Body)
	assert.NotContains(t, se.URL, "secret")
}

func TestDownload_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := f.Download(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unreachable"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(1).Download(ctx, srv.URL, nil)
	require.Error(t, err)
}

func TestAdaptiveLimiter(t *testing.T) {
	a := NewAdaptiveLimiter(10, 10)
	assert.Equal(t, rate.Limit(10), a.Limit())

	a.OnRateLimit()
	assert.Equal(t, rate.Limit(5), a.Limit())

	a.OnRateLimit()
	a.OnRateLimit()
	assert.Equal(t, rate.Limit(2.5), a.Limit(), "floored at initial/4")

	for range 20 {
		a.OnSuccess()
	}
	assert.Equal(t, rate.Limit(20), a.Limit(), "capped at 2x initial")
}

func TestDefaultLimitersCoverFIRMS(t *testing.T) {
	assert.Contains(t, DefaultRateLimiters(), "firms.modaps.eosdis.nasa.gov")
	assert.Contains(t, DefaultAdaptiveLimiters(), "firms.modaps.eosdis.nasa.gov")
}

func TestStatusErrorMessage(t *testing.T) {
	assert.Equal(t, "unexpected status 500 from http://x", (&StatusError{URL: "http://x", StatusCode: 500}).Error())
	assert.Equal(t, "unexpected status 400 from http://x: bad", (&StatusError{URL: "http://x", StatusCode: 400, Body: "bad"}).Error())
}
