package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ourcityhealth/citypulse/internal/metrics"
)

func init() {
	// collectors must exist before any fetch records an observation
	metrics.Init()
}

func newTestFetcher(t *testing.T) (*Fetcher, *[]time.Duration) {
	t.Helper()
	f := New(Config{
		MaxRetries:  3,
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  time.Second,
		Timeout:     5 * time.Second,
	}, nil)

	var slept []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	f.jitter = func(time.Duration) time.Duration { return 0 }
	return f, &slept
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, string(body), "ok")
}

func TestFetchServerErrorExhaustsAttemptBudget(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, slept := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindExhausted, ferr.Kind)
	require.Equal(t, http.StatusInternalServerError, ferr.Status)

	require.EqualValues(t, 3, atomic.LoadInt32(&hits), "MaxRetries is the total attempt count")
	require.Len(t, *slept, 2, "no sleep after the final attempt")
}

func TestFetchPermanentFailureDoesNotRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, slept := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindPermanent, ferr.Kind)
	require.Equal(t, http.StatusNotFound, ferr.Status)

	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
	require.Empty(t, *slept)
}

func TestFetchTooManyRequestsBackoffIsNonDecreasing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f, slept := newTestFetcher(t)
	f.cfg.MaxRetries = 6
	f.cfg.BackoffCap = 500 * time.Millisecond

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	require.Len(t, *slept, 5)
	for i := 1; i < len(*slept); i++ {
		require.GreaterOrEqual(t, (*slept)[i], (*slept)[i-1])
	}
	for _, d := range *slept {
		require.LessOrEqual(t, d, f.cfg.BackoffCap)
	}
	// first delays double before the cap kicks in
	require.Equal(t, 100*time.Millisecond, (*slept)[0])
	require.Equal(t, 200*time.Millisecond, (*slept)[1])
	require.Equal(t, 400*time.Millisecond, (*slept)[2])
	require.Equal(t, 500*time.Millisecond, (*slept)[3])
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f, slept := newTestFetcher(t)
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, string(body), "recovered")
	require.Len(t, *slept, 1)
}

func TestFetchTransportErrorRetriesLinearly(t *testing.T) {
	// nothing listens here
	f, slept := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindExhausted, ferr.Kind)
	require.Zero(t, ferr.Status)

	require.Len(t, *slept, 2)
	require.Equal(t, 100*time.Millisecond, (*slept)[0])
	require.Equal(t, 200*time.Millisecond, (*slept)[1])
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f, _ := newTestFetcher(t)
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindTransient, ferr.Kind)
	require.ErrorIs(t, err, context.Canceled)
}
