package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/gally-search/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func breakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// toggleServer fails with 500 while failing is set, and answers 200 otherwise.
func toggleServer(t *testing.T, failing *atomic.Bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"hydra:title":"An error occurred","hydra:description":"index is read only"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	return out.Counter.GetValue()
}

func newBreaker(name string) *CircuitBreakerClient {
	return NewCircuitBreakerClient(New(fastConfig(0)), breakerConfig(name), discardLogger())
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("gally")
	assert.Equal(t, "gally", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestCircuitBreaker_PassesSuccess(t *testing.T) {
	var failing atomic.Bool
	srv, _ := toggleServer(t, &failing)
	cb := newBreaker("cb-success")

	resp, err := get(t, cb, srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_ServerErrorCarriesDownstreamMessage(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, _ := toggleServer(t, &failing)

	resp, err := get(t, newBreaker("cb-message"), srv.URL)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index is read only")
}

func TestCircuitBreaker_TripsAndRejects(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, calls := toggleServer(t, &failing)
	cb := newBreaker("cb-trip")

	for range 3 {
		_, err := get(t, cb, srv.URL)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, 2.0, metricValue(t, breakerState.WithLabelValues("cb-trip")))

	_, err := get(t, cb, srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1.0, metricValue(t, breakerRejected.WithLabelValues("cb-trip")))
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, _ := toggleServer(t, &failing)
	cb := newBreaker("cb-recover")

	for range 3 {
		_, _ = get(t, cb, srv.URL)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())
	failing.Store(false)

	resp, err := get(t, cb, srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Zero(t, metricValue(t, breakerState.WithLabelValues("cb-recover")))
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, _ := toggleServer(t, &failing)
	cb := newBreaker("cb-reopen")

	for range 3 {
		_, _ = get(t, cb, srv.URL)
	}
	time.Sleep(80 * time.Millisecond)

	_, err := get(t, cb, srv.URL)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"no such index"}}`))
	}))
	defer srv.Close()
	cb := newBreaker("cb-4xx")

	for range 5 {
		resp, err := get(t, cb, srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.ErrorIs(t, ParseResponseError(resp, "gally"), apperrors.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_CancellationDoesNotTrip(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)
	cb := newBreaker("cb-cancel")

	for range 4 {
		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		time.AfterFunc(10*time.Millisecond, cancel)

		_, err = cb.Do(ctx, req)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
