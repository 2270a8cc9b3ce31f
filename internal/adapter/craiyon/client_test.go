package craiyon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripph/promptfeed/internal/adapter/metrics"
	"github.com/tripph/promptfeed/internal/domain"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Client, *metrics.GenerationMetrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := metrics.NewGenerationMetrics(metrics.NewRegistry())
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: timeout, BreakerFailures: 2, BreakerCooldown: time.Minute}, m), m
}

func TestGenerate_Success(t *testing.T) {
	var got domain.GenerateRequest
	client, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("User-Agent"), "promptfeed/")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"v1","images":["img1","img2"]}`))
	}, 5*time.Second)

	resp, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "a cat"})

	require.NoError(t, err)
	assert.Equal(t, "a cat", got.Prompt)
	assert.Equal(t, "v1", resp.Version)
	assert.Equal(t, []string{"img1", "img2"}, resp.Images)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("success")))
}

func TestGenerate_NonSuccessStatus(t *testing.T) {
	client, m := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}, 5*time.Second)

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "a cat"})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeExternal))
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("error")))
}

func TestGenerate_MalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"images": [`))
	}, 5*time.Second)

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "a cat"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestGenerate_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	client, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, time.Minute)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, domain.GenerateRequest{Prompt: "slow"})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeExternal))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("timeout")))
}

func TestGenerate_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	client, m := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, 5*time.Second)

	for range 2 {
		_, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "x"})
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the service")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("circuit_open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("generator")))
}
