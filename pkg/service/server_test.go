package service_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverwatch/go-ingest/pkg/metrics"
	"github.com/riverwatch/go-ingest/pkg/service"
)

func startServer(t *testing.T, gatherer prometheus.Gatherer, ready service.ReadyCheck) string {
	t.Helper()

	srv := service.NewServer(zerolog.Nop(), ":0", gatherer, ready)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return fmt.Sprintf("http://localhost%s", srv.GetHTTPPort())
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Healthz(t *testing.T) {
	baseURL := startServer(t, nil, nil)

	status, body := get(t, baseURL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}

func TestServer_ReadyzFollowsCheck(t *testing.T) {
	var ready atomic.Bool
	baseURL := startServer(t, nil, ready.Load)

	status, _ := get(t, baseURL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	ready.Store(true)
	status, _ = get(t, baseURL+"/readyz")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewIngest(registry)
	m.MessagesConsumed.Inc()

	baseURL := startServer(t, registry, nil)

	status, body := get(t, baseURL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "ingest_messages_consumed_total 1")
}
