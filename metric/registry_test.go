package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/pkg/security"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	require.NoError(t, registry.RegisterCounter("dispatch", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "first"})
	second := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "first"})

	require.NoError(t, registry.RegisterGauge("svc", "dup_gauge", first))

	err := registry.RegisterGauge("svc", "dup_gauge", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterGauge("other", "dup_gauge", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ops_total", Help: "ops"}, []string{"op"})
	require.NoError(t, registry.RegisterCounterVec("svc", "ops_total", vec))
	vec.WithLabelValues("hello").Inc()
	assert.True(t, gatheredNames(t, registry)["ops_total"])

	assert.True(t, registry.Unregister("svc", "ops_total"))
	assert.False(t, registry.Unregister("svc", "ops_total"))
	assert.False(t, gatheredNames(t, registry)["ops_total"])
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d", i)
			h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: name})
			assert.NoError(t, registry.RegisterHistogram("svc", name, h))
		}(i)
	}
	wg.Wait()
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordRequest("api", http.MethodGet, 200, 5*time.Millisecond)
	m.RecordRPC("hello", "", time.Millisecond)
	m.RecordRPC("hello", "transient", time.Millisecond)
	m.RecordLogPersisted("console", "info")
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(false)

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"specgate_http_requests_total",
		"specgate_http_request_duration_seconds",
		"specgate_rpc_duration_seconds",
		"specgate_rpc_errors_total",
		"specgate_log_records_total",
		"specgate_nats_connected",
		"specgate_nats_reconnects_total",
		"specgate_nats_circuit_breaker",
	} {
		assert.True(t, names[name], "missing %s", name)
	}
}

func TestRegistry_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordNATSStatus(true)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "specgate_nats_connected 1")
}

func TestServer_StartStop(t *testing.T) {
	registry := NewMetricsRegistry()
	srv := NewServer("127.0.0.1:0", "", registry, security.ServerTLSConfig{})

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start(), "second start must fail")

	addr := srv.Address()
	require.True(t, strings.HasSuffix(addr, "/metrics"))

	resp, err := http.Get(addr)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}
