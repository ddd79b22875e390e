package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushrelay/internal/relay"
)

func TestObserveRelay(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveTarget(relay.TargetResult{Outcome: relay.OutcomeDelivered, StatusCode: 201, Duration: 20 * time.Millisecond})
	m.ObserveTarget(relay.TargetResult{Outcome: relay.OutcomeDelivered, StatusCode: 200})
	m.ObserveTarget(relay.TargetResult{Outcome: relay.OutcomePruned, StatusCode: 410})
	m.ObserveTarget(relay.TargetResult{Outcome: relay.OutcomeFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pushes.WithLabelValues("delivered", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues("pruned", "410")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pushes.WithLabelValues("failed", "none")))

	start := time.Unix(1_700_000_000, 0)
	m.ObserveBroadcast(&relay.Report{Total: 3, Failed: 1, StartedAt: start, FinishedAt: start.Add(time.Second)})
	m.ObserveBroadcast(&relay.Report{Total: 1, StartedAt: start, FinishedAt: start.Add(time.Second)})
	m.ObserveBroadcast(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("clean")))
	assert.Equal(t, float64(start.Add(time.Second).Unix()), testutil.ToFloat64(m.lastBroadcastTS))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	t.Parallel()

	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/broadcasts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, p := range []string{"/broadcasts/a", "/broadcasts/b", "/healthz"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/broadcasts/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/healthz", "200")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.GaugeFunc("subscriptions", "Stored subscriptions.", func() float64 { return 7 }))
	require.NoError(t, m.CounterFunc("bus_dropped_events_total", "Dropped bus events.", func() float64 { return 2 }))
	m.ObserveTarget(relay.TargetResult{Outcome: relay.OutcomeDelivered, StatusCode: 201})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pushrelay_subscriptions 7")
	assert.Contains(t, body, "pushrelay_bus_dropped_events_total 2")
	assert.Contains(t, body, `pushrelay_pushes_total{outcome="delivered",status="2xx"} 1`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":         "/",
		"/":        "/",
		"/healthz": "/healthz",
		"/broadcasts/3f1c2a9e-4b7d-4c1e-9a2b-7c8d9e0f1a2b": "/broadcasts/:param",
		"/x/12345?y=1": "/x/:param",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}
