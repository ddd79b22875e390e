// Package metrics exposes relay and HTTP counters to Prometheus. Collectors
// live on a private registry so several instances (tests) never collide.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushrelay/internal/relay"
)

const namespace = "pushrelay"

type Metrics struct {
	reg *prometheus.Registry

	pushes          *prometheus.CounterVec
	pushDuration    *prometheus.HistogramVec
	broadcasts      *prometheus.CounterVec
	broadcastSize   prometheus.Histogram
	broadcastTook   prometheus.Histogram
	lastBroadcastTS prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Push deliveries by outcome and status class.",
		}, []string{"outcome", "status"}),
		pushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_duration_seconds",
			Help:      "Latency of one push delivery, signing included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Completed broadcasts; result is clean when no target failed.",
		}, []string{"result"}),
		broadcastSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_targets",
			Help:      "Subscriptions per broadcast.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		broadcastTook: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of a whole broadcast.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastBroadcastTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_broadcast_timestamp_seconds",
			Help:      "Unix time the last broadcast finished.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Requests in flight by method and route.",
		}, []string{"method", "path"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pushes, m.pushDuration,
		m.broadcasts, m.broadcastSize, m.broadcastTook, m.lastBroadcastTS,
		m.httpRequests, m.httpDuration, m.httpInflight,
	)
	return m
}

// Registry is exposed for extra collectors and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// GaugeFunc registers a gauge sampled at scrape time, ignoring duplicates.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
	return register(m.reg, g)
}

// CounterFunc registers a counter sampled at scrape time, ignoring duplicates.
func (m *Metrics) CounterFunc(name, help string, fn func() float64) error {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
	return register(m.reg, c)
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ObserveTarget implements relay.Observer.
func (m *Metrics) ObserveTarget(res relay.TargetResult) {
	m.pushes.WithLabelValues(string(res.Outcome), statusClass(res.StatusCode)).Inc()
	m.pushDuration.WithLabelValues(string(res.Outcome)).Observe(res.Duration.Seconds())
}

// ObserveBroadcast implements relay.Observer.
func (m *Metrics) ObserveBroadcast(rep *relay.Report) {
	if rep == nil {
		return
	}
	result := "clean"
	if rep.Failed > 0 {
		result = "partial"
	}
	m.broadcasts.WithLabelValues(result).Inc()
	m.broadcastSize.Observe(float64(rep.Total))
	m.broadcastTook.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	m.lastBroadcastTS.Set(float64(rep.FinishedAt.Unix()))
}

// statusClass keeps label cardinality low: 2xx, 4xx, 5xx; gone codes stay
// exact since they drive pruning.
func statusClass(code int) string {
	switch {
	case code == 0:
		return "none"
	case code == http.StatusNotFound || code == http.StatusGone:
		return strconv.Itoa(code)
	default:
		return strconv.Itoa(code/100) + "xx"
	}
}

// Middleware instruments requests: counters, latency, inflight. The path
// label is the chi route pattern when one matched.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		inflightPath := normalizePath(r.URL.Path)
		m.httpInflight.WithLabelValues(method, inflightPath).Inc()
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			m.httpInflight.WithLabelValues(method, inflightPath).Dec()
			path := inflightPath
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					path = p
				}
			}
			m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

var (
	uuidSegmentRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F-]{4}-[0-9a-fA-F-]{4,}$`)
	hexSegmentRE   = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_-]{24,}$`)
)

// normalizePath collapses ids and tokens so unmatched paths cannot blow up
// label cardinality.
func normalizePath(p string) string {
	clean := strings.SplitN(p, "?", 2)[0]
	var out []string
	for _, seg := range strings.Split(clean, "/") {
		if seg == "" {
			continue
		}
		if isDynamicSegment(seg) {
			out = append(out, ":param")
		} else {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func isDynamicSegment(seg string) bool {
	if len(seg) > 48 {
		return true
	}
	if uuidSegmentRE.MatchString(seg) || hexSegmentRE.MatchString(seg) || tokenSegmentRE.MatchString(seg) {
		return true
	}
	_, err := strconv.Atoi(seg)
	return err == nil
}
