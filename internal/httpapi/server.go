// Package httpapi is the inbound HTTP surface of the relay: subscription
// management, the broadcast trigger, diagnostics and metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"pushrelay/internal/metrics"
	"pushrelay/internal/relay"
	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	logx "pushrelay/pkg/logx"
)

const (
	defaultAddr         = ":8080"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 60 * time.Second
	shutdownGrace       = 5 * time.Second
	// syncResponseMargin is left of WriteTimeout to encode the report.
	syncResponseMargin = 2 * time.Second
)

// Options configure the server. Zero values fall back to defaults.
type Options struct {
	Addr         string
	CORSOrigins  []string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath mounts the Prometheus handler when Metrics is set.
	MetricsPath string
}

// Broadcaster is the part of the relay the API drives.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg relay.Message) (*relay.Report, error)
	Enqueue(msg relay.Message) (string, error)
	Status(id string) (relay.JobStatus, bool)
	Latest() (relay.Notification, bool)
	Probe(ctx context.Context, endpoint string) (*relay.ProbeResult, error)
}

type Deps struct {
	Relay   Broadcaster
	Store   storage.Store
	Keys    vapid.KeySource
	Metrics *metrics.Metrics
	// Health, when set, supplies the /healthz body.
	Health func() any
	Log    logx.Logger
}

type Server struct {
	opts    Options
	d       Deps
	log     logx.Logger
	handler http.Handler

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

func New(opts Options, d Deps) *Server {
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	s := &Server{opts: opts, d: d, log: d.Log}
	s.handler = s.routes()
	return s
}

// Handler is the full middleware-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer, requestID, s.accessLog)
	if s.d.Metrics != nil {
		r.Use(s.d.Metrics.Middleware)
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         600,
	}).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/vapid/public-key", s.handlePublicKey)
	r.Post("/subscribe", s.handleSubscribe)
	r.Post("/unsubscribe", s.handleUnsubscribe)
	r.Get("/subscriptions", s.handleListSubscriptions)
	r.Post("/messages", s.handleMessage)
	r.Get("/broadcasts/{id}", s.handleJobStatus)
	r.Get("/notifications/latest", s.handleLatest)

	if s.opts.Debug {
		r.Post("/send-test", s.handleSendTest)
		r.Get("/debug/vapid", s.handleDebugVapid)
		r.Mount("/debug", middleware.Profiler())
	}
	if s.d.Metrics != nil {
		r.Method(http.MethodGet, s.opts.MetricsPath, s.d.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// syncBudget bounds a synchronous POST /messages. Large fan-outs belong on
// ?async=1.
func (s *Server) syncBudget() time.Duration {
	if d := s.opts.WriteTimeout - syncResponseMargin; d >= s.opts.WriteTimeout/2 {
		return d
	}
	return s.opts.WriteTimeout / 2
}

// Addr is the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.log.Info("http listening", logx.String("addr", ln.Addr().String()), logx.Bool("debug", s.opts.Debug))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	s.log.Info("http stopped")
	return nil
}
