package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pushrelay/internal/config"
	"pushrelay/internal/eventbus"
	"pushrelay/internal/httpapi"
	"pushrelay/internal/metrics"
	"pushrelay/internal/relay"
	"pushrelay/internal/runtime/supervisor"
	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	"pushrelay/internal/webpush"
	logx "pushrelay/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	keys    *vapid.KeyMaterial
	relay   *relay.Relay
	metrics *metrics.Metrics
	http    *httpapi.Server
	maint   *maintenance
}

type Option func(*config.Manager)

// WithEnv replaces the environment lookup used for overrides (tests).
func WithEnv(getenv func(string) string) Option {
	return func(m *config.Manager) { m.SetEnv(getenv) }
}

// New loads the config and builds every component without starting any
// goroutine. A malformed VAPID key is fatal here.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	for _, o := range opts {
		o(cfgm)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	keys := vapid.NewKeyMaterial()
	if _, err := keys.Load(cfg.VAPID.PrivateKey, cfg.VAPID.PublicKey); err != nil {
		return fail(fmt.Errorf("vapid key: %w", err))
	}

	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return fail(err)
	}
	hopts, err := mapHTTPOptions(cfg)
	if err != nil {
		return fail(err)
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	driver := sc.Driver
	if driver == "" {
		driver = "memory"
	}
	log.Info("storage ready", logx.String("driver", driver))

	bus := eventbus.New()

	var (
		m   *metrics.Metrics
		obs relay.Observer
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		obs = m
	}

	r := relay.New(rc, relay.Deps{
		Store:    store,
		Keys:     keys,
		Sender:   webpush.NewClient(webpush.WithTimeout(rc.Timeout)),
		Payload:  mapPayload(cfg),
		Bus:      bus,
		Observer: obs,
		Log:      log.With(logx.String("comp", "relay")),
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		keys:    keys,
		relay:   r,
		metrics: m,
	}
	a.http = httpapi.New(hopts, httpapi.Deps{
		Relay:   r,
		Store:   store,
		Keys:    keys,
		Metrics: m,
		Health:  a.health,
		Log:     log.With(logx.String("comp", "http")),
	})
	a.maint = newMaintenance(log.With(logx.String("comp", "maintenance")), a.runMaintenance)
	if m != nil {
		a.registerGauges()
	}
	return a, nil
}

func (a *App) Relay() *relay.Relay                { return a.relay }
func (a *App) Store() storage.Store               { return a.store }
func (a *App) Keys() *vapid.KeyMaterial           { return a.keys }
func (a *App) Config() *config.Config             { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger                { return a.log }
func (a *App) HTTP() *httpapi.Server              { return a.http }
func (a *App) Metrics() *metrics.Metrics          { return a.metrics }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() any {
	out := map[string]any{"status": "ok", "relay": a.relay.Running()}
	if _, err := a.keys.Current(); err != nil {
		out["status"] = "degraded"
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
	}
	return out
}

func (a *App) registerGauges() {
	gauges := []struct {
		name, help string
		fn         func() float64
		counter    bool
	}{
		{"bus_dropped_events_total", "Events dropped by slow bus subscribers.", func() float64 { return float64(a.bus.Dropped()) }, true},
		{"relay_running", "1 when the async broadcast workers are up.", func() float64 {
			if a.relay.Running() {
				return 1
			}
			return 0
		}, false},
		{"vapid_key_loaded", "1 when a VAPID signing key is loaded.", func() float64 {
			if _, err := a.keys.Current(); err != nil {
				return 0
			}
			return 1
		}, false},
	}
	for _, g := range gauges {
		var err error
		if g.counter {
			err = a.metrics.CounterFunc(g.name, g.help, g.fn)
		} else {
			err = a.metrics.GaugeFunc(g.name, g.help, g.fn)
		}
		if err != nil {
			a.log.Warn("metric registration failed", logx.String("metric", g.name), logx.Err(err))
		}
	}
}

// Start launches the HTTP server, the async relay workers, config hot reload
// and maintenance under one supervisor.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := vapid.Import(cfg.VAPID.PrivateKey, cfg.VAPID.PublicKey); err != nil {
			return fmt.Errorf("vapid key: %w", err)
		}
		if _, err := mapRelayConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.maint.Apply(a.cfgm.Get().Maintenance.Schedule); err != nil {
		return err
	}

	// Queued broadcasts outlive the supervisor context; relay.Stop runs them.
	a.relay.Start(context.WithoutCancel(a.sup.Context()))

	a.sup.Go("http", a.http.Run)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("eventbus.log", a.logEvents)
	a.startWatchdog()

	sdNotify(a.log, sdReady)
	a.log.Info("app started")
	return nil
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128, relay.EventBroadcast, relay.EventJob)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

// Stop shuts down in order: HTTP and background loops, queued broadcasts,
// maintenance, then storage. Each step is bounded so one component cannot
// stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, p)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("step", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("supervisor", 6*time.Second, a.sup.Stop)
	step("relay", 10*time.Second, func(c context.Context) error { a.relay.Stop(c); return nil })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases resources of an app that was never started (CLI one-shots).
func (a *App) Close() error {
	err := a.store.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}
