package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pushrelay/internal/eventbus"
	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	"pushrelay/internal/webpush"
	logx "pushrelay/pkg/logx"
)

// Event types published on the bus.
const (
	EventTarget    = "relay.target"
	EventBroadcast = "relay.broadcast"
	EventJob       = "relay.job"
)

// Deps are the relay's collaborators. Store, Keys and Sender are required.
type Deps struct {
	Store    storage.Store
	Keys     vapid.KeySource
	Sender   webpush.Sender
	Signer   *vapid.Signer
	Payload  *PayloadBuilder
	Bus      eventbus.Bus
	Observer Observer
	Log      logx.Logger
}

type Relay struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter // nil: unlimited

	store   storage.Store
	keys    vapid.KeySource
	sender  webpush.Sender
	signer  *vapid.Signer
	payload *PayloadBuilder
	bus     eventbus.Bus
	obs     Observer
	log     logx.Logger

	latest atomic.Pointer[Notification]

	// async jobs, see queue.go
	queue     chan job
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]*JobStatus
}

func New(cfg Config, d Deps) *Relay {
	cfg = cfg.withDefaults()
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Signer == nil {
		d.Signer = vapid.NewSigner()
	}
	if d.Payload == nil {
		d.Payload = NewPayloadBuilder()
	}
	return &Relay{
		cfg:     cfg,
		limiter: newLimiter(cfg.RatePerSec),
		store:   d.Store,
		keys:    d.Keys,
		sender:  d.Sender,
		signer:  d.Signer,
		payload: d.Payload,
		bus:     d.Bus,
		obs:     d.Observer,
		log:     d.Log,
		queue:   make(chan job, cfg.QueueSize),
		status:  map[string]*JobStatus{},
	}
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}

// Apply swaps tuning at runtime. Queue size and job worker count take effect
// on the next Start.
func (r *Relay) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.RatePerSec != r.cfg.RatePerSec {
		r.limiter = newLimiter(cfg.RatePerSec)
	}
	r.cfg = cfg
}

// SetPayloadBuilder replaces the builder (config reload).
func (r *Relay) SetPayloadBuilder(b *PayloadBuilder) {
	if b == nil {
		return
	}
	r.mu.Lock()
	r.payload = b
	r.mu.Unlock()
}

func (r *Relay) snapshot() (Config, *rate.Limiter, *PayloadBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.limiter, r.payload
}

// Latest returns the most recently broadcast notification.
func (r *Relay) Latest() (Notification, bool) {
	n := r.latest.Load()
	if n == nil {
		return Notification{}, false
	}
	return *n, true
}

// Broadcast delivers msg to every stored subscription and waits for all of
// them. The error is non-nil only when no delivery could be attempted: the
// store listing or the signing key failed.
func (r *Relay) Broadcast(ctx context.Context, msg Message) (*Report, error) {
	start := time.Now()
	cfg, lim, pb := r.snapshot()

	key, err := r.keys.Current()
	if err != nil {
		return nil, fmt.Errorf("relay: signing key: %w", err)
	}

	targets, err := r.collect(ctx, cfg.PageSize)
	if err != nil {
		r.log.Error("broadcast aborted: listing subscriptions failed", logx.Err(err))
		return nil, err
	}

	if msg.SentAt.IsZero() {
		msg.SentAt = start.UTC()
	}
	n := pb.Build(msg)
	r.latest.Store(&n)

	rep := &Report{
		ID:           uuid.NewString(),
		Total:        len(targets),
		Notification: n,
		StartedAt:    start,
		Targets:      make([]TargetResult, 0, len(targets)),
	}
	log := r.log.With(logx.String("broadcast", rep.ID))
	log.Debug("broadcast started", logx.Int("targets", len(targets)), logx.Int("workers", cfg.Workers))

	results := make([]TargetResult, len(targets))
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, rec := range targets {
		g.Go(func() error {
			results[i] = r.deliver(ctx, log, cfg, lim, key, rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		rep.add(res)
	}
	rep.FinishedAt = time.Now()

	fields := []logx.Field{
		logx.String("broadcast", rep.ID),
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("pruned", rep.Pruned),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", rep.FinishedAt.Sub(start)),
	}
	if rep.Failed > 0 {
		r.log.Warn("broadcast finished with failures", fields...)
	} else {
		r.log.Info("broadcast finished", fields...)
	}

	if r.obs != nil {
		r.obs.ObserveBroadcast(rep)
	}
	r.publish(EventBroadcast, summary(rep))
	return rep, nil
}

// collect drains every page of the store. Records repeated across pages
// (redis HSCAN may do that) are delivered once.
func (r *Relay) collect(ctx context.Context, pageSize int) ([]storage.Record, error) {
	var out []storage.Record
	seen := map[string]struct{}{}
	err := storage.Walk(ctx, r.store, pageSize, func(page []storage.Record) error {
		for _, rec := range page {
			if _, dup := seen[rec.Key]; dup {
				continue
			}
			seen[rec.Key] = struct{}{}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return out, nil
}

func (r *Relay) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// BroadcastSummary is the bus payload for EventBroadcast.
type BroadcastSummary struct {
	ID        string        `json:"id"`
	Total     int           `json:"total"`
	Delivered int           `json:"delivered"`
	Pruned    int           `json:"pruned"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"tookNs"`
}

func summary(rep *Report) BroadcastSummary {
	return BroadcastSummary{
		ID:        rep.ID,
		Total:     rep.Total,
		Delivered: rep.Delivered,
		Pruned:    rep.Pruned,
		Failed:    rep.Failed,
		Took:      rep.FinishedAt.Sub(rep.StartedAt),
	}
}
