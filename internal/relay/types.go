package relay

import (
	"time"
)

const (
	defaultWorkers    = 8
	defaultPageSize   = 100
	defaultTimeout    = 10 * time.Second
	defaultPushTTL    = 60 * time.Second
	defaultQueueSize  = 64
	defaultJobWorkers = 1
	defaultStatusMax  = 200
	defaultStatusTTL  = 24 * time.Hour
)

// Config tunes the relay. Zero values fall back to defaults.
type Config struct {
	// Subject is the VAPID "sub" claim (mailto: or https: contact).
	Subject string
	// TokenTTL is the JWT lifetime (default 12h).
	TokenTTL time.Duration
	// PushTTL is sent as the TTL header (default 60s).
	PushTTL time.Duration
	Urgency string

	// Workers bounds concurrent deliveries within one broadcast.
	Workers int
	// RatePerSec caps outbound pushes across broadcasts; 0 is unlimited.
	RatePerSec int
	PageSize   int
	// Timeout bounds one delivery call (default 10s).
	Timeout time.Duration

	QueueSize  int
	JobWorkers int
	StatusMax  int
	StatusTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 12 * time.Hour
	}
	if c.PushTTL <= 0 {
		c.PushTTL = defaultPushTTL
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.JobWorkers <= 0 {
		c.JobWorkers = defaultJobWorkers
	}
	if c.StatusMax <= 0 {
		c.StatusMax = defaultStatusMax
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	return c
}

// Message is the inbound chat message that triggers a broadcast.
type Message struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Notification is what the service worker shows for a broadcast.
type Notification struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Sender string    `json:"sender,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomePruned    Outcome = "pruned"
	OutcomeFailed    Outcome = "failed"
)

// TargetResult is the outcome for one subscription.
type TargetResult struct {
	Key        string        `json:"key"`
	Endpoint   string        `json:"endpoint"`
	User       string        `json:"user,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNs"`

	err error
}

// Err is the typed error behind a failed or pruned target.
func (r TargetResult) Err() error { return r.err }

// Report summarizes one broadcast. Delivered+Pruned+Failed == Total.
type Report struct {
	ID           string         `json:"id"`
	Total        int            `json:"total"`
	Delivered    int            `json:"delivered"`
	Pruned       int            `json:"pruned"`
	Failed       int            `json:"failed"`
	Targets      []TargetResult `json:"targets"`
	Notification Notification   `json:"notification"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
}

func (r *Report) add(res TargetResult) {
	switch res.Outcome {
	case OutcomeDelivered:
		r.Delivered++
	case OutcomePruned:
		r.Pruned++
	default:
		r.Failed++
	}
	r.Targets = append(r.Targets, res)
}

// Observer receives outcomes synchronously (metrics).
type Observer interface {
	ObserveTarget(res TargetResult)
	ObserveBroadcast(rep *Report)
}
