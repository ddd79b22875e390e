package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "pushrelay/pkg/logx"
)

// MaxTokenTTL is the longest VAPID token lifetime push services accept.
const MaxTokenTTL = 24 * time.Hour

// MinTokenTTL is the shortest usable lifetime; exp has whole-second resolution.
const MinTokenTTL = time.Second

var knownDrivers = map[string]bool{
	"":           true,
	"memory":     true,
	"file":       true,
	"sqlite":     true,
	"sqlite3":    true,
	"postgres":   true,
	"postgresql": true,
	"pgx":        true,
	"redis":      true,
	"badger":     true,
}

// Validate checks structural rules. Key material is checked separately when it
// is imported, since parsing it needs the vapid package.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	sub := strings.TrimSpace(c.VAPID.Subject)
	switch {
	case sub == "":
		errs = append(errs, errors.New("vapid.subject: required (mailto: or https: contact)"))
	case !strings.HasPrefix(sub, "mailto:") && !strings.HasPrefix(sub, "https:"):
		errs = append(errs, fmt.Errorf("vapid.subject: %q must start with mailto: or https:", sub))
	}
	if strings.TrimSpace(c.VAPID.PrivateKey) == "" {
		errs = append(errs, errors.New("vapid.private_key: required"))
	}
	if ttl, err := ParseDurationField("vapid.token_ttl", c.VAPID.TokenTTL); err != nil {
		errs = append(errs, err)
	} else if ttl > MaxTokenTTL {
		errs = append(errs, fmt.Errorf("vapid.token_ttl: %s exceeds %s", ttl, MaxTokenTTL))
	} else if ttl > 0 && ttl < MinTokenTTL {
		errs = append(errs, fmt.Errorf("vapid.token_ttl: %s is below %s", ttl, MinTokenTTL))
	}

	if c.Relay.Workers < 0 {
		errs = append(errs, errors.New("relay.workers: must be >= 0"))
	}
	if c.Relay.RatePerSec < 0 {
		errs = append(errs, errors.New("relay.rate_per_sec: must be >= 0"))
	}
	if c.Relay.PageSize < 0 {
		errs = append(errs, errors.New("relay.page_size: must be >= 0"))
	}
	if c.Relay.QueueSize < 0 || c.Relay.StatusMax < 0 {
		errs = append(errs, errors.New("relay.queue_size/status_max: must be >= 0"))
	}
	for path, raw := range map[string]string{
		"relay.timeout":      c.Relay.Timeout,
		"relay.push_ttl":     c.Relay.PushTTL,
		"relay.status_ttl":   c.Relay.StatusTTL,
		"http.read_timeout":  c.HTTP.ReadTimeout,
		"http.write_timeout": c.HTTP.WriteTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.TrimSpace(c.Relay.Urgency) {
	case "", "very-low", "low", "normal", "high":
	default:
		errs = append(errs, fmt.Errorf("relay.urgency: unknown value %q", c.Relay.Urgency))
	}

	if c.Payload.MaxBody < 0 {
		errs = append(errs, errors.New("payload.max_body: must be >= 0"))
	}

	if !knownDrivers[strings.ToLower(strings.TrimSpace(c.Storage.Driver))] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if spec := strings.TrimSpace(c.Maintenance.Schedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
