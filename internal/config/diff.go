package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pushrelay/pkg/logx"
)

// SummarizeChange returns the changed sections and safe structured attrs for
// logging. Secrets (VAPID private key, storage DSN/password) are reported only
// as "changed" booleans.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.VAPID, newCfg.VAPID
	keyChanged := strings.TrimSpace(o.PrivateKey) != strings.TrimSpace(n.PrivateKey) ||
		strings.TrimSpace(o.PublicKey) != strings.TrimSpace(n.PublicKey)
	if keyChanged || o.Subject != n.Subject || o.TokenTTL != n.TokenTTL {
		changed = append(changed, "vapid")
		attrs = append(attrs,
			logx.Bool("vapid.key_changed", keyChanged),
			logx.String("vapid.subject", n.Subject),
			logx.String("vapid.token_ttl", n.TokenTTL),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		r := newCfg.Relay
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Int("relay.workers", r.Workers),
			logx.Int("relay.rate_per_sec", r.RatePerSec),
			logx.Int("relay.page_size", r.PageSize),
			logx.String("relay.timeout", r.Timeout),
			logx.String("relay.push_ttl", r.PushTTL),
		)
	}

	if oldCfg.Payload != newCfg.Payload {
		changed = append(changed, "payload")
		attrs = append(attrs, logx.Int("payload.max_body", newCfg.Payload.MaxBody))
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	secretChanged := oldS.DSN != newS.DSN || oldS.Password != newS.Password
	oldS.DSN, oldS.Password, newS.DSN, newS.Password = "", "", "", ""
	if secretChanged || oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.secret_changed", secretChanged),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.debug", newCfg.HTTP.Debug),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", l.Level),
			logx.Bool("logx.console", l.Console),
			logx.Bool("logx.file_enabled", l.File.Enabled),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs, logx.String("maintenance.schedule", newCfg.Maintenance.Schedule))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.HTTP.Addr != newCfg.HTTP.Addr || !reflect.DeepEqual(oldCfg.HTTP.CORSOrigins, newCfg.HTTP.CORSOrigins) {
		out = append(out, "http")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		out = append(out, "metrics")
	}
	return out
}
