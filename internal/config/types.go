package config

// Config is the on-disk configuration. YAML files are coerced to JSON and
// decoded strictly, so every key here is the snake_case JSON tag.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "12h").
type Config struct {
	VAPID       VAPIDConfig       `json:"vapid"`
	Relay       RelayConfig       `json:"relay"`
	Payload     PayloadConfig     `json:"payload"`
	Storage     StorageConfig     `json:"storage"`
	HTTP        HTTPConfig        `json:"http"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// VAPIDConfig holds the application server identity.
//
// PrivateKey accepts a PEM block (PKCS#8 or SEC1), bare base64 DER, or the
// base64url raw 32-byte scalar most push tooling emits. It is a secret: never
// log it. VAPID_PRIVATE_KEY / VAPID_PUBLIC_KEY / VAPID_SUBJECT override the
// file values.
type VAPIDConfig struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key,omitempty"`
	Subject    string `json:"subject"`
	// TokenTTL is the JWT lifetime (default "12h", max "24h").
	TokenTTL string `json:"token_ttl,omitempty"`
}

// RelayConfig tunes the broadcast fan-out.
//
// Defaults (when fields are omitted/zero):
//   - workers: 8
//   - rate_per_sec: 0 (unlimited)
//   - page_size: 100
//   - timeout: "10s"
//   - push_ttl: "60s"
//   - queue_size: 64
//   - status_max: 200
//   - status_ttl: "24h"
type RelayConfig struct {
	Workers    int    `json:"workers,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	PushTTL    string `json:"push_ttl,omitempty"`
	// Urgency is sent as the Urgency header when set (very-low, low, normal, high).
	Urgency   string `json:"urgency,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	StatusMax int    `json:"status_max,omitempty"`
	StatusTTL string `json:"status_ttl,omitempty"`
}

type PayloadConfig struct {
	FallbackTitle string `json:"fallback_title,omitempty"`
	FallbackBody  string `json:"fallback_body,omitempty"`
	MaxBody       int    `json:"max_body,omitempty"`
}

// StorageConfig selects the subscription store.
//
// Example:
//
//	storage: { driver: "sqlite", path: "./pushrelay.db" }
//
// Drivers: memory (default), file, sqlite, postgres, redis, badger.
// DSN and Password are secrets and never logged.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Key         string `json:"key,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type HTTPConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
	// Debug enables /send-test, /debug/vapid and /debug/pprof.
	Debug        bool   `json:"debug,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

// MaintenanceConfig schedules periodic store compaction and job-status pruning.
// Schedule is a robfig/cron spec ("@every 1h", "0 */6 * * *"); empty disables.
type MaintenanceConfig struct {
	Schedule string `json:"schedule,omitempty"`
}
