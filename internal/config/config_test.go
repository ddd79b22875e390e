package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
vapid:
  private_key: "file-secret"
  subject: "mailto:ops@example.com"
  token_ttl: "12h"
relay:
  workers: 4
  timeout: "10s"
storage:
  driver: sqlite
  path: ./relay.db
http:
  addr: ":8080"
  cors_origins: ["*"]
logging:
  level: debug
  console: true
maintenance:
  schedule: "@every 1h"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) string { return "" }

func TestManagerLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.VAPID.PrivateKey)
	assert.Equal(t, 4, cfg.Relay.Workers)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Same(t, cfg, m.Get())
}

func TestManagerEnvOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvVAPIDPrivateKey: "env-secret",
		EnvVAPIDSubject:    "https://example.com/contact",
		EnvHTTPAddr:        "127.0.0.1:9000",
	}
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.VAPID.PrivateKey)
	assert.Equal(t, "https://example.com/contact", cfg.VAPID.Subject)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown yaml key", "c.yaml", "vapid:\n  subject: mailto:a@b\n  colour: red\n"},
		{"unknown json key", "c.json", `{"nope": 1}`},
		{"trailing json", "c.json", `{"vapid":{}} {"vapid":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.path, []byte(tc.body))
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{VAPID: VAPIDConfig{PrivateKey: "k", Subject: "mailto:ops@example.com"}}
	}
	require.NoError(t, base().Validate())
	oneSecond := base()
	oneSecond.VAPID.TokenTTL = "1s"
	require.NoError(t, oneSecond.Validate())

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing subject", func(c *Config) { c.VAPID.Subject = "" }},
		{"bad subject", func(c *Config) { c.VAPID.Subject = "ops@example.com" }},
		{"missing key", func(c *Config) { c.VAPID.PrivateKey = " " }},
		{"ttl too long", func(c *Config) { c.VAPID.TokenTTL = "25h" }},
		{"ttl under a second", func(c *Config) { c.VAPID.TokenTTL = "500ms" }},
		{"bad duration", func(c *Config) { c.Relay.Timeout = "soon" }},
		{"negative workers", func(c *Config) { c.Relay.Workers = -1 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"bad urgency", func(c *Config) { c.Relay.Urgency = "asap" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad schedule", func(c *Config) { c.Maintenance.Schedule = "every hour" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tc.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{VAPID: VAPIDConfig{PrivateKey: "a"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:p@h/db"}}
	newCfg := &Config{VAPID: VAPIDConfig{PrivateKey: "b"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:q@h/db"}}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"storage", "vapid"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"storage"}, RestartRequired(oldCfg, newCfg))

	changed, _ = SummarizeChange(oldCfg, oldCfg)
	assert.Empty(t, changed)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)
}

func TestManagerWatchPublishesReload(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	updated := sampleYAML + "metrics:\n  enabled: true\n"
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is attached and picks it up.
		_ = os.WriteFile(path, []byte(updated), 0o600)
		select {
		case cfg := <-ch:
			return cfg.Metrics.Enabled
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
}
