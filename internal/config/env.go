package config

import (
	"os"
	"strings"
)

// Environment overrides. Secrets usually live in the environment (or a .env
// file loaded by the CLI) rather than in the config file.
const (
	EnvVAPIDPrivateKey = "VAPID_PRIVATE_KEY"
	EnvVAPIDPublicKey  = "VAPID_PUBLIC_KEY"
	EnvVAPIDSubject    = "VAPID_SUBJECT"
	EnvHTTPAddr        = "PUSHRELAY_HTTP_ADDR"
	EnvStorageDSN      = "PUSHRELAY_STORAGE_DSN"
)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.VAPID.PrivateKey, EnvVAPIDPrivateKey)
	set(&cfg.VAPID.PublicKey, EnvVAPIDPublicKey)
	set(&cfg.VAPID.Subject, EnvVAPIDSubject)
	set(&cfg.HTTP.Addr, EnvHTTPAddr)
	set(&cfg.Storage.DSN, EnvStorageDSN)
}
