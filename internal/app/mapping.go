package app

import (
	"fmt"
	"strings"
	"time"

	"pushrelay/internal/config"
	"pushrelay/internal/httpapi"
	"pushrelay/internal/relay"
	"pushrelay/internal/storage"
	logx "pushrelay/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	tokenTTL, err := config.ParseDurationOrDefault("vapid.token_ttl", cfg.VAPID.TokenTTL, 12*time.Hour)
	if err != nil {
		return relay.Config{}, err
	}
	timeout, err := config.ParseDurationField("relay.timeout", cfg.Relay.Timeout)
	if err != nil {
		return relay.Config{}, err
	}
	pushTTL, err := config.ParseDurationField("relay.push_ttl", cfg.Relay.PushTTL)
	if err != nil {
		return relay.Config{}, err
	}
	statusTTL, err := config.ParseDurationField("relay.status_ttl", cfg.Relay.StatusTTL)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Subject:    strings.TrimSpace(cfg.VAPID.Subject),
		TokenTTL:   tokenTTL,
		PushTTL:    pushTTL,
		Urgency:    strings.TrimSpace(cfg.Relay.Urgency),
		Workers:    cfg.Relay.Workers,
		RatePerSec: cfg.Relay.RatePerSec,
		PageSize:   cfg.Relay.PageSize,
		Timeout:    timeout,
		QueueSize:  cfg.Relay.QueueSize,
		StatusMax:  cfg.Relay.StatusMax,
		StatusTTL:  statusTTL,
	}, nil
}

func mapPayload(cfg *config.Config) *relay.PayloadBuilder {
	b := relay.NewPayloadBuilder()
	if v := strings.TrimSpace(cfg.Payload.FallbackTitle); v != "" {
		b.FallbackTitle = v
	}
	if v := strings.TrimSpace(cfg.Payload.FallbackBody); v != "" {
		b.FallbackBody = v
	}
	if cfg.Payload.MaxBody > 0 {
		b.MaxBody = cfg.Payload.MaxBody
	}
	return b
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file", "badger":
		if path == "" {
			path = "./data/pushrelay"
		}
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	case "redis":
		if strings.TrimSpace(sc.Addr) == "" {
			return storage.Config{}, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		Key:         strings.TrimSpace(sc.Key),
		BusyTimeout: busy,
	}, nil
}

func mapHTTPOptions(cfg *config.Config) (httpapi.Options, error) {
	rt, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Options{}, err
	}
	wt, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Options{}, err
	}
	return httpapi.Options{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Debug:        cfg.HTTP.Debug,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		MetricsPath:  strings.TrimSpace(cfg.Metrics.Path),
	}, nil
}
