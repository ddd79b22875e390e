package app

import (
	"context"
	"strings"

	"pushrelay/internal/config"
	logx "pushrelay/pkg/logx"
)

// reloadLoop applies validated config reloads published by the watcher.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	if cfg == nil {
		return
	}
	sections, attrs := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(old, cfg); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(cfg))

	if rc, err := mapRelayConfig(cfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(rc)
	}
	a.relay.SetPayloadBuilder(mapPayload(cfg))

	if old == nil || old.VAPID.PrivateKey != cfg.VAPID.PrivateKey || old.VAPID.PublicKey != cfg.VAPID.PublicKey {
		if k, err := a.keys.Load(cfg.VAPID.PrivateKey, cfg.VAPID.PublicKey); err != nil {
			a.log.Warn("vapid key reload failed; keeping previous key", logx.Err(err))
		} else {
			a.log.Info("vapid key reloaded", logx.String("public_key", k.PublicKeyBase64()))
		}
	}

	if old == nil || old.Maintenance.Schedule != cfg.Maintenance.Schedule {
		if err := a.maint.Apply(cfg.Maintenance.Schedule); err != nil {
			a.log.Warn("invalid maintenance schedule; keeping previous", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
