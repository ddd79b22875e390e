package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pushrelay/internal/storage"
	logx "pushrelay/pkg/logx"
)

const maintenanceTimeout = time.Minute

// maintenance runs periodic housekeeping on a cron schedule. An empty
// schedule disables it.
type maintenance struct {
	mu   sync.Mutex
	log  logx.Logger
	run  func(ctx context.Context)
	spec string
	c    *cron.Cron
}

func newMaintenance(log logx.Logger, run func(ctx context.Context)) *maintenance {
	return &maintenance{log: log, run: run}
}

// Apply (re)schedules the job. The previous schedule stays when spec is invalid.
func (m *maintenance) Apply(spec string) error {
	spec = strings.TrimSpace(spec)
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec == m.spec && (m.c != nil || spec == "") {
		return nil
	}

	var next *cron.Cron
	if spec != "" {
		cl := cronLogger{log: m.log}
		next = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
		if _, err := next.AddFunc(spec, m.tick); err != nil {
			return err
		}
	}
	if m.c != nil {
		m.c.Stop()
	}
	m.c, m.spec = next, spec
	if next != nil {
		next.Start()
		m.log.Info("maintenance scheduled", logx.String("schedule", spec))
	} else {
		m.log.Info("maintenance disabled")
	}
	return nil
}

func (m *maintenance) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	m.run(ctx)
}

// Stop waits for a running job, bounded by ctx.
func (m *maintenance) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c, m.spec = nil, ""
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// runMaintenance drops expired job statuses and compacts the store.
func (a *App) runMaintenance(ctx context.Context) {
	start := time.Now()
	pruned := a.relay.PruneStatus(start)

	compacted := false
	if c, ok := a.store.(storage.Compactor); ok {
		if err := c.Compact(ctx); err != nil {
			a.log.Warn("store compaction failed", logx.Err(err))
		} else {
			compacted = true
		}
	}
	a.log.Info("maintenance done",
		logx.Int("statuses_pruned", pruned),
		logx.Bool("compacted", compacted),
		logx.Duration("took", time.Since(start)),
	)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
