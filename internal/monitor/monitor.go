// Package monitor runs the periodic background jobs: peer probing and
// purging of expired token revocations.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single run of any job.
const jobTimeout = time.Minute

// Prober reports "up" or "down" per service.
type Prober interface {
	ProbeServices(ctx context.Context) map[string]string
}

// Purger drops expired entries and reports how many were removed.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Monitor schedules the jobs on a cron runner.
type Monitor struct {
	cron   *cron.Cron
	prober Prober
	purger Purger

	mu    sync.Mutex
	state map[string]string
}

// New registers the jobs. An empty schedule disables its job.
func New(prober Prober, purger Purger, peerSchedule, purgeSchedule string) (*Monitor, error) {
	m := &Monitor{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{}))),
		prober: prober,
		purger: purger,
		state:  make(map[string]string),
	}

	if peerSchedule != "" && prober != nil {
		if _, err := m.cron.AddFunc(peerSchedule, func() { m.ProbeOnce(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduling peer probe: %w", err)
		}
	}
	if purgeSchedule != "" && purger != nil {
		if _, err := m.cron.AddFunc(purgeSchedule, func() { m.PurgeOnce(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduling token purge: %w", err)
		}
	}
	return m, nil
}

// Start runs the scheduler in the background.
func (m *Monitor) Start() {
	slog.Info("monitor started", "jobs", len(m.cron.Entries()))
	m.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish or ctx to end.
func (m *Monitor) Stop(ctx context.Context) {
	done := m.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	slog.Info("monitor stopped")
}

// ProbeOnce probes all services and logs every change of state. The first
// observation of a service counts as a change.
func (m *Monitor) ProbeOnce(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	current := m.prober.ProbeServices(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, state := range current {
		prev, seen := m.state[name]
		if seen && prev == state {
			continue
		}
		if state == "up" {
			slog.Info("service is up", "service", name, "previous", prev)
		} else {
			slog.Warn("service is down", "service", name, "previous", prev)
		}
		m.state[name] = state
	}
	return current
}

// PurgeOnce removes expired revocations.
func (m *Monitor) PurgeOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := m.purger.Purge(ctx)
	if err != nil {
		slog.Error("failed to purge revoked tokens", "error", err)
		return
	}
	if n > 0 {
		slog.Info("purged revoked tokens", "count", n)
	}
}

// State returns a copy of the last observed service states.
func (m *Monitor) State() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
