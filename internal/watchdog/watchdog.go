// Package watchdog supervises external services, restarting crashed
// ones a bounded number of times and escalating when that fails.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
)

// Probe checks one service's health. A nil return means healthy.
type Probe func(ctx context.Context) error

// RestartFunc relaunches a crashed service.
type RestartFunc func(ctx context.Context) error

// Service describes one supervised target. A nil Restart makes the
// service monitor-only: outages are reported but never acted on.
type Service struct {
	Name    string
	Probe   Probe
	Restart RestartFunc
}

// Options tunes the supervision loop.
type Options struct {
	CheckInterval      time.Duration
	MaxRestartAttempts int
	ProbeTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.CheckInterval <= 0 {
		o.CheckInterval = time.Minute
	}
	if o.MaxRestartAttempts <= 0 {
		o.MaxRestartAttempts = 3
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	return o
}

type serviceState struct {
	svc Service

	healthy     bool
	firstCheck  bool
	restarts    int
	escalated   bool
	alertedDown bool
}

// Monitor owns the supervision loop over a fixed set of services.
type Monitor struct {
	opts     Options
	log      *zap.Logger
	notifier agent.Notifier

	mu       sync.Mutex
	services []*serviceState
}

// New creates a Monitor. The notifier may be nil.
func New(services []Service, opts Options, logger *zap.Logger, notifier agent.Notifier) (*Monitor, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("watchdog: at least one service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("watchdog: logger is required")
	}
	states := make([]*serviceState, 0, len(services))
	for _, svc := range services {
		if svc.Name == "" || svc.Probe == nil {
			return nil, fmt.Errorf("watchdog: services need a name and a probe")
		}
		states = append(states, &serviceState{svc: svc, healthy: true, firstCheck: true})
	}
	return &Monitor{
		opts:     opts.withDefaults(),
		log:      logger,
		notifier: notifier,
		services: states,
	}, nil
}

// Run sweeps all services once immediately and then on every tick
// until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("watchdog started",
		zap.Duration("check_interval", m.opts.CheckInterval),
		zap.Int("max_restart_attempts", m.opts.MaxRestartAttempts),
		zap.Int("services", len(m.services)))

	m.Sweep(ctx)

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every service once and applies restart policy.
func (m *Monitor) Sweep(ctx context.Context) {
	m.mu.Lock()
	states := make([]*serviceState, len(m.services))
	copy(states, m.services)
	m.mu.Unlock()

	for _, st := range states {
		if ctx.Err() != nil {
			return
		}
		m.check(ctx, st)
	}
}

func (m *Monitor) check(ctx context.Context, st *serviceState) {
	log := m.log.With(zap.String("service", st.svc.Name))

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := st.svc.Probe(probeCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		if !st.healthy && !st.firstCheck {
			log.Info("service recovered", zap.Int("restarts_used", st.restarts))
			m.alert(ctx, agent.Alert{
				Title:   "Service recovered",
				Message: fmt.Sprintf("%s is healthy again after %d restart attempts", st.svc.Name, st.restarts),
				Level:   agent.AlertSuccess,
			})
		}
		st.healthy = true
		st.firstCheck = false
		st.restarts = 0
		st.escalated = false
		st.alertedDown = false
		return
	}

	st.healthy = false
	st.firstCheck = false
	log.Warn("service unhealthy", zap.Error(err))

	if st.svc.Restart == nil {
		// Monitor-only service. One alert per outage.
		if !st.alertedDown {
			st.alertedDown = true
			m.alert(ctx, agent.Alert{
				Title:   "Service down",
				Message: fmt.Sprintf("%s is unhealthy and has no restart policy: %s", st.svc.Name, err),
				Level:   agent.AlertError,
			})
		}
		return
	}

	if st.restarts < m.opts.MaxRestartAttempts {
		st.restarts++
		metrics.ObserveWatchdogRestart(st.svc.Name)
		log.Warn("restarting service",
			zap.Int("attempt", st.restarts),
			zap.Int("max_attempts", m.opts.MaxRestartAttempts))

		if rerr := st.svc.Restart(ctx); rerr != nil {
			log.Error("restart attempt failed", zap.Error(rerr))
		}
		m.alert(ctx, agent.Alert{
			Title:   "Service restarted",
			Message: fmt.Sprintf("%s was unhealthy, restart attempt %d of %d", st.svc.Name, st.restarts, m.opts.MaxRestartAttempts),
			Level:   agent.AlertWarning,
		})
		return
	}

	if !st.escalated {
		st.escalated = true
		log.Error("service failed to recover, escalating",
			zap.Int("restart_attempts", st.restarts))
		m.alert(ctx, agent.Alert{
			Title:   "Service critical",
			Message: fmt.Sprintf("%s is still down after %d restart attempts, manual intervention required", st.svc.Name, st.restarts),
			Level:   agent.AlertError,
		})
	}
}

// Status reports each service's current health keyed by name.
func (m *Monitor) Status() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.services))
	for _, st := range m.services {
		out[st.svc.Name] = st.healthy
	}
	return out
}

func (m *Monitor) alert(ctx context.Context, alert agent.Alert) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, alert); err != nil {
		m.log.Warn("send watchdog alert", zap.Error(err))
	}
}
