// Package connectivity probes the sync backend on a schedule and reports
// online/offline transitions.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Pinger is the probe; remote.Source satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Target receives status changes; the sync orchestrator satisfies it.
type Target interface {
	SetOnlineStatus(online bool)
}

type Options struct {
	Pinger   Pinger
	Target   Target
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Monitor runs the probe as a singleton gocron job.
type Monitor struct {
	opts  Options
	log   *slog.Logger
	sched gocron.Scheduler

	mu     sync.Mutex
	known  bool
	online bool
}

func New(opts Options) (*Monitor, error) {
	if opts.Pinger == nil || opts.Target == nil {
		return nil, fmt.Errorf("connectivity: pinger and target are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Monitor{opts: opts, log: logger, sched: sched}, nil
}

// Start probes immediately and then every interval.
func (m *Monitor) Start() error {
	_, err := m.sched.NewJob(
		gocron.DurationJob(m.opts.Interval),
		gocron.NewTask(func() { m.Check(context.Background()) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule probe: %w", err)
	}
	m.sched.Start()
	return nil
}

// Stop waits for a running probe and stops the schedule.
func (m *Monitor) Stop() error {
	return m.sched.Shutdown()
}

// Check runs one probe and notifies the target if the status changed.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	err := m.opts.Pinger.Ping(ctx)
	online := err == nil

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if changed {
		if online {
			m.log.Info("backend reachable")
		} else {
			m.log.Warn("backend unreachable", "err", err)
		}
		m.opts.Target.SetOnlineStatus(online)
	}
	return online
}

// Online reports the last probe result; false before the first probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
