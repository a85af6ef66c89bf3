// Package outage watches all streams together and asks for a full rebuild when
// none of them has recovered for a long time.
package outage

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"streamwall/internal/eventloop"
	"streamwall/internal/supervisor"
)

// Target is the view of a supervisor the monitor needs.
type Target interface {
	Health() supervisor.Health
	QueueAttach(delay time.Duration)
}

// Config holds the monitor timings.
type Config struct {
	Interval       time.Duration
	OutageDuration time.Duration
	// StallWindow is the supervisor stall window; a stream is healthy while its
	// last progress is younger than 1.5 times this.
	StallWindow   time.Duration
	RequeueBase   time.Duration
	RequeueJitter time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		OutageDuration: 2 * time.Minute,
		StallWindow:    40 * time.Second,
		RequeueBase:    200 * time.Millisecond,
		RequeueJitter:  1200 * time.Millisecond,
	}
}

// Options wires the monitor to the rest of the wall.
type Options struct {
	// Targets lists the current supervisors.
	Targets func() []Target
	// Online reports connectivity. Nil means always online.
	Online func() bool
	// OnReload is called once per outage.
	OnReload func(reason string)
	Jitter   func(max time.Duration) time.Duration
	Logger   *slog.Logger
}

// Monitor is the global outage clock. It lives on the event loop.
type Monitor struct {
	loop *eventloop.Loop
	cfg  Config
	opts Options
	log  *slog.Logger

	ticker          *eventloop.Timer
	outageSince     time.Time
	reloadRequested bool
}

// New creates a stopped monitor.
func New(loop *eventloop.Loop, cfg Config, opts Options) *Monitor {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.OutageDuration <= 0 {
		cfg.OutageDuration = d.OutageDuration
	}
	if cfg.StallWindow <= 0 {
		cfg.StallWindow = d.StallWindow
	}
	if opts.Targets == nil {
		opts.Targets = func() []Target { return nil }
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.OnReload == nil {
		opts.OnReload = func(string) {}
	}
	if opts.Jitter == nil {
		opts.Jitter = func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Monitor{loop: loop, cfg: cfg, opts: opts, log: log}
}

// Start (re)arms the periodic poll and clears the outage clock.
func (m *Monitor) Start() {
	m.Stop()
	m.Reset()
	m.ticker = m.loop.Every(m.cfg.Interval, m.Tick)
}

// Stop cancels the poll.
func (m *Monitor) Stop() {
	m.ticker.Stop()
	m.ticker = nil
}

// Reset clears the outage clock and allows another reload request.
func (m *Monitor) Reset() {
	m.outageSince = time.Time{}
	m.reloadRequested = false
}

// OutageSince returns when the current outage started, zero when there is none.
func (m *Monitor) OutageSince() time.Time { return m.outageSince }

// Tick runs one poll. Idle streams are queued to re-attach with a random delay;
// the outage clock runs while no stream is healthy.
func (m *Monitor) Tick() {
	now := m.loop.Now()
	limit := m.cfg.StallWindow * 3 / 2

	considered, healthy := 0, 0
	for _, t := range m.opts.Targets() {
		h := t.Health()
		considered++
		// Failed streams have no playback path; they count as unhealthy but are
		// never requeued.
		if h.Phase == supervisor.PhaseFailed {
			continue
		}

		if !h.Attached && !h.RetryPending {
			t.QueueAttach(m.cfg.RequeueBase + m.opts.Jitter(m.cfg.RequeueJitter))
			continue
		}
		if h.Attached && !h.Paused && now.Sub(h.LastProgressAt) < limit {
			healthy++
		}
	}

	if considered == 0 || !m.opts.Online() {
		m.outageSince = time.Time{}
		return
	}

	if healthy > 0 {
		if !m.outageSince.IsZero() {
			m.log.Info("outage cleared", slog.Duration("lasted", now.Sub(m.outageSince)))
		}
		m.Reset()
		return
	}

	if m.outageSince.IsZero() {
		m.outageSince = now
		m.log.Warn("no healthy streams", slog.Int("streams", considered))
		return
	}

	if now.Sub(m.outageSince) >= m.cfg.OutageDuration && !m.reloadRequested {
		m.reloadRequested = true
		m.log.Error("full outage, requesting reload",
			slog.Duration("outage", now.Sub(m.outageSince)),
			slog.Int("streams", considered))
		m.opts.OnReload("outage")
	}
}
