// Package netwatch tells the wall whether the network is reachable by probing a
// URL on an interval.
package netwatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"streamwall/internal/platform/logger"
)

// Config configures a Prober.
type Config struct {
	// URL is probed with HEAD. Empty means the network is always online.
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Prober reports online/offline transitions. Any HTTP response counts as
// online, a transport failure as offline.
type Prober struct {
	cfg      Config
	onChange func(online bool)

	mu     sync.Mutex
	online bool
}

// New returns a prober that starts out online. onChange is called on every
// transition, from the goroutine running Check.
func New(cfg Config, onChange func(online bool)) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &Prober{cfg: cfg, onChange: onChange, online: true}
}

// Online returns the last observed state.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Check probes once and returns the new state. A probe cut short by ctx
// leaves the state unchanged.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.cfg.URL == "" || p.probe(ctx)
	if ctx.Err() != nil {
		return p.Online()
	}

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.mu.Unlock()

	if changed {
		p.cfg.Logger.Info("network state changed",
			slog.Bool("online", online),
			slog.String("probe", logger.RedactURL(p.cfg.URL)))
		p.onChange(online)
	}
	return online
}

// Run probes every interval until ctx is done. It returns at once when no URL
// is configured.
func (p *Prober) Run(ctx context.Context) {
	if p.cfg.URL == "" {
		return
	}
	ticker := p.cfg.Clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		p.cfg.Logger.Debug("probe failed", slog.String("error", err.Error()))
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}
