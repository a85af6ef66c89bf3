// Package hlsengine is an adaptive HLS engine for the headless player. It polls
// live media playlists, downloads segments on a shared worker pool and feeds
// their timing into a player element.
package hlsengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"

	"streamwall/internal/eventloop"
	"streamwall/internal/platform/logger"
	"streamwall/internal/platform/metrics"
	"streamwall/internal/supervisor"
)

var (
	// ErrUnsupported is returned by New when the factory has no worker pool.
	ErrUnsupported = errors.New("hlsengine: adaptive playback unavailable")

	// ErrDestroyed is returned by calls on a destroyed engine.
	ErrDestroyed = errors.New("hlsengine: engine destroyed")

	// ErrNotAttached is returned by StartLoad before a source and media are set.
	ErrNotAttached = errors.New("hlsengine: no source or media attached")
)

const (
	maxBodySize     = 32 << 20
	maxRetryBackoff = 8 * time.Second
	// overloadRetry is how long a fetch waits on the loop for a free worker.
	overloadRetry = 50 * time.Millisecond
)

// Options configures a Factory.
type Options struct {
	Client  *http.Client
	Workers int
	// PlaylistRate bounds playlist requests per second across all engines.
	PlaylistRate int
	VariantTTL   time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Factory builds engines sharing one HTTP client, worker pool, playlist rate
// limiter and variant cache. It implements supervisor.EngineFactory.
type Factory struct {
	loop     *eventloop.Loop
	client   *http.Client
	pool     *ants.Pool
	limiter  ratelimit.Limiter
	variants *otter.Cache[string, string]
	metrics  *metrics.Metrics
	log      *slog.Logger
}

var _ supervisor.EngineFactory = (*Factory)(nil)

// NewFactory returns a factory scheduling engine state on loop.
func NewFactory(loop *eventloop.Loop, opts Options) (*Factory, error) {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.PlaylistRate <= 0 {
		opts.PlaylistRate = 20
	}
	if opts.VariantTTL <= 0 {
		opts.VariantTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	pool, err := ants.NewPool(opts.Workers, ants.WithPreAlloc(true), ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Factory{
		loop:    loop,
		client:  opts.Client,
		pool:    pool,
		limiter: ratelimit.New(opts.PlaylistRate, ratelimit.WithoutSlack),
		variants: otter.Must(&otter.Options[string, string]{
			MaximumSize:      1024,
			ExpiryCalculator: otter.ExpiryWriting[string, string](opts.VariantTTL),
		}),
		metrics: opts.Metrics,
		log:     opts.Logger,
	}, nil
}

// Supported reports whether engines can be built.
func (f *Factory) Supported() bool {
	return f != nil && f.pool != nil && !f.pool.IsClosed()
}

// New returns an engine with cfg.
func (f *Factory) New(cfg supervisor.EngineConfig) (supervisor.Engine, error) {
	if !f.Supported() {
		return nil, ErrUnsupported
	}
	return newEngine(f, cfg), nil
}

// Close releases the worker pool. Engines still loading stop receiving data.
func (f *Factory) Close() {
	f.pool.Release()
}

// request describes one fetch with its retry policy.
type request struct {
	url        string
	kind       string
	timeout    time.Duration
	maxRetry   int
	retryDelay time.Duration
	limited    bool
}

// submit runs fetch on the pool and posts the outcome to the loop. It never
// blocks: while every worker is busy the fetch is re-armed on a loop timer.
func (f *Factory) submit(ctx context.Context, req request, done func([]byte, error)) {
	err := f.pool.Submit(func() {
		body, err := f.fetch(ctx, req)
		f.loop.Post(func() { done(body, err) })
	})
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		f.loop.AfterFunc(overloadRetry, func() {
			if ctx.Err() != nil {
				done(nil, ctx.Err())
				return
			}
			f.submit(ctx, req, done)
		})
	default:
		f.loop.Post(func() { done(nil, fmt.Errorf("submit %s fetch: %w", req.kind, err)) })
	}
}

// fetch GETs req.url, retrying with backoff. It returns ctx's error once ctx
// is done.
func (f *Factory) fetch(ctx context.Context, req request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= req.maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.loop.Clock().After(supervisor.Backoff(attempt, req.retryDelay, maxRetryBackoff)):
			}
		}
		if req.limited {
			f.limiter.Take()
		}

		body, err := f.get(ctx, req.url, req.timeout)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if f.metrics != nil {
			f.metrics.IncFetchError(req.kind)
		}
		f.log.Debug("fetch failed",
			slog.String("kind", req.kind),
			slog.String("url", logger.RedactURL(req.url)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return nil, lastErr
}

func (f *Factory) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d", logger.RedactURL(rawURL), resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}
