package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"

	"streamwall/internal/dashboard"
	"streamwall/internal/eventloop"
	"streamwall/internal/hlsengine"
	"streamwall/internal/livesim"
	"streamwall/internal/netwatch"
	"streamwall/internal/platform/config"
	"streamwall/internal/platform/logger"
	"streamwall/internal/platform/metrics"
	"streamwall/internal/player"
	"streamwall/internal/prefs"
	"streamwall/internal/sources"
	"streamwall/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	s := config.FromEnv()

	log := logger.New(s.LogLevel, s.LogFormat)
	met := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := eventloop.New(clock.New())
	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("event loop stopped", "error", err)
		}
	}()

	engines, err := hlsengine.NewFactory(loop, hlsengine.Options{
		Workers:      s.EngineWorkers,
		PlaylistRate: s.PlaylistRate,
		Metrics:      met,
		Logger:       log.With("component", "hlsengine"),
	})
	if err != nil {
		log.Error("engine factory", "error", err)
		os.Exit(1)
	}
	defer engines.Close()

	store, err := prefs.Open(ctx, prefs.Config{
		Backend:    s.PrefsBackend,
		SQLitePath: s.SQLitePath,
		Redis: prefs.RedisOptions{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
		},
	})
	if err != nil {
		log.Error("preferences store", "backend", s.PrefsBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))

	loadStreams := streamLoader(s)
	if s.DemoStreams > 0 {
		demo := startDemo(ctx, s, log, met)
		r.Mount("/demo", demo.handler)
		if s.StreamsURL == "" {
			loadStreams = func(context.Context) ([]supervisor.Descriptor, error) { return demo.descriptors, nil }
		}
	}

	// A nil *hlsengine.Native must not reach player.New as a non-nil interface.
	var native player.NativeSource
	if s.NativeHLS {
		native = &hlsengine.Native{Factory: engines, Config: supervisor.DefaultEngineConfig()}
	}
	elementLog := log.With("component", "player")

	cfg := dashboard.DefaultConfig()
	cfg.SoftReload = s.SoftReload
	cfg.Viewport = dashboard.Viewport{Width: s.ViewportWidth, Height: s.ViewportHeight}
	cfg.Supervisor.StallWindow = s.StallWindow
	cfg.Outage.StallWindow = s.StallWindow
	cfg.Outage.OutageDuration = s.OutageDuration

	board := dashboard.New(loop, cfg, dashboard.Options{
		Sources: loadStreams,
		NewElement: func() supervisor.Element {
			return player.New(loop, native, elementLog)
		},
		Engines: engines,
		Metrics: met,
		Logger:  log,
	})
	loop.Post(func() { board.Start(ctx) })

	prober := netwatch.New(netwatch.Config{
		URL:      s.ProbeURL,
		Interval: s.ProbeInterval,
		Logger:   log.With("component", "netwatch"),
	}, func(online bool) {
		loop.Post(func() { board.SetOnline(online) })
	})
	go prober.Run(ctx)

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { board.UpdateMetrics(r.Context()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Mount("/api", dashboard.NewHandler(board, store, log).Routes())

	addr := ":" + s.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", s.Port,
		"version", config.AppVersion,
		"streams", logger.RedactURL(s.StreamsURL),
		"demo_streams", s.DemoStreams,
		"native_hls", s.NativeHLS,
		"prefs_backend", s.PrefsBackend,
		"log_level", s.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := loop.Do(shutdownCtx, board.Stop); err != nil {
		log.Error("wall teardown", "error", err)
	}

	log.Info("server stopped")
}

func streamLoader(s config.Settings) func(context.Context) ([]supervisor.Descriptor, error) {
	loader := &sources.Loader{
		Client:  &http.Client{Timeout: 15 * time.Second},
		Version: config.AppVersion,
	}
	return func(ctx context.Context) ([]supervisor.Descriptor, error) {
		if s.StreamsURL == "" {
			return nil, nil
		}
		return loader.Load(ctx, s.StreamsURL)
	}
}

type demoOrigin struct {
	handler     http.Handler
	descriptors []supervisor.Descriptor
}

// startDemo runs a simulated live origin with s.DemoStreams cameras.
func startDemo(ctx context.Context, s config.Settings, log *slog.Logger, met *metrics.Metrics) demoOrigin {
	clk := clock.New()
	repo := livesim.NewRepository(clk)
	origin := livesim.NewOrigin(repo, s.DemoWindowSize)

	var (
		ids   []livesim.StreamID
		descs []supervisor.Descriptor
	)
	for i := 1; i <= s.DemoStreams; i++ {
		id := livesim.StreamID(fmt.Sprintf("cam%d", i))
		ids = append(ids, id)
		descs = append(descs, supervisor.Descriptor{
			Src:   fmt.Sprintf("http://127.0.0.1:%s/demo/%s/master.m3u8", s.Port, id),
			Title: fmt.Sprintf("Camera %d", i),
		})
	}

	gen := livesim.NewGenerator(repo, clk, livesim.GeneratorConfig{
		Streams:         ids,
		Renditions:      livesim.DefaultRenditions,
		SegmentDuration: s.DemoSegmentDuration,
	}, log.With("component", "livesim"))
	gen.Prime(s.DemoWindowSize)
	go gen.Run(ctx)

	return demoOrigin{
		handler:     livesim.NewHandler(origin, log, met).Routes(),
		descriptors: descs,
	}
}
