// Package dashboard runs the stream wall: one supervisor per stream, the grid
// layout, the outage monitor and the reload paths.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"streamwall/internal/eventloop"
	"streamwall/internal/layout"
	"streamwall/internal/outage"
	"streamwall/internal/platform/metrics"
	"streamwall/internal/supervisor"
)

// ErrUnknownStream is returned for IDs that are not on the wall.
var ErrUnknownStream = errors.New("dashboard: unknown stream")

// Messages shown instead of the grid.
const (
	MessageNoStreams  = "No streams available"
	MessageLoadFailed = "Unable to load streams"
)

// Reload reasons.
const (
	ReasonStartup   = "startup"
	ReasonOutage    = "outage"
	ReasonScheduled = "scheduled"
	ReasonAPI       = "api"
	ReasonLoadRetry = "load_retry"
)

// Config holds the wall timings and the per-stream configuration.
type Config struct {
	AttachStagger  time.Duration
	BulkStagger    time.Duration
	ResizeDebounce time.Duration
	SoftReload     time.Duration
	// LoadRetry is how long to wait before loading the stream list again after
	// it failed or came back empty.
	LoadRetry time.Duration
	Viewport  Viewport

	Supervisor supervisor.Config
	Outage     outage.Config
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		AttachStagger:  220 * time.Millisecond,
		BulkStagger:    140 * time.Millisecond,
		ResizeDebounce: 180 * time.Millisecond,
		SoftReload:     6 * time.Hour,
		LoadRetry:      2 * time.Minute,
		Viewport:       Viewport{Width: 1920, Height: 1080},
		Supervisor:     supervisor.DefaultConfig(),
		Outage:         outage.DefaultConfig(),
	}
}

// Viewport is the size of the wall in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Options wires the board to its collaborators.
type Options struct {
	// Sources loads the stream list. It may block and runs off the loop.
	Sources func(ctx context.Context) ([]supervisor.Descriptor, error)
	// NewElement returns a fresh playback element for one stream.
	NewElement func() supervisor.Element
	Engines    supervisor.EngineFactory
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Jitter     func(max time.Duration) time.Duration
	// Go runs background work. Nil starts a goroutine.
	Go func(fn func())
}

// View is the state of one stream card as served to the front-end.
type View struct {
	ID         string                `json:"id"`
	Descriptor supervisor.Descriptor `json:"descriptor"`
	Phase      supervisor.Phase      `json:"phase"`
	Status     supervisor.Status     `json:"status"`
	Loading    bool                  `json:"loading"`
	RetryCount int                   `json:"retryCount"`
	Span       int                   `json:"span"`
}

// wallState is the published, immutable part of the board read by HTTP handlers.
type wallState struct {
	order   []supervisor.ID
	plan    layout.Plan
	message string
	online  bool
}

// Board owns every supervisor. All unexported state lives on the loop; readers
// on other goroutines use Views, Layout and Message.
type Board struct {
	loop *eventloop.Loop
	cfg  Config
	opts Options
	log  *slog.Logger

	entries  []*supervisor.Supervisor
	byID     map[supervisor.ID]*supervisor.Supervisor
	nextID   supervisor.ID
	monitor  *outage.Monitor
	viewport Viewport
	plan     layout.Plan
	message  string
	online   bool

	ctx            context.Context
	loading        bool
	resizeTimer    *eventloop.Timer
	reloadTimer    *eventloop.Timer
	loadRetryTimer *eventloop.Timer

	views *xsync.MapOf[supervisor.ID, View]
	state atomic.Pointer[wallState]
}

var _ supervisor.Observer = (*Board)(nil)

// New returns an empty board. Call Start on the loop to load the streams.
func New(loop *eventloop.Loop, cfg Config, opts Options) *Board {
	d := DefaultConfig()
	if cfg.AttachStagger <= 0 {
		cfg.AttachStagger = d.AttachStagger
	}
	if cfg.BulkStagger <= 0 {
		cfg.BulkStagger = d.BulkStagger
	}
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = d.ResizeDebounce
	}
	if cfg.SoftReload <= 0 {
		cfg.SoftReload = d.SoftReload
	}
	if cfg.LoadRetry <= 0 {
		cfg.LoadRetry = d.LoadRetry
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = d.Viewport
	}
	if cfg.Outage.StallWindow <= 0 {
		cfg.Outage.StallWindow = cfg.Supervisor.StallWindow
	}
	if opts.Sources == nil {
		opts.Sources = func(context.Context) ([]supervisor.Descriptor, error) { return nil, nil }
	}
	if opts.Go == nil {
		opts.Go = func(fn func()) { go fn() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	b := &Board{
		loop:     loop,
		cfg:      cfg,
		opts:     opts,
		log:      log,
		byID:     make(map[supervisor.ID]*supervisor.Supervisor),
		viewport: cfg.Viewport,
		online:   true,
		ctx:      context.Background(),
		views:    xsync.NewMapOf[supervisor.ID, View](),
	}
	b.monitor = outage.New(loop, cfg.Outage, outage.Options{
		Targets:  b.targets,
		Online:   func() bool { return b.online },
		OnReload: b.Reload,
		Jitter:   opts.Jitter,
		Logger:   log.With(slog.String("component", "outage")),
	})
	b.publish()
	return b
}

// Start loads the stream list and renders the wall. ctx bounds every later
// stream list load.
func (b *Board) Start(ctx context.Context) {
	b.ctx = ctx
	b.Reload(ReasonStartup)
}

// Stop tears down every stream and cancels all board timers.
func (b *Board) Stop() {
	b.teardownAll()
	b.resizeTimer.Stop()
	b.resizeTimer = nil
	b.reloadTimer.Stop()
	b.reloadTimer = nil
	b.loadRetryTimer.Stop()
	b.loadRetryTimer = nil
}

// Reload fetches the stream list again and rebuilds the wall from scratch.
// Concurrent requests collapse into the load already in flight.
func (b *Board) Reload(reason string) {
	if b.loading {
		return
	}
	b.loading = true
	b.log.Info("reloading wall", slog.String("reason", reason))
	if b.opts.Metrics != nil {
		b.opts.Metrics.IncReload(reason)
	}

	ctx := b.ctx
	b.opts.Go(func() {
		descs, err := b.opts.Sources(ctx)
		b.loop.Post(func() {
			b.loading = false
			b.loaded(descs, err)
		})
	})
}

func (b *Board) loaded(descs []supervisor.Descriptor, err error) {
	b.loadRetryTimer.Stop()
	b.loadRetryTimer = nil

	if err != nil {
		b.log.Error("stream list load failed", slog.String("error", err.Error()))
		b.teardownAll()
		b.message = MessageLoadFailed
		b.publish()
	} else {
		b.Render(descs)
	}
	if err != nil || len(descs) == 0 {
		b.loadRetryTimer = b.loop.AfterFunc(b.cfg.LoadRetry, func() {
			b.loadRetryTimer = nil
			b.Reload(ReasonLoadRetry)
		})
		return
	}
	b.scheduleSoftReload()
}

// Render replaces the wall with one supervisor per descriptor and attaches them
// with a stagger.
func (b *Board) Render(descs []supervisor.Descriptor) {
	b.teardownAll()

	if len(descs) == 0 {
		b.message = MessageNoStreams
		b.publish()
		return
	}
	b.message = ""

	for _, d := range descs {
		b.nextID++
		id := b.nextID
		sup := supervisor.New(id, d, b.loop, b.opts.NewElement(), supervisor.Options{
			Config:   b.cfg.Supervisor,
			Engines:  b.opts.Engines,
			Observer: b,
			Logger:   b.log,
			Jitter:   b.opts.Jitter,
		})
		b.entries = append(b.entries, sup)
		b.byID[id] = sup
		b.views.Store(id, View{ID: id.String(), Descriptor: d})
	}

	b.applyLayout()
	for i, sup := range b.entries {
		sup.QueueAttach(time.Duration(i) * b.cfg.AttachStagger)
	}
	b.monitor.Start()
	b.log.Info("wall rendered", slog.Int("streams", len(b.entries)))
}

func (b *Board) teardownAll() {
	b.monitor.Stop()
	b.monitor.Reset()

	entries := b.entries
	b.entries = nil
	clear(b.byID)
	for _, sup := range entries {
		sup.Destroy()
		b.views.Delete(sup.ID())
	}
	b.plan = layout.Plan{}
	b.publish()
}

func (b *Board) scheduleSoftReload() {
	b.reloadTimer.Stop()
	b.reloadTimer = b.loop.AfterFunc(b.cfg.SoftReload, func() {
		b.reloadTimer = nil
		b.Reload(ReasonScheduled)
	})
}

// SetViewport records a new wall size and re-lays the grid once resizing
// settles.
func (b *Board) SetViewport(v Viewport) {
	if v.Width <= 0 || v.Height <= 0 {
		return
	}
	b.viewport = v
	b.resizeTimer.Stop()
	b.resizeTimer = b.loop.AfterFunc(b.cfg.ResizeDebounce, func() {
		b.resizeTimer = nil
		b.applyLayout()
	})
}

func (b *Board) applyLayout() {
	if len(b.entries) == 0 {
		b.plan = layout.Plan{}
		b.publish()
		return
	}
	b.plan = layout.Solve(len(b.entries), b.viewport.Width, b.viewport.Height)
	for i, sup := range b.entries {
		span := b.plan.Spans[i]
		b.views.Compute(sup.ID(), func(v View, loaded bool) (View, bool) {
			v.Span = span
			return v, !loaded
		})
	}
	b.publish()
}

// SetOnline handles a connectivity change. Coming online retries every stream
// with a fresh backoff; going offline shows the waiting message on each card.
func (b *Board) SetOnline(online bool) {
	if online == b.online {
		return
	}
	b.online = online
	b.publish()
	if online {
		b.log.Info("network online, retrying all streams")
		b.RetryAll(true)
		return
	}
	b.log.Warn("network offline")
	for _, sup := range b.entries {
		sup.MarkOffline()
	}
}

// RetryAll re-attaches every stream with a stagger.
func (b *Board) RetryAll(resetBackoff bool) {
	for i, sup := range b.entries {
		sup.RetryNow(resetBackoff, time.Duration(i)*b.cfg.BulkStagger)
	}
}

// Retry re-attaches one stream immediately with a fresh backoff.
func (b *Board) Retry(id supervisor.ID) error {
	sup, ok := b.byID[id]
	if !ok {
		return ErrUnknownStream
	}
	sup.RetryNow(true, 0)
	return nil
}

// UpdateMetrics refreshes the stream and outage gauges. It must be called off
// the loop.
func (b *Board) UpdateMetrics(ctx context.Context) {
	m := b.opts.Metrics
	if m == nil {
		return
	}
	views := b.Views()
	phases := make(map[string]int)
	playing := 0
	for _, v := range views {
		phases[v.Phase.String()]++
		if v.Phase == supervisor.PhasePlaying {
			playing++
		}
	}
	m.SetStreams(len(views), playing)
	m.SetPhases(phases)

	var outageFor time.Duration
	err := b.loop.Do(ctx, func() {
		if since := b.monitor.OutageSince(); !since.IsZero() {
			outageFor = b.loop.Now().Sub(since)
		}
	})
	if err == nil {
		m.SetOutage(outageFor)
	}
}

func (b *Board) targets() []outage.Target {
	out := make([]outage.Target, 0, len(b.entries))
	for _, sup := range b.entries {
		out = append(out, sup)
	}
	return out
}

func (b *Board) publish() {
	order := make([]supervisor.ID, 0, len(b.entries))
	for _, sup := range b.entries {
		order = append(order, sup.ID())
	}
	b.state.Store(&wallState{order: order, plan: b.plan, message: b.message, online: b.online})
}

// Views returns every card in wall order. Safe from any goroutine.
func (b *Board) Views() []View {
	st := b.state.Load()
	out := make([]View, 0, len(st.order))
	for _, id := range st.order {
		if v, ok := b.views.Load(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// Layout returns the current grid plan. Safe from any goroutine.
func (b *Board) Layout() layout.Plan { return b.state.Load().plan }

// Message returns the text shown instead of the grid, empty while streams are
// on the wall. Safe from any goroutine.
func (b *Board) Message() string { return b.state.Load().message }

// Online returns the last connectivity state. Safe from any goroutine.
func (b *Board) Online() bool { return b.state.Load().online }

// StatusChanged implements supervisor.Observer.
func (b *Board) StatusChanged(id supervisor.ID, st supervisor.Status) {
	b.updateView(id, func(v *View) { v.Status = st })
}

// LoadingChanged implements supervisor.Observer.
func (b *Board) LoadingChanged(id supervisor.ID, loading bool) {
	b.updateView(id, func(v *View) { v.Loading = loading })
}

// PhaseChanged implements supervisor.Observer.
func (b *Board) PhaseChanged(id supervisor.ID, phase supervisor.Phase) {
	b.updateView(id, func(v *View) { v.Phase = phase })
}

// Recovery implements supervisor.Observer.
func (b *Board) Recovery(id supervisor.ID, action supervisor.Action, reason string, delay time.Duration) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.IncRecovery(string(action))
	}
	b.updateView(id, func(*View) {})
}

func (b *Board) updateView(id supervisor.ID, fn func(*View)) {
	sup, ok := b.byID[id]
	if !ok {
		return
	}
	retries := sup.Health().RetryCount
	b.views.Compute(id, func(v View, loaded bool) (View, bool) {
		fn(&v)
		v.RetryCount = retries
		return v, !loaded
	})
}
