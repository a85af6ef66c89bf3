package hlsengine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/grafov/m3u8"

	"streamwall/internal/eventloop"
	"streamwall/internal/platform/logger"
	"streamwall/internal/supervisor"
)

// Error details reported through OnError.
const (
	DetailsManifestLoad    = "manifestLoadError"
	DetailsManifestParsing = "manifestParsingError"
	DetailsLevelLoad       = "levelLoadError"
	DetailsLevelParsing    = "levelParsingError"
	DetailsFragLoad        = "fragLoadError"
	DetailsFragParsing     = "fragParsingError"
	DetailsMediaAttach     = "mediaAttachError"
)

const (
	tsSyncByte = 0x47
	// stallSlack is how far past the playhead buffered data must reach before a
	// stalled element counts as stuck rather than starved.
	stallSlack = 0.1
)

// MediaSink is an element the engine can feed. player.Element implements it.
type MediaSink interface {
	supervisor.Element

	AttachMediaSource()
	DetachMediaSource()
	AppendSegment(start, duration float64)
	EvictBefore(position float64)
	FlushBuffer()
	SetSeekable(start, end float64)
	BufferAhead() float64
}

// Engine loads one HLS source into one MediaSink. All methods run on the
// factory's event loop.
type Engine struct {
	f   *Factory
	cfg supervisor.EngineConfig
	log *slog.Logger

	src       string
	sink      MediaSink
	elCancel  func()
	destroyed bool

	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	fatal    bool
	fetching bool

	mediaURL     string
	tl           timeline
	parsed       bool
	firstLoad    bool
	pendingStart bool
	startPos     float64
	pollTimer    *eventloop.Timer

	errSubs    map[int]func(supervisor.EngineError)
	parsedSubs map[int]func()
	nextSub    int
}

var _ supervisor.Engine = (*Engine)(nil)

func newEngine(f *Factory, cfg supervisor.EngineConfig) *Engine {
	return &Engine{
		f:          f,
		cfg:        cfg,
		log:        f.log,
		firstLoad:  true,
		errSubs:    make(map[int]func(supervisor.EngineError)),
		parsedSubs: make(map[int]func()),
	}
}

// LoadSource sets the URL to play. Loading starts once media is attached.
func (e *Engine) LoadSource(src string) {
	if e.destroyed {
		return
	}
	e.src = src
	e.mediaURL = ""
	e.log = e.f.log.With(slog.String("src", logger.RedactURL(src)))
	e.autoStart()
}

// AttachMedia binds the engine to el, which must implement MediaSink.
func (e *Engine) AttachMedia(el supervisor.Element) {
	if e.destroyed {
		return
	}
	sink, ok := el.(MediaSink)
	if !ok {
		e.f.loop.Post(func() {
			if !e.destroyed {
				e.raise(supervisor.OtherError, DetailsMediaAttach, true)
			}
		})
		return
	}
	e.detach()
	e.sink = sink
	sink.AttachMediaSource()
	e.elCancel = sink.Subscribe(e.handleElement)
	e.autoStart()
}

func (e *Engine) autoStart() {
	if e.src != "" && e.sink != nil && !e.running {
		_ = e.StartLoad(-1)
	}
}

// StartLoad restarts loading. A negative position starts at the live sync
// position when the playhead is outside the live window or too far behind.
func (e *Engine) StartLoad(position float64) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.src == "" || e.sink == nil {
		return ErrNotAttached
	}
	e.stopLoading()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true
	e.fatal = false
	e.pendingStart = true
	e.startPos = position

	if e.mediaURL == "" {
		if cached, ok := e.f.variants.GetIfPresent(e.src); ok {
			e.mediaURL = cached
		}
	}
	if e.mediaURL == "" {
		e.loadManifest()
	} else {
		e.loadMediaPlaylist()
	}
	return nil
}

// RecoverMediaError drops the buffer and reloads from the current position.
func (e *Engine) RecoverMediaError() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.sink == nil {
		return ErrNotAttached
	}
	e.sink.FlushBuffer()
	return e.StartLoad(e.sink.CurrentTime())
}

// LiveSyncPosition returns the position liveSyncDurationCount target durations
// behind the live edge. It is unavailable before the first playlist and once
// the stream has ended.
func (e *Engine) LiveSyncPosition() (float64, bool) {
	if e.tl.empty() || e.tl.ended {
		return 0, false
	}
	return e.tl.liveSync(e.cfg.LiveSyncDurationCount), true
}

// OnError subscribes fn to engine faults.
func (e *Engine) OnError(fn func(supervisor.EngineError)) func() {
	id := e.nextSub
	e.nextSub++
	e.errSubs[id] = fn
	return func() { delete(e.errSubs, id) }
}

// OnManifestParsed subscribes fn to the first successful playlist load.
func (e *Engine) OnManifestParsed(fn func()) func() {
	id := e.nextSub
	e.nextSub++
	e.parsedSubs[id] = fn
	return func() { delete(e.parsedSubs, id) }
}

// Destroy stops loading, drops every subscription and releases the element.
func (e *Engine) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true
	e.stopLoading()
	clear(e.errSubs)
	clear(e.parsedSubs)
	e.detach()
}

func (e *Engine) detach() {
	if e.elCancel != nil {
		e.elCancel()
		e.elCancel = nil
	}
	if e.sink != nil {
		e.sink.DetachMediaSource()
		e.sink = nil
	}
}

func (e *Engine) stopLoading() {
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.pollTimer.Stop()
	e.pollTimer = nil
	e.running = false
	e.fetching = false
}

// current reports whether a result from generation gen is still wanted.
func (e *Engine) current(gen uint64) bool {
	return !e.destroyed && gen == e.gen && e.running
}

func (e *Engine) loadManifest() {
	gen := e.gen
	req := request{
		url:        e.src,
		kind:       "playlist",
		timeout:    e.cfg.ManifestLoadingTimeout,
		maxRetry:   e.cfg.ManifestLoadingMaxRetry,
		retryDelay: e.cfg.FragLoadingRetryDelay,
		limited:    true,
	}
	e.f.submit(e.ctx, req, func(body []byte, err error) {
		if !e.current(gen) {
			return
		}
		if err != nil {
			e.log.Warn("manifest load failed", slog.String("error", err.Error()))
			e.raise(supervisor.NetworkError, DetailsManifestLoad, true)
			return
		}
		pl, listType, err := decode(body)
		if err != nil {
			e.log.Warn("manifest parse failed", slog.String("error", err.Error()))
			e.raise(supervisor.NetworkError, DetailsManifestParsing, true)
			return
		}

		switch listType {
		case m3u8.MEDIA:
			e.mediaURL = e.src
			e.applyMediaPlaylist(pl.(*m3u8.MediaPlaylist))
		case m3u8.MASTER:
			variant, ok := pickVariant(pl.(*m3u8.MasterPlaylist), e.cfg.StartLevel)
			if !ok {
				e.log.Warn("manifest has no variants")
				e.raise(supervisor.NetworkError, DetailsManifestParsing, true)
				return
			}
			e.mediaURL = resolve(parseURL(e.src), variant)
			e.f.variants.Set(e.src, e.mediaURL)
			e.loadMediaPlaylist()
		}
	})
}

func (e *Engine) loadMediaPlaylist() {
	gen := e.gen
	req := request{
		url:        e.mediaURL,
		kind:       "playlist",
		timeout:    e.cfg.LevelLoadingTimeout,
		maxRetry:   e.cfg.LevelLoadingMaxRetry,
		retryDelay: e.cfg.FragLoadingRetryDelay,
		limited:    true,
	}
	e.f.submit(e.ctx, req, func(body []byte, err error) {
		if !e.current(gen) {
			return
		}
		if err != nil {
			e.log.Warn("level load failed", slog.String("error", err.Error()))
			e.raise(supervisor.NetworkError, DetailsLevelLoad, true)
			return
		}
		pl, listType, err := decode(body)
		if err != nil || listType != m3u8.MEDIA {
			if err == nil {
				err = errors.New("not a media playlist")
			}
			e.log.Warn("level parse failed", slog.String("error", err.Error()))
			e.raise(supervisor.NetworkError, DetailsLevelParsing, true)
			return
		}
		e.applyMediaPlaylist(pl.(*m3u8.MediaPlaylist))
	})
}

func (e *Engine) applyMediaPlaylist(pl *m3u8.MediaPlaylist) {
	e.tl.update(pl, parseURL(e.mediaURL))
	if !e.tl.empty() {
		e.sink.SetSeekable(e.tl.start(), e.tl.end())
	}

	if e.pendingStart && !e.tl.empty() {
		e.pendingStart = false
		e.seekToStart()
	} else if !e.tl.ended && !e.tl.empty() {
		e.enforceMaxLatency()
	}

	if !e.parsed && !e.tl.empty() {
		e.parsed = true
		e.firstLoad = false
		for _, fn := range snapshot(e.parsedSubs) {
			fn()
		}
		if !e.current(e.gen) {
			return
		}
	}

	if !e.tl.ended {
		e.pollTimer.Stop()
		e.pollTimer = e.f.loop.AfterFunc(seconds(e.tl.targetDuration), e.loadMediaPlaylist)
	}
	e.pump()
}

func (e *Engine) seekToStart() {
	cur := e.sink.CurrentTime()
	if e.startPos >= 0 {
		if e.startPos != cur {
			_ = e.sink.Seek(e.startPos)
		}
		return
	}
	if e.tl.ended {
		if e.firstLoad {
			_ = e.sink.Seek(e.tl.start())
		}
		return
	}
	td := e.tl.targetDuration
	outside := cur < e.tl.start() || cur > e.tl.end()
	latent := e.tl.end()-cur > float64(e.cfg.LiveMaxLatencyDurationCount)*td
	if e.firstLoad || outside || latent {
		target := e.tl.liveSync(e.cfg.LiveSyncDurationCount)
		e.log.Debug("seeking to live sync", slog.Float64("from", cur), slog.Float64("to", target))
		_ = e.sink.Seek(target)
	}
}

func (e *Engine) enforceMaxLatency() {
	if e.sink.Paused() {
		return
	}
	cur := e.sink.CurrentTime()
	if e.tl.end()-cur > float64(e.cfg.LiveMaxLatencyDurationCount)*e.tl.targetDuration {
		target := e.tl.liveSync(e.cfg.LiveSyncDurationCount)
		e.log.Debug("latency above maximum, seeking to live sync", slog.Float64("from", cur), slog.Float64("to", target))
		_ = e.sink.Seek(target)
	}
}

// pump keeps one segment download in flight while the buffer ahead of the
// playhead is below the configured maximum.
func (e *Engine) pump() {
	if !e.running || e.fatal || e.fetching || e.sink == nil || e.tl.empty() {
		return
	}
	cur := e.sink.CurrentTime()
	ahead := e.sink.BufferAhead()
	if ahead >= e.cfg.MaxBufferLength.Seconds() {
		return
	}
	seg, ok := e.tl.segmentAt(cur + ahead + 0.001)
	if !ok {
		return
	}

	gen := e.gen
	e.fetching = true
	req := request{
		url:        seg.uri,
		kind:       "segment",
		timeout:    e.cfg.FragLoadingTimeout,
		maxRetry:   e.cfg.FragLoadingMaxRetry,
		retryDelay: e.cfg.FragLoadingRetryDelay,
	}
	e.f.submit(e.ctx, req, func(body []byte, err error) {
		if !e.current(gen) {
			return
		}
		e.fetching = false
		if err != nil {
			e.log.Warn("segment load failed", slog.Uint64("sequence", seg.seq), slog.String("error", err.Error()))
			e.raise(supervisor.NetworkError, DetailsFragLoad, true)
			return
		}
		if len(body) == 0 || body[0] != tsSyncByte {
			e.log.Warn("segment payload rejected", slog.Uint64("sequence", seg.seq), slog.Int("bytes", len(body)))
			e.raise(supervisor.MediaError, DetailsFragParsing, true)
			return
		}
		if e.f.metrics != nil {
			e.f.metrics.AddSegment(len(body))
		}
		e.sink.AppendSegment(seg.start, seg.duration)
		if back := e.cfg.BackBufferLength.Seconds(); back > 0 {
			e.sink.EvictBefore(e.sink.CurrentTime() - back)
		}
		e.pump()
	})
}

func (e *Engine) handleElement(ev supervisor.Event) {
	if e.sink == nil {
		return
	}
	switch ev {
	case supervisor.EventStalled:
		if e.sink.BufferedEnd() > e.sink.CurrentTime()+stallSlack && e.sink.BufferAhead() == 0 {
			e.raise(supervisor.MediaError, supervisor.DetailsBufferStalled, false)
		}
		e.pump()
	case supervisor.EventWaiting, supervisor.EventTimeUpdate:
		e.pump()
	}
}

func (e *Engine) raise(t supervisor.ErrorType, details string, fatal bool) {
	if fatal {
		e.fatal = true
		e.stopLoading()
	}
	ee := supervisor.EngineError{Type: t, Details: details, Fatal: fatal}
	for _, fn := range snapshot(e.errSubs) {
		fn(ee)
	}
}

// snapshot returns subscribers in subscription order so callbacks may
// unsubscribe while iterating.
func snapshot[F any](subs map[int]F) []F {
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

func decode(body []byte) (m3u8.Playlist, m3u8.ListType, error) {
	return m3u8.DecodeFrom(bytes.NewReader(body), true)
}

// pickVariant orders variants by bandwidth and returns the URI at level,
// clamped to the available range.
func pickVariant(master *m3u8.MasterPlaylist, level int) (string, bool) {
	variants := make([]*m3u8.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v != nil && v.URI != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return "", false
	}
	slices.SortStableFunc(variants, func(a, b *m3u8.Variant) int {
		switch {
		case a.Bandwidth < b.Bandwidth:
			return -1
		case a.Bandwidth > b.Bandwidth:
			return 1
		default:
			return 0
		}
	})
	level = min(max(level, 0), len(variants)-1)
	return variants[level].URI, true
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
