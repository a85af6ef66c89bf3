// Package player is a headless playback element. It keeps a buffered timeline
// filled by a media source, advances the playhead with the event loop clock, and
// raises the same signals a browser video element would.
package player

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"streamwall/internal/eventloop"
	"streamwall/internal/liveedge"
	"streamwall/internal/supervisor"
)

// ErrNoSource is returned by Play and Seek when nothing is loaded.
var ErrNoSource = errors.New("player: no source")

const (
	tickInterval  = 250 * time.Millisecond
	stallInterval = 3 * time.Second
	// mergeTolerance joins ranges separated by less than this many seconds.
	mergeTolerance = 0.05
	// dryEpsilon is how close to a range end the playhead may get before it counts as out of data.
	dryEpsilon = 0.04
)

// NativeSource plays a URL directly into an element. Open starts loading and
// returns a function that stops it. onFatal reports an unrecoverable failure.
type NativeSource interface {
	Open(src string, el *Element, onFatal func(error)) (close func())
}

type bufRange struct {
	start, end float64
}

// Element implements supervisor.Element. All methods must run on the loop.
type Element struct {
	loop   *eventloop.Loop
	native NativeSource
	log    *slog.Logger

	src         string
	nativeClose func()
	msAttached  bool

	paused   bool
	playing  bool
	waiting  bool
	current  float64
	ranges   []bufRange
	seekable liveedge.Range

	ticker        *eventloop.Timer
	lastTick      time.Time
	waitingSince  time.Time
	lastAppendAt  time.Time
	lastStalledAt time.Time

	subs    map[int]func(supervisor.Event)
	nextSub int
}

var _ supervisor.Element = (*Element)(nil)

// New returns an empty, paused element. A nil native source makes
// CanPlayNative report false.
func New(loop *eventloop.Loop, native NativeSource, log *slog.Logger) *Element {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Element{
		loop:   loop,
		native: native,
		log:    log,
		paused: true,
		subs:   make(map[int]func(supervisor.Event)),
	}
}

// Subscribe registers fn for every signal. Signals are posted to the loop.
func (e *Element) Subscribe(fn func(supervisor.Event)) func() {
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() { delete(e.subs, id) }
}

func (e *Element) emit(ev supervisor.Event) {
	e.loop.Post(func() {
		for _, id := range e.subIDs() {
			if fn, ok := e.subs[id]; ok {
				fn(ev)
			}
		}
	})
}

func (e *Element) subIDs() []int {
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Element) hasSource() bool {
	return e.src != "" || e.msAttached
}

// Play starts advancing the playhead.
func (e *Element) Play() error {
	if !e.hasSource() {
		return ErrNoSource
	}
	if e.paused {
		e.paused = false
		e.lastTick = e.loop.Now()
		e.ticker = e.loop.Every(tickInterval, e.tick)
	}
	e.evaluate()
	return nil
}

// Pause stops the playhead.
func (e *Element) Pause() {
	e.paused = true
	e.playing = false
	e.waiting = false
	e.ticker.Stop()
	e.ticker = nil
}

// Paused reports whether playback is paused.
func (e *Element) Paused() bool { return e.paused }

// CurrentTime returns the playhead position in media seconds.
func (e *Element) CurrentTime() float64 { return e.current }

// Seek moves the playhead.
func (e *Element) Seek(position float64) error {
	if !e.hasSource() {
		return ErrNoSource
	}
	if position < 0 {
		position = 0
	}
	e.current = position
	e.evaluate()
	return nil
}

// BufferedEnd returns the end of the last buffered range.
func (e *Element) BufferedEnd() float64 {
	if len(e.ranges) == 0 {
		return 0
	}
	return e.ranges[len(e.ranges)-1].end
}

// BufferAhead returns how much is buffered past the playhead in its own range.
func (e *Element) BufferAhead() float64 {
	if end, ok := e.rangeEndAt(e.current); ok {
		return end - e.current
	}
	return 0
}

// Seekable returns the seekable window published by the source.
func (e *Element) Seekable() liveedge.Range { return e.seekable }

// ReadyState derives the ready state from the buffer around the playhead.
func (e *Element) ReadyState() supervisor.ReadyState {
	if !e.hasSource() {
		return supervisor.HaveNothing
	}
	end, ok := e.rangeEndAt(e.current)
	if !ok {
		return supervisor.HaveMetadata
	}
	switch ahead := end - e.current; {
	case ahead < 0.1:
		return supervisor.HaveCurrentData
	case ahead < 2:
		return supervisor.HaveFutureData
	default:
		return supervisor.HaveEnoughData
	}
}

// CanPlayNative reports whether SetSource can play HLS URLs.
func (e *Element) CanPlayNative() bool { return e.native != nil }

// SetSource loads src through the native source. Without one the element raises
// an error signal.
func (e *Element) SetSource(src string) {
	e.ClearSource()
	e.src = src
	if e.native == nil {
		e.emit(supervisor.EventError)
		return
	}
	e.nativeClose = e.native.Open(src, e, func(err error) {
		e.log.Warn("native source failed", slog.String("error", err.Error()))
		e.RaiseError()
	})
}

// ClearSource unloads everything and pauses.
func (e *Element) ClearSource() {
	if e.nativeClose != nil {
		stop := e.nativeClose
		e.nativeClose = nil
		stop()
	}
	e.Pause()
	e.src = ""
	e.msAttached = false
	e.reset()
}

func (e *Element) reset() {
	e.current = 0
	e.ranges = nil
	e.seekable = liveedge.Range{}
	e.playing = false
	e.waiting = false
	e.waitingSince = time.Time{}
	e.lastAppendAt = time.Time{}
	e.lastStalledAt = time.Time{}
}

// AttachMediaSource marks the element as fed by an engine.
func (e *Element) AttachMediaSource() {
	e.msAttached = true
	e.reset()
}

// DetachMediaSource drops the engine feed and its buffer.
func (e *Element) DetachMediaSource() {
	e.msAttached = false
	e.reset()
}

// AppendSegment adds [start, start+duration) to the buffered timeline.
func (e *Element) AppendSegment(start, duration float64) {
	if duration <= 0 {
		return
	}
	first := len(e.ranges) == 0
	e.ranges = mergeRange(e.ranges, bufRange{start: start, end: start + duration})
	e.lastAppendAt = e.loop.Now()
	if first {
		e.emit(supervisor.EventCanPlay)
	}
	e.evaluate()
}

// EvictBefore drops buffered media before position.
func (e *Element) EvictBefore(position float64) {
	out := e.ranges[:0]
	for _, r := range e.ranges {
		if r.end <= position {
			continue
		}
		if r.start < position {
			r.start = position
		}
		out = append(out, r)
	}
	e.ranges = out
}

// FlushBuffer drops all buffered media, keeping the playhead.
func (e *Element) FlushBuffer() {
	e.ranges = nil
	e.playing = false
	e.evaluate()
}

// SetSeekable publishes the seekable window.
func (e *Element) SetSeekable(start, end float64) {
	e.seekable = liveedge.Range{Start: start, End: end, OK: end > start}
}

// RaiseError posts an error signal.
func (e *Element) RaiseError() {
	e.emit(supervisor.EventError)
}

func (e *Element) tick() {
	now := e.loop.Now()
	dt := now.Sub(e.lastTick).Seconds()
	e.lastTick = now
	if e.paused {
		return
	}

	if e.playing {
		if end, ok := e.rangeEndAt(e.current); ok {
			next := min(e.current+dt, end)
			if next > e.current {
				e.current = next
				e.emit(supervisor.EventTimeUpdate)
			}
		}
	}
	e.evaluate()

	if e.waiting {
		since := e.waitingSince
		if e.lastAppendAt.After(since) {
			since = e.lastAppendAt
		}
		if e.lastStalledAt.After(since) {
			since = e.lastStalledAt
		}
		if now.Sub(since) >= stallInterval {
			e.lastStalledAt = now
			e.emit(supervisor.EventStalled)
		}
	}
}

// evaluate moves between playing and waiting depending on the buffer at the playhead.
func (e *Element) evaluate() {
	if e.paused {
		return
	}
	end, ok := e.rangeEndAt(e.current)
	if ok && end-e.current > dryEpsilon {
		if !e.playing {
			e.playing = true
			e.waiting = false
			e.emit(supervisor.EventPlaying)
		}
		return
	}
	e.playing = false
	if !e.waiting {
		e.waiting = true
		e.waitingSince = e.loop.Now()
		e.emit(supervisor.EventWaiting)
	}
}

func (e *Element) rangeEndAt(pos float64) (float64, bool) {
	for _, r := range e.ranges {
		if pos >= r.start-mergeTolerance && pos < r.end {
			return r.end, true
		}
	}
	return 0, false
}

func mergeRange(ranges []bufRange, add bufRange) []bufRange {
	ranges = append(ranges, add)
	slices.SortFunc(ranges, func(a, b bufRange) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		default:
			return 0
		}
	})
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.start <= last.end+mergeTolerance {
			last.end = max(last.end, r.end)
			continue
		}
		out = append(out, r)
	}
	return out
}
