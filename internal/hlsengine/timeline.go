package hlsengine

import (
	"net/url"

	"github.com/grafov/m3u8"
)

// segment is a media segment placed on the engine's timeline.
type segment struct {
	seq      uint64
	start    float64
	duration float64
	uri      string
}

func (s segment) end() float64 { return s.start + s.duration }

// timeline maps media sequence numbers to positions in media seconds. It keeps
// positions stable across playlist refreshes so the buffer stays aligned.
type timeline struct {
	targetDuration float64
	window         []segment
	ended          bool

	known   bool
	lastSeq uint64
	lastEnd float64
}

// update places a refreshed playlist on the timeline. Segments still in the
// previous window keep their start. New ones continue from their predecessor,
// and a jump in sequence numbers is filled with target durations. A sequence
// that went backwards restarts after the furthest known end.
func (t *timeline) update(pl *m3u8.MediaPlaylist, base *url.URL) {
	prev := make(map[uint64]float64, len(t.window))
	for _, s := range t.window {
		prev[s.seq] = s.start
	}

	td := float64(pl.TargetDuration)
	if td <= 0 {
		td = 1
	}
	t.targetDuration = td
	t.ended = pl.Closed

	count := int(pl.Count())
	window := make([]segment, 0, count)
	for i := 0; i < count; i++ {
		ms := pl.Segments[i]
		if ms == nil {
			continue
		}
		seq := pl.SeqNo + uint64(i)
		var start float64
		switch known, ok := prev[seq]; {
		case ok:
			start = known
		case len(window) > 0 && window[len(window)-1].seq+1 == seq:
			start = window[len(window)-1].end()
		case t.known && seq > t.lastSeq:
			start = t.lastEnd + float64(seq-t.lastSeq-1)*td
		case t.known:
			start = t.lastEnd
		}
		seg := segment{seq: seq, start: start, duration: ms.Duration, uri: resolve(base, ms.URI)}
		window = append(window, seg)

		if !t.known || seg.end() > t.lastEnd {
			t.known = true
			t.lastSeq = seq
			t.lastEnd = seg.end()
		}
	}
	t.window = window
}

func (t *timeline) empty() bool { return len(t.window) == 0 }

func (t *timeline) start() float64 {
	if t.empty() {
		return 0
	}
	return t.window[0].start
}

func (t *timeline) end() float64 {
	if t.empty() {
		return 0
	}
	return t.window[len(t.window)-1].end()
}

// liveSync is syncCount target durations behind the live edge, clamped to the
// window.
func (t *timeline) liveSync(syncCount int) float64 {
	return max(t.start(), t.end()-float64(syncCount)*t.targetDuration)
}

// segmentAt returns the segment covering pos. Positions before the window map
// to its first segment, positions past the end report false.
func (t *timeline) segmentAt(pos float64) (segment, bool) {
	if t.empty() {
		return segment{}, false
	}
	if pos < t.window[0].start {
		return t.window[0], true
	}
	for _, s := range t.window {
		if pos >= s.start && pos < s.end() {
			return s, true
		}
	}
	return segment{}, false
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
