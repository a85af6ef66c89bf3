// Package liveedge decides whether, and where, to jump a stalled live stream
// back towards its live edge.
package liveedge

import (
	"math"
	"time"
)

// Range is a time range in media seconds. OK is false when the element has no
// such range.
type Range struct {
	Start float64
	End   float64
	OK    bool
}

// Span returns the length of the range, or 0 when it is not available.
func (r Range) Span() float64 {
	if !r.OK {
		return 0
	}
	return r.End - r.Start
}

// Params are the estimator tunables, all in media seconds except Cooldown.
type Params struct {
	Cooldown time.Duration

	LiveSyncOffset  float64
	BufferedOffset  float64
	SeekableOffset  float64
	MinBufferAhead  float64
	MinSeekableSpan float64
	EdgeMargin      float64
	MinJump         float64
}

// DefaultParams returns the tuning used by the stream wall.
func DefaultParams() Params {
	return Params{
		Cooldown:        12 * time.Second,
		LiveSyncOffset:  0.15,
		BufferedOffset:  0.12,
		SeekableOffset:  0.2,
		MinBufferAhead:  0.6,
		MinSeekableSpan: 0.25,
		EdgeMargin:      0.05,
		MinJump:         0.2,
	}
}

// Input is a snapshot of the playback state taken when a nudge is considered.
type Input struct {
	Now         time.Time
	LastNudgeAt time.Time

	CurrentTime float64
	BufferedEnd float64
	Seekable    Range

	// LiveSync is the engine-reported live-sync position, when it has one.
	LiveSync    float64
	HasLiveSync bool
}

// Target returns the position to seek to, or false when no nudge should happen.
//
// Candidate sources, highest priority first: the engine's live-sync position, the
// end of the buffer when enough is buffered ahead, the end of the seekable range
// when it is wide enough. The result is clamped inside the seekable range.
func Target(in Input, p Params) (float64, bool) {
	if !in.LastNudgeAt.IsZero() && in.Now.Sub(in.LastNudgeAt) < p.Cooldown {
		return 0, false
	}

	var (
		target float64
		found  bool
	)
	switch {
	case in.HasLiveSync && isFinite(in.LiveSync):
		target, found = in.LiveSync-p.LiveSyncOffset, true
	case in.BufferedEnd-in.CurrentTime >= p.MinBufferAhead:
		target, found = in.BufferedEnd-p.BufferedOffset, true
	case in.Seekable.Span() > p.MinSeekableSpan:
		target, found = in.Seekable.End-p.SeekableOffset, true
	}
	if !found || !isFinite(target) {
		return 0, false
	}
	if !in.Seekable.OK || !isFinite(in.Seekable.Start) || !isFinite(in.Seekable.End) {
		return 0, false
	}

	target = math.Min(target, in.Seekable.End-p.EdgeMargin)
	target = math.Max(target, in.Seekable.Start+p.EdgeMargin)
	if target < 0 {
		target = 0
	}
	if math.Abs(target-in.CurrentTime) < p.MinJump {
		return 0, false
	}
	return target, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
