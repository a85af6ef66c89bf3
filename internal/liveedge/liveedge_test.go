package liveedge

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

func seekable(start, end float64) Range {
	return Range{Start: start, End: end, OK: true}
}

func TestTarget_prefers_live_sync_position(t *testing.T) {
	in := Input{
		Now:         t0,
		CurrentTime: 10,
		BufferedEnd: 20,
		Seekable:    seekable(0, 40),
		LiveSync:    30,
		HasLiveSync: true,
	}
	got, ok := Target(in, DefaultParams())
	if !ok || math.Abs(got-29.85) > 1e-9 {
		t.Errorf("got (%v, %v), want (29.85, true)", got, ok)
	}
}

func TestTarget_buffered_end_when_no_live_sync(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 10, BufferedEnd: 12, Seekable: seekable(0, 40)}
	got, ok := Target(in, DefaultParams())
	if !ok || math.Abs(got-11.88) > 1e-9 {
		t.Errorf("got (%v, %v), want (11.88, true)", got, ok)
	}
}

func TestTarget_seekable_end_when_buffer_thin(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 10, BufferedEnd: 10.3, Seekable: seekable(0, 40)}
	got, ok := Target(in, DefaultParams())
	if !ok || math.Abs(got-39.8) > 1e-9 {
		t.Errorf("got (%v, %v), want (39.8, true)", got, ok)
	}
}

func TestTarget_clamped_into_seekable_range(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 2, Seekable: seekable(5, 40), LiveSync: 100, HasLiveSync: true}
	got, ok := Target(in, DefaultParams())
	if !ok || math.Abs(got-39.95) > 1e-9 {
		t.Errorf("upper clamp: got (%v, %v)", got, ok)
	}

	in = Input{Now: t0, CurrentTime: 20, Seekable: seekable(5, 40), LiveSync: 1, HasLiveSync: true}
	got, ok = Target(in, DefaultParams())
	if !ok || math.Abs(got-5.05) > 1e-9 {
		t.Errorf("lower clamp: got (%v, %v)", got, ok)
	}
}

func TestTarget_refused_without_seekable_range(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 10, BufferedEnd: 20, LiveSync: 30, HasLiveSync: true}
	if _, ok := Target(in, DefaultParams()); ok {
		t.Error("expected no-op without a seekable range")
	}
}

func TestTarget_refused_for_tiny_jump(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 29.8, Seekable: seekable(0, 40), LiveSync: 30, HasLiveSync: true}
	if _, ok := Target(in, DefaultParams()); ok {
		t.Error("expected no-op for a jump under the minimum")
	}
}

func TestTarget_refused_without_any_source(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 10, BufferedEnd: 10.1, Seekable: seekable(10, 10.2)}
	if _, ok := Target(in, DefaultParams()); ok {
		t.Error("expected no-op when no target source applies")
	}
}

func TestTarget_ignores_non_finite_live_sync(t *testing.T) {
	in := Input{Now: t0, CurrentTime: 10, BufferedEnd: 12, Seekable: seekable(0, 40), LiveSync: math.NaN(), HasLiveSync: true}
	got, ok := Target(in, DefaultParams())
	if !ok || math.Abs(got-11.88) > 1e-9 {
		t.Errorf("got (%v, %v), want buffered-end target", got, ok)
	}
}

func TestTarget_cooldown(t *testing.T) {
	p := DefaultParams()
	p.Cooldown = 12 * time.Second
	base := Input{CurrentTime: 10, Seekable: seekable(0, 40), LiveSync: 30, HasLiveSync: true}

	first := base
	first.Now = t0
	if _, ok := Target(first, p); !ok {
		t.Fatal("first nudge should be accepted")
	}

	second := base
	second.LastNudgeAt = t0
	second.Now = t0.Add(5 * time.Second)
	if _, ok := Target(second, p); ok {
		t.Error("nudge inside the cooldown must be refused")
	}

	third := base
	third.LastNudgeAt = t0
	third.Now = t0.Add(13 * time.Second)
	if _, ok := Target(third, p); !ok {
		t.Error("nudge after the cooldown should be accepted")
	}
}

func TestRange_Span(t *testing.T) {
	if (Range{}).Span() != 0 {
		t.Error("unavailable range should have zero span")
	}
	if seekable(2, 5).Span() != 3 {
		t.Error("span mismatch")
	}
}
