package eventloop_test

import (
	"context"
	"testing"
	"time"

	"streamwall/internal/eventloop"
	"streamwall/internal/eventloop/looptest"
)

func TestLoop_AfterFunc_runs_at_deadline(t *testing.T) {
	l, mock := looptest.New()
	fired := 0
	l.AfterFunc(2*time.Second, func() { fired++ })

	looptest.Advance(l, mock, 1999*time.Millisecond)
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	looptest.Advance(l, mock, time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected 1 firing, got %d", fired)
	}
	looptest.Advance(l, mock, time.Minute)
	if fired != 1 {
		t.Errorf("one-shot timer fired again: %d", fired)
	}
}

func TestLoop_Stop_prevents_callback(t *testing.T) {
	l, mock := looptest.New()
	fired := false
	tm := l.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Error("Stop should report a pending timer")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	looptest.Advance(l, mock, 5*time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	var nilTimer *eventloop.Timer
	if nilTimer.Stop() {
		t.Error("nil timer Stop should be false")
	}
}

func TestLoop_Every_repeats_until_stopped(t *testing.T) {
	l, mock := looptest.New()
	ticks := 0
	var tm *eventloop.Timer
	tm = l.Every(time.Second, func() {
		ticks++
		if ticks == 3 {
			tm.Stop()
		}
	})
	looptest.Advance(l, mock, 10*time.Second)
	if ticks != 3 {
		t.Errorf("expected 3 ticks, got %d", ticks)
	}
	if l.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", l.Pending())
	}
}

func TestLoop_order_is_deadline_then_schedule_order(t *testing.T) {
	l, mock := looptest.New()
	var got []string
	l.AfterFunc(time.Second, func() { got = append(got, "b") })
	l.AfterFunc(500*time.Millisecond, func() { got = append(got, "a") })
	l.AfterFunc(time.Second, func() { got = append(got, "c") })
	l.Post(func() { got = append(got, "posted") })

	looptest.Advance(l, mock, time.Second)
	want := []string{"posted", "a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLoop_callback_sees_its_deadline(t *testing.T) {
	l, mock := looptest.New()
	start := mock.Now()
	var seen time.Time
	l.AfterFunc(3*time.Second, func() { seen = l.Now() })
	looptest.Advance(l, mock, 10*time.Second)
	if got := seen.Sub(start); got != 3*time.Second {
		t.Errorf("callback ran at +%v, want +3s", got)
	}
}

func TestLoop_Run_and_Do(t *testing.T) {
	l := eventloop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	fired := make(chan struct{})
	l.Post(func() {
		l.AfterFunc(10*time.Millisecond, func() { close(fired) })
	})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire under Run")
	}

	value := 0
	if err := l.Do(context.Background(), func() { value = 42 }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if value != 42 {
		t.Errorf("Do did not run the job")
	}

	cancel()
	<-done
	if err := l.Do(context.Background(), func() {}); err != eventloop.ErrClosed {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
}
