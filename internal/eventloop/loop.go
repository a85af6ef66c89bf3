// Package eventloop runs closures and timer callbacks on a single goroutine.
//
// Everything that mutates supervisor, element or engine state is executed by the
// loop, so those types need no locks. Work coming from other goroutines (network
// results, HTTP handlers) enters through Post or Do.
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrClosed is returned by Do when the loop stopped before running the job.
var ErrClosed = errors.New("event loop closed")

// Loop is a cooperative single-goroutine scheduler.
type Loop struct {
	clk clock.Clock

	mu     sync.Mutex
	queue  []func()
	timers timerHeap
	seq    uint64
	closed bool

	wake chan struct{}
	done chan struct{}
}

// Timer is a handle to a one-shot or periodic callback scheduled on a Loop.
type Timer struct {
	loop   *Loop
	when   time.Time
	period time.Duration
	seq    uint64
	fn     func()
	index  int
}

// New returns a loop reading time from clk. A nil clk uses the wall clock.
func New(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clk:  clk,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Now returns the loop's current time.
func (l *Loop) Now() time.Time {
	return l.clk.Now()
}

// Clock returns the clock the loop schedules against.
func (l *Loop) Clock() clock.Clock {
	return l.clk
}

// Post enqueues fn to run on the loop after everything already queued.
// Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules fn to run once after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return l.schedule(d, 0, fn)
}

// Every schedules fn to run every d, first after d.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		panic("eventloop: non-positive interval")
	}
	return l.schedule(d, d, fn)
}

func (l *Loop) schedule(d, period time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.seq++
	t := &Timer{
		loop:   l,
		when:   l.clk.Now().Add(d),
		period: period,
		seq:    l.seq,
		fn:     fn,
		index:  -1,
	}
	if !l.closed {
		heap.Push(&l.timers, t)
	}
	l.mu.Unlock()
	l.signal()
	return t
}

// Stop cancels the timer. It reports whether the timer was still pending.
// Stopping a nil or already stopped timer is a no-op.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.index < 0 {
		t.period = 0
		return false
	}
	heap.Remove(&l.timers, t.index)
	t.period = 0
	return true
}

// NextDeadline reports when the earliest pending timer is due.
func (l *Loop) NextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].when, true
}

// Pending returns the number of armed timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// RunPending executes queued closures and every timer due at the current clock
// reading, including work those callbacks enqueue, and returns how many callbacks ran.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		if fn := l.popQueued(); fn != nil {
			fn()
			ran++
			continue
		}
		if t := l.popDue(); t != nil {
			t.fn()
			ran++
			continue
		}
		return ran
	}
}

func (l *Loop) popQueued() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) popDue() *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return nil
	}
	now := l.clk.Now()
	t := l.timers[0]
	if t.when.After(now) {
		return nil
	}
	heap.Pop(&l.timers)
	if t.period > 0 {
		next := t.when.Add(t.period)
		if !next.After(now) {
			next = now.Add(t.period)
		}
		t.when = next
		l.seq++
		t.seq = l.seq
		heap.Push(&l.timers, t)
	}
	return t
}

// Run drives the loop in real time until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()
	for {
		l.RunPending()

		var (
			wait  <-chan time.Time
			timer *clock.Timer
		)
		if next, ok := l.NextDeadline(); ok {
			d := next.Sub(l.clk.Now())
			if d < 0 {
				d = 0
			}
			timer = l.clk.Timer(d)
			wait = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	for _, t := range l.timers {
		t.index = -1
	}
	l.timers = nil
	close(l.done)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
