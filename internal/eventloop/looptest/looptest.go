// Package looptest drives an eventloop.Loop against a mock clock so timer-heavy
// code can be tested step by step.
package looptest

import (
	"time"

	"github.com/benbjohnson/clock"

	"streamwall/internal/eventloop"
)

// Epoch is the mock clock's starting time.
var Epoch = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

// New returns a loop bound to a mock clock set to Epoch.
func New() (*eventloop.Loop, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(Epoch)
	return eventloop.New(mock), mock
}

// Advance moves the mock clock forward by d, running every timer that becomes
// due on the way at its own deadline.
func Advance(l *eventloop.Loop, mock *clock.Mock, d time.Duration) {
	end := mock.Now().Add(d)
	l.RunPending()
	for {
		next, ok := l.NextDeadline()
		if !ok || next.After(end) {
			break
		}
		if next.After(mock.Now()) {
			mock.Set(next)
		}
		l.RunPending()
	}
	mock.Set(end)
	l.RunPending()
}

// Flush runs queued work without moving the clock.
func Flush(l *eventloop.Loop) {
	l.RunPending()
}
