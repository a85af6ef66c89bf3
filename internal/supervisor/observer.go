package supervisor

import "time"

// Observer receives a supervisor's outputs. All calls happen on the event loop.
type Observer interface {
	StatusChanged(id ID, st Status)
	LoadingChanged(id ID, loading bool)
	PhaseChanged(id ID, phase Phase)
	// Recovery reports a recovery step. delay is only set for ActionRetry.
	Recovery(id ID, action Action, reason string, delay time.Duration)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) StatusChanged(ID, Status) {}
func (NopObserver) LoadingChanged(ID, bool) {}
func (NopObserver) PhaseChanged(ID, Phase) {}
func (NopObserver) Recovery(ID, Action, string, time.Duration) {}
