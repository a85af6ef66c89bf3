package supervisor

import (
	"fmt"
	"time"
)

// ID identifies a supervisor inside the dashboard registry.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("s%d", uint64(id))
}

// Descriptor describes one live stream on the wall.
// This also matches the JSON/YAML shape of the stream list.
type Descriptor struct {
	Src        string `json:"src" yaml:"src"`
	Title      string `json:"title" yaml:"title"`
	IsVertical bool   `json:"isVertical" yaml:"isVertical"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
	Poster     string `json:"poster,omitempty" yaml:"poster,omitempty"`
}

// DisplayTitle returns the title shown on the card.
func (d Descriptor) DisplayTitle() string {
	if d.Title == "" {
		return "Live Stream"
	}
	return d.Title
}

// Phase is the supervisor's lifecycle state.
type Phase int

const (
	// PhaseIdle means no stream is attached and nothing is scheduled.
	PhaseIdle Phase = iota

	// PhaseAttaching means a stream was attached and has not played yet.
	PhaseAttaching

	// PhasePlaying means the element reported playback.
	PhasePlaying

	// PhaseBuffering means the element is waiting for data.
	PhaseBuffering

	// PhaseRetrying means the stream was torn down and a retry is scheduled.
	PhaseRetrying

	// PhaseFailed means no playback path exists on this platform.
	PhaseFailed
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAttaching:
		return "attaching"
	case PhasePlaying:
		return "playing"
	case PhaseBuffering:
		return "buffering"
	case PhaseRetrying:
		return "retrying"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// StatusKind classifies a status message.
type StatusKind int

const (
	KindInfo StatusKind = iota
	KindWarning
	KindError
)

func (k StatusKind) String() string {
	switch k {
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText renders the kind by name in JSON.
func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Status is the message shown over a stream card. A zero Status is hidden.
type Status struct {
	Message string     `json:"message"`
	Kind    StatusKind `json:"kind"`
	Visible bool       `json:"visible"`
}

// Action names a recovery step taken by a supervisor.
type Action string

const (
	ActionNudge        Action = "live_edge_nudge"
	ActionSoftResync   Action = "soft_resync"
	ActionMediaRecover Action = "media_recover"
	ActionRetry        Action = "full_retry"
	ActionFail         Action = "fail"
)

// Health is a point-in-time view of a supervisor used by the outage monitor
// and the API.
type Health struct {
	Attached       bool
	RetryPending   bool
	AttachPending  bool
	Paused         bool
	LastProgressAt time.Time
	Phase          Phase
	RetryCount     int
}
