package supervisor

import (
	"fmt"
	"time"

	"streamwall/internal/liveedge"
)

// ReadyState mirrors the media element ready states.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// Event is a playback signal raised by an Element.
type Event int

const (
	EventPlaying Event = iota
	EventCanPlay
	EventTimeUpdate
	EventWaiting
	EventStalled
	EventError
)

func (e Event) String() string {
	switch e {
	case EventPlaying:
		return "playing"
	case EventCanPlay:
		return "canplay"
	case EventTimeUpdate:
		return "timeupdate"
	case EventWaiting:
		return "waiting"
	case EventStalled:
		return "stalled"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Element is the playback surface a supervisor drives. Implementations deliver
// subscribed events asynchronously on the event loop, never from inside a method
// call made by the supervisor.
type Element interface {
	Play() error
	Pause()
	Paused() bool

	CurrentTime() float64
	Seek(position float64) error

	// BufferedEnd is the end of the last buffered range, 0 when nothing is buffered.
	BufferedEnd() float64
	Seekable() liveedge.Range
	ReadyState() ReadyState

	// CanPlayNative reports whether SetSource can play an HLS URL directly.
	CanPlayNative() bool
	SetSource(src string)
	ClearSource()

	Subscribe(fn func(Event)) (cancel func())
}

// ErrorType classifies an engine fault.
type ErrorType int

const (
	OtherError ErrorType = iota
	NetworkError
	MediaError
)

func (t ErrorType) String() string {
	switch t {
	case NetworkError:
		return "networkError"
	case MediaError:
		return "mediaError"
	default:
		return "otherError"
	}
}

// DetailsBufferStalled marks the non-fatal "playhead stuck with data around it" fault.
const DetailsBufferStalled = "bufferStalledError"

// EngineError is a fault reported by an adaptive engine.
type EngineError struct {
	Type    ErrorType
	Details string
	Fatal   bool
}

func (e EngineError) Error() string {
	return fmt.Sprintf("%s/%s (fatal=%v)", e.Type, e.Details, e.Fatal)
}

// Engine is an adaptive-streaming engine owned by one supervisor for one attach cycle.
type Engine interface {
	LoadSource(src string)
	AttachMedia(el Element)

	// StartLoad (re)starts loading; a negative position means the live edge.
	StartLoad(position float64) error
	RecoverMediaError() error
	LiveSyncPosition() (float64, bool)

	OnError(fn func(EngineError)) (cancel func())
	OnManifestParsed(fn func()) (cancel func())

	Destroy()
}

// EngineConfig is the live low-latency profile handed to new engines.
type EngineConfig struct {
	StartLevel                  int
	LiveSyncDurationCount       int
	LiveMaxLatencyDurationCount int
	MaxBufferLength             time.Duration
	BackBufferLength            time.Duration

	ManifestLoadingTimeout  time.Duration
	LevelLoadingTimeout     time.Duration
	FragLoadingTimeout      time.Duration
	ManifestLoadingMaxRetry int
	LevelLoadingMaxRetry    int
	FragLoadingMaxRetry     int
	FragLoadingRetryDelay   time.Duration
}

// DefaultEngineConfig returns the wall's live profile.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StartLevel:                  0,
		LiveSyncDurationCount:       5,
		LiveMaxLatencyDurationCount: 12,
		MaxBufferLength:             45 * time.Second,
		BackBufferLength:            90 * time.Second,
		ManifestLoadingTimeout:      30 * time.Second,
		LevelLoadingTimeout:         30 * time.Second,
		FragLoadingTimeout:          30 * time.Second,
		ManifestLoadingMaxRetry:     4,
		LevelLoadingMaxRetry:        4,
		FragLoadingMaxRetry:         4,
		FragLoadingRetryDelay:       1500 * time.Millisecond,
	}
}

// EngineFactory builds adaptive engines. Supported reports whether the platform
// can run one at all.
type EngineFactory interface {
	Supported() bool
	New(cfg EngineConfig) (Engine, error)
}
