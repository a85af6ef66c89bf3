package livesim

import "time"

// StreamID identifies a simulated channel.
type StreamID string

// RenditionID identifies one quality ladder rung of a channel (e.g. "720p").
type RenditionID string

// Rendition describes a variant advertised in the master playlist.
type Rendition struct {
	ID         RenditionID
	Bandwidth  int
	Resolution string
}

// DefaultRenditions is the ladder used by demo mode, lowest bandwidth first.
var DefaultRenditions = []Rendition{
	{ID: "360p", Bandwidth: 800_000, Resolution: "640x360"},
	{ID: "720p", Bandwidth: 2_800_000, Resolution: "1280x720"},
}

// Segment is one media segment of a rendition.
// This also matches the JSON body accepted by the register endpoint.
type Segment struct {
	Sequence int64   `json:"sequence"`
	Duration float64 `json:"duration"`
	Path     string  `json:"path"`

	ReceivedAt time.Time `json:"-"`
}

type renditionState struct {
	info     Rendition
	segments map[int64]Segment
	ended    bool
}

type streamState struct {
	id         StreamID
	renditions map[RenditionID]*renditionState
	order      []RenditionID
	ended      bool
	frozen     bool
	failing    bool
}
