package livesim

import (
	"errors"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
)

var (
	// ErrStreamEnded is returned when a segment arrives for an ended stream.
	ErrStreamEnded = errors.New("stream has ended")

	// ErrRenditionEnded is returned when a segment arrives for an ended rendition.
	ErrRenditionEnded = errors.New("rendition has ended")

	// ErrUnknownStream is returned by fault controls for streams never registered.
	ErrUnknownStream = errors.New("unknown stream")
)

// Repository holds the origin's segments. It is safe for concurrent use.
type Repository struct {
	mu      sync.RWMutex
	clk     clock.Clock
	streams map[StreamID]*streamState
	order   []StreamID
}

// NewRepository returns an empty repository stamping segments with clk.
// A nil clk uses the wall clock.
func NewRepository(clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.New()
	}
	return &Repository{clk: clk, streams: make(map[StreamID]*streamState)}
}

// AddRendition declares a rendition so it appears in the master playlist even
// before its first segment.
func (r *Repository) AddRendition(streamID StreamID, info Rendition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.renditionLocked(r.streamLocked(streamID), info.ID).info = info
}

// RegisterSegment records a segment. Streams and renditions are created on first
// use, duplicate sequence numbers are ignored.
func (r *Repository) RegisterSegment(streamID StreamID, renditionID RenditionID, seg Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream := r.streamLocked(streamID)
	if stream.ended {
		return ErrStreamEnded
	}
	rend := r.renditionLocked(stream, renditionID)
	if rend.ended {
		return ErrRenditionEnded
	}
	if _, exists := rend.segments[seg.Sequence]; exists {
		return nil
	}

	seg.ReceivedAt = r.clk.Now().UTC()
	rend.segments[seg.Sequence] = seg
	return nil
}

// Snapshot returns the rendition's segments ordered by sequence and its ended flag.
// ok is false when the stream or rendition does not exist.
func (r *Repository) Snapshot(streamID StreamID, renditionID RenditionID) (segments []Segment, ended bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.streams[streamID]
	if !exists {
		return nil, false, false
	}
	rend, exists := stream.renditions[renditionID]
	if !exists {
		return nil, false, false
	}
	if len(rend.segments) == 0 {
		return nil, rend.ended, true
	}

	segments = make([]Segment, 0, len(rend.segments))
	for _, seg := range rend.segments {
		segments = append(segments, seg)
	}
	slices.SortFunc(segments, func(a, b Segment) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
	return segments, rend.ended, true
}

// HasSegment reports whether the rendition currently holds seq.
func (r *Repository) HasSegment(streamID StreamID, renditionID RenditionID, seq int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, ok := r.streams[streamID]
	if !ok {
		return false
	}
	rend, ok := stream.renditions[renditionID]
	if !ok {
		return false
	}
	_, ok = rend.segments[seq]
	return ok
}

// Renditions lists a stream's renditions in declaration order.
func (r *Repository) Renditions(streamID StreamID) ([]Rendition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, ok := r.streams[streamID]
	if !ok {
		return nil, false
	}
	out := make([]Rendition, 0, len(stream.order))
	for _, id := range stream.order {
		out = append(out, stream.renditions[id].info)
	}
	return out, true
}

// Prune drops segments with a sequence below keepFrom.
func (r *Repository) Prune(streamID StreamID, renditionID RenditionID, keepFrom int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, ok := r.streams[streamID]
	if !ok {
		return
	}
	rend, ok := stream.renditions[renditionID]
	if !ok {
		return
	}
	for seq := range rend.segments {
		if seq < keepFrom {
			delete(rend.segments, seq)
		}
	}
}

// EndStream marks a stream and its renditions ended. Unknown streams are a no-op.
func (r *Repository) EndStream(streamID StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, ok := r.streams[streamID]
	if !ok || stream.ended {
		return nil
	}
	stream.ended = true
	for _, rend := range stream.renditions {
		rend.ended = true
	}
	return nil
}

// SetFrozen stops or resumes segment production for a stream.
func (r *Repository) SetFrozen(streamID StreamID, frozen bool) error {
	return r.update(streamID, func(s *streamState) { s.frozen = frozen })
}

// SetFailing makes every request for the stream fail, or clears that.
func (r *Repository) SetFailing(streamID StreamID, failing bool) error {
	return r.update(streamID, func(s *streamState) { s.failing = failing })
}

// Faults reports the stream's fault flags.
func (r *Repository) Faults(streamID StreamID) (frozen, failing bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.streams[streamID]; ok {
		return s.frozen, s.failing
	}
	return false, false
}

// Streams lists stream IDs in creation order.
func (r *Repository) Streams() []StreamID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// ActiveStreamCount returns the number of streams that have not ended.
func (r *Repository) ActiveStreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.streams {
		if !s.ended {
			n++
		}
	}
	return n
}

func (r *Repository) update(streamID StreamID, fn func(*streamState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return ErrUnknownStream
	}
	fn(s)
	return nil
}

// streamLocked returns or creates a stream. Caller must hold r.mu for writing.
func (r *Repository) streamLocked(streamID StreamID) *streamState {
	if s, ok := r.streams[streamID]; ok {
		return s
	}
	s := &streamState{id: streamID, renditions: make(map[RenditionID]*renditionState)}
	r.streams[streamID] = s
	r.order = append(r.order, streamID)
	return s
}

// renditionLocked returns or creates a rendition. Caller must hold r.mu for writing.
func (r *Repository) renditionLocked(s *streamState, id RenditionID) *renditionState {
	if rend, ok := s.renditions[id]; ok {
		return rend
	}
	rend := &renditionState{info: Rendition{ID: id}, segments: make(map[int64]Segment)}
	s.renditions[id] = rend
	s.order = append(s.order, id)
	return rend
}
