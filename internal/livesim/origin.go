package livesim

import (
	"encoding/binary"
	"errors"
)

// DefaultWindowSize is the number of segments advertised in a media playlist.
const DefaultWindowSize = 6

const (
	tsPacketSize   = 188
	tsSyncByte     = 0x47
	packetsPerSegm = 32
)

// ErrFailing is returned while a stream has its failure fault switched on.
var ErrFailing = errors.New("stream is failing")

// Origin serves playlists and segment payloads from a Repository.
type Origin struct {
	repo       *Repository
	windowSize int
}

// NewOrigin returns an origin advertising at most windowSize segments per
// playlist. windowSize <= 0 uses DefaultWindowSize.
func NewOrigin(repo *Repository, windowSize int) *Origin {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Origin{repo: repo, windowSize: windowSize}
}

// Repository returns the backing repository.
func (o *Origin) Repository() *Repository { return o.repo }

// WindowSize returns the advertised playlist length.
func (o *Origin) WindowSize() int { return o.windowSize }

// MasterPlaylist renders the stream's master playlist.
func (o *Origin) MasterPlaylist(streamID StreamID) (string, bool, error) {
	if _, failing := o.repo.Faults(streamID); failing {
		return "", true, ErrFailing
	}
	renditions, ok := o.repo.Renditions(streamID)
	if !ok || len(renditions) == 0 {
		return "", false, nil
	}
	return BuildMasterPlaylist(renditions), true, nil
}

// MediaPlaylist renders the rendition's sliding window.
func (o *Origin) MediaPlaylist(streamID StreamID, renditionID RenditionID) (string, bool, error) {
	if _, failing := o.repo.Faults(streamID); failing {
		return "", true, ErrFailing
	}
	segments, ended, ok := o.repo.Snapshot(streamID, renditionID)
	if !ok {
		return "", false, nil
	}
	return BuildMediaPlaylist(visibleWindow(segments, o.windowSize), ended), true, nil
}

// SegmentPayload returns a synthetic MPEG-TS payload for a segment still held by
// the origin.
func (o *Origin) SegmentPayload(streamID StreamID, renditionID RenditionID, seq int64) ([]byte, bool, error) {
	if _, failing := o.repo.Faults(streamID); failing {
		return nil, true, ErrFailing
	}
	if !o.repo.HasSegment(streamID, renditionID, seq) {
		return nil, false, nil
	}
	return tsPayload(seq), true, nil
}

// visibleWindow keeps the last windowSize segments, then cuts at the first gap
// so a player never sees a missing sequence number. segs must be sorted.
func visibleWindow(segs []Segment, windowSize int) []Segment {
	if len(segs) == 0 {
		return nil
	}

	start := max(len(segs)-windowSize, 0)
	windowed := segs[start:]

	visible := make([]Segment, 0, len(windowed))
	for i, seg := range windowed {
		if i > 0 && seg.Sequence != windowed[i-1].Sequence+1 {
			break
		}
		visible = append(visible, seg)
	}
	return visible
}

// tsPayload builds null-PID transport stream packets carrying seq.
func tsPayload(seq int64) []byte {
	buf := make([]byte, tsPacketSize*packetsPerSegm)
	for p := 0; p < packetsPerSegm; p++ {
		pkt := buf[p*tsPacketSize : (p+1)*tsPacketSize]
		pkt[0] = tsSyncByte
		pkt[1] = 0x1f
		pkt[2] = 0xff
		pkt[3] = 0x10 | byte(p&0x0f)
		binary.BigEndian.PutUint64(pkt[4:12], uint64(seq))
	}
	return buf
}
