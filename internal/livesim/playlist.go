package livesim

import (
	"fmt"
	"math"
	"strings"
)

// BuildMediaPlaylist renders a live media playlist for segments ordered by
// sequence. ended appends #EXT-X-ENDLIST. An empty window yields media
// sequence 0 and target duration 1.
func BuildMediaPlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", segments[0].Sequence)

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// BuildMasterPlaylist renders a master playlist whose variant URIs are
// "<rendition>/playlist.m3u8" relative to the master.
func BuildMasterPlaylist(renditions []Rendition) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range renditions {
		bandwidth := r.Bandwidth
		if bandwidth <= 0 {
			bandwidth = 1
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", bandwidth)
		if r.Resolution != "" {
			fmt.Fprintf(&b, ",RESOLUTION=%s", r.Resolution)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", r.ID)
	}
	return b.String()
}

// targetDuration is the ceiling of the longest segment, at least 1.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		longest = max(longest, seg.Duration)
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}
