package livesim

import (
	"strings"
	"testing"
)

func TestBuildMediaPlaylist_empty(t *testing.T) {
	out := BuildMediaPlaylist(nil, false)
	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Error("expected #EXTM3U header")
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:1") {
		t.Error("expected target duration 1 for empty")
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:0") {
		t.Error("expected media sequence 0")
	}
	if strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Error("should not contain ENDLIST when not ended")
	}
	if !strings.Contains(BuildMediaPlaylist(nil, true), "#EXT-X-ENDLIST") {
		t.Error("expected #EXT-X-ENDLIST when ended")
	}
}

func TestBuildMediaPlaylist_with_segments(t *testing.T) {
	segs := []Segment{
		{Sequence: 38, Duration: 2.0, Path: "38.ts"},
		{Sequence: 39, Duration: 2.5, Path: "39.ts"},
	}
	out := BuildMediaPlaylist(segs, true)

	if !strings.Contains(out, "#EXT-X-TARGETDURATION:3") {
		t.Errorf("expected TARGETDURATION 3 (ceil 2.5): %s", out)
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:38") {
		t.Errorf("expected MEDIA-SEQUENCE 38: %s", out)
	}
	if !strings.Contains(out, "#EXTINF:2.500,\n39.ts\n") {
		t.Errorf("expected EXTINF line followed by URI: %s", out)
	}
	if !strings.HasSuffix(out, "#EXT-X-ENDLIST\n") {
		t.Error("expected ENDLIST as the last line")
	}
}

func TestBuildMasterPlaylist(t *testing.T) {
	out := BuildMasterPlaylist([]Rendition{
		{ID: "360p", Bandwidth: 800_000, Resolution: "640x360"},
		{ID: "audio"},
	})
	if !strings.Contains(out, "#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\n360p/playlist.m3u8\n") {
		t.Errorf("missing 360p variant: %s", out)
	}
	if !strings.Contains(out, "#EXT-X-STREAM-INF:BANDWIDTH=1\naudio/playlist.m3u8\n") {
		t.Errorf("missing audio variant with minimal bandwidth: %s", out)
	}
}
