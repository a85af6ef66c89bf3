package hlsengine

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/grafov/m3u8"
)

func mediaPlaylist(t *testing.T, firstSeq, count int, ended bool) *m3u8.MediaPlaylist {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:%d\n", firstSeq)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "#EXTINF:2.000,\n%d.ts\n", firstSeq+i)
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	pl, listType, err := decode([]byte(b.String()))
	if err != nil || listType != m3u8.MEDIA {
		t.Fatalf("decode: %v (type %v)", err, listType)
	}
	return pl.(*m3u8.MediaPlaylist)
}

func TestTimeline_update_keeps_positions(t *testing.T) {
	base, _ := url.Parse("http://origin/cam/360p/playlist.m3u8")
	var tl timeline

	tl.update(mediaPlaylist(t, 10, 3, false), base)
	if tl.start() != 0 || tl.end() != 6 || tl.targetDuration != 2 {
		t.Fatalf("window = [%v, %v) td=%v, want [0, 6) td=2", tl.start(), tl.end(), tl.targetDuration)
	}
	if tl.window[0].uri != "http://origin/cam/360p/10.ts" {
		t.Errorf("uri = %s", tl.window[0].uri)
	}

	tl.update(mediaPlaylist(t, 11, 3, false), base)
	if tl.start() != 2 || tl.end() != 8 {
		t.Errorf("after slide window = [%v, %v), want [2, 8)", tl.start(), tl.end())
	}

	// Missed refreshes: sequence 16 follows 13 with two segments unseen.
	tl.update(mediaPlaylist(t, 16, 2, false), base)
	if tl.start() != 12 {
		t.Errorf("gap-filled start = %v, want 12", tl.start())
	}

	// Encoder restart: sequence numbers go backwards.
	tl.update(mediaPlaylist(t, 0, 2, false), base)
	if tl.start() != 16 || tl.end() != 20 {
		t.Errorf("after reset window = [%v, %v), want [16, 20)", tl.start(), tl.end())
	}
}

func TestTimeline_liveSync_and_segmentAt(t *testing.T) {
	var tl timeline
	tl.update(mediaPlaylist(t, 0, 6, false), nil)

	if got := tl.liveSync(3); got != 6 {
		t.Errorf("liveSync(3) = %v, want 6", got)
	}
	if got := tl.liveSync(10); got != 0 {
		t.Errorf("liveSync clamps to window start, got %v", got)
	}

	if seg, ok := tl.segmentAt(5.5); !ok || seg.seq != 2 {
		t.Errorf("segmentAt(5.5) = %+v, %v", seg, ok)
	}
	if seg, ok := tl.segmentAt(-3); !ok || seg.seq != 0 {
		t.Errorf("segmentAt before window = %+v, %v", seg, ok)
	}
	if _, ok := tl.segmentAt(12); ok {
		t.Error("segmentAt past the live edge reported a segment")
	}
}

func TestTimeline_ended(t *testing.T) {
	var tl timeline
	tl.update(mediaPlaylist(t, 0, 2, true), nil)
	if !tl.ended {
		t.Error("ENDLIST not detected")
	}
}

func TestPickVariant(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2800000\nhigh/playlist.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/playlist.m3u8\n"
	pl, listType, err := decode([]byte(body))
	if err != nil || listType != m3u8.MASTER {
		t.Fatalf("decode: %v", err)
	}
	master := pl.(*m3u8.MasterPlaylist)

	for level, want := range map[int]string{-1: "low/playlist.m3u8", 0: "low/playlist.m3u8", 1: "high/playlist.m3u8", 9: "high/playlist.m3u8"} {
		if got, ok := pickVariant(master, level); !ok || got != want {
			t.Errorf("pickVariant(%d) = %q, want %q", level, got, want)
		}
	}
	if _, ok := pickVariant(&m3u8.MasterPlaylist{}, 0); ok {
		t.Error("empty master reported a variant")
	}
}
