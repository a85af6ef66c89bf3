package livesim

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestRouter(t *testing.T) (http.Handler, *Repository) {
	t.Helper()
	repo := NewRepository(nil)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandler(NewOrigin(repo, 6), log, nil).Routes(), repo
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postSegment(t *testing.T, r http.Handler, path string, seq int) int {
	t.Helper()
	b, _ := json.Marshal(map[string]any{"sequence": seq, "duration": 2.0, "path": "seg.ts"})
	return do(r, http.MethodPost, path, b).Code
}

func TestHandler_RegisterSegment(t *testing.T) {
	r, _ := newTestRouter(t)
	if code := postSegment(t, r, "/s1/720p/segments", 42); code != http.StatusCreated {
		t.Errorf("expected 201, got %d", code)
	}
	if code := do(r, http.MethodPost, "/s1/720p/segments", []byte("not json")).Code; code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", code)
	}
	b, _ := json.Marshal(map[string]any{"sequence": 1, "duration": 0, "path": "a.ts"})
	if code := do(r, http.MethodPost, "/s1/720p/segments", b).Code; code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero duration, got %d", code)
	}
}

func TestHandler_RegisterSegment_conflict_after_end(t *testing.T) {
	r, _ := newTestRouter(t)
	if code := postSegment(t, r, "/s1/720p/segments", 1); code != http.StatusCreated {
		t.Fatalf("setup: expected 201, got %d", code)
	}
	if code := do(r, http.MethodPost, "/s1/end", nil).Code; code != http.StatusOK {
		t.Fatalf("end stream: expected 200, got %d", code)
	}
	if code := postSegment(t, r, "/s1/720p/segments", 2); code != http.StatusConflict {
		t.Errorf("expected 409 after stream ended, got %d", code)
	}

	rec := do(r, http.MethodGet, "/s1/720p/playlist.m3u8", nil)
	if !strings.Contains(rec.Body.String(), "#EXT-X-ENDLIST") {
		t.Errorf("ended playlist lacks ENDLIST: %s", rec.Body.String())
	}
}

func TestHandler_GetPlaylist(t *testing.T) {
	r, _ := newTestRouter(t)
	for i := 38; i <= 40; i++ {
		if code := postSegment(t, r, "/s1/720p/segments", i); code != http.StatusCreated {
			t.Fatalf("register %d: expected 201, got %d", i, code)
		}
	}

	rec := do(r, http.MethodGet, "/s1/720p/playlist.m3u8", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != playlistContentType {
		t.Errorf("expected playlist content type, got %s", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "#EXT-X-MEDIA-SEQUENCE:38") {
		t.Errorf("unexpected playlist body: %s", rec.Body.String())
	}

	if code := do(r, http.MethodGet, "/missing/720p/playlist.m3u8", nil).Code; code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetMaster_and_segment(t *testing.T) {
	r, repo := newTestRouter(t)
	gen := NewGenerator(repo, nil, GeneratorConfig{Streams: []StreamID{"cam"}}, nil)
	gen.Prime(3)

	rec := do(r, http.MethodGet, "/cam/master.m3u8", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "720p/playlist.m3u8") {
		t.Fatalf("master: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(r, http.MethodGet, "/cam/720p/2.ts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("segment: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != segmentContentType || rec.Body.Bytes()[0] != tsSyncByte {
		t.Errorf("unexpected segment response")
	}

	if code := do(r, http.MethodGet, "/cam/720p/99.ts", nil).Code; code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown segment, got %d", code)
	}
	if code := do(r, http.MethodGet, "/cam/720p/abc.ts", nil).Code; code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad sequence, got %d", code)
	}
}

func TestHandler_fault_controls(t *testing.T) {
	r, repo := newTestRouter(t)
	if code := postSegment(t, r, "/s1/720p/segments", 1); code != http.StatusCreated {
		t.Fatalf("setup: %d", code)
	}

	if code := do(r, http.MethodPost, "/s1/fail", nil).Code; code != http.StatusNoContent {
		t.Fatalf("fail: expected 204, got %d", code)
	}
	if code := do(r, http.MethodGet, "/s1/720p/playlist.m3u8", nil).Code; code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while failing, got %d", code)
	}
	if code := do(r, http.MethodPost, "/s1/fail?on=false", nil).Code; code != http.StatusNoContent {
		t.Fatalf("unfail: expected 204, got %d", code)
	}
	if code := do(r, http.MethodGet, "/s1/720p/playlist.m3u8", nil).Code; code != http.StatusOK {
		t.Errorf("expected 200 after clearing the fault, got %d", code)
	}

	if code := do(r, http.MethodPost, "/s1/freeze?on=yes-please", nil).Code; code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad toggle, got %d", code)
	}
	if code := do(r, http.MethodPost, "/s1/freeze", nil).Code; code != http.StatusNoContent {
		t.Errorf("freeze: expected 204, got %d", code)
	}
	if frozen, _ := repo.Faults("s1"); !frozen {
		t.Error("stream not frozen")
	}
	if code := do(r, http.MethodPost, "/ghost/freeze", nil).Code; code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stream, got %d", code)
	}
}

func TestGenerator_Step(t *testing.T) {
	repo := NewRepository(nil)
	gen := NewGenerator(repo, nil, GeneratorConfig{
		Streams:         []StreamID{"a", "b"},
		Renditions:      []Rendition{{ID: "low", Bandwidth: 1}},
		SegmentDuration: time.Second,
		Keep:            3,
	}, nil)

	gen.Prime(5)
	segs, _, _ := repo.Snapshot("a", "low")
	if len(segs) != 3 || segs[0].Sequence != 2 || segs[2].Path != "4.ts" {
		t.Errorf("segments = %+v, want 2..4 after pruning", segs)
	}

	_ = repo.SetFrozen("b", true)
	gen.Step()
	if repo.HasSegment("b", "low", 5) {
		t.Error("frozen stream received a segment")
	}
	if !repo.HasSegment("a", "low", 5) {
		t.Error("live stream missed a segment")
	}
}

func TestGenerator_Run(t *testing.T) {
	mock := clock.NewMock()
	repo := NewRepository(mock)
	gen := NewGenerator(repo, mock, GeneratorConfig{
		Streams:         []StreamID{"a"},
		Renditions:      []Rendition{{ID: "low", Bandwidth: 1}},
		SegmentDuration: time.Second,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !repo.HasSegment("a", "low", 0) {
		if time.Now().After(deadline) {
			t.Fatal("generator did not produce a segment")
		}
		mock.Add(time.Second)
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
