package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecode_json(t *testing.T) {
	data := []byte(`[
		{"src": "https://cdn.example.com/a.m3u8", "title": "Market Square", "isVertical": false},
		{"title": "no source"},
		{"src": "", "title": "empty source"},
		{"src": 42},
		"not an object",
		{"src": "https://cdn.example.com/b.m3u8", "isVertical": true, "category": "city"}
	]`)
	got, err := Decode(data, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d descriptors, want 2: %+v", len(got), got)
	}
	if got[0].Title != "Market Square" || got[1].Category != "city" || !got[1].IsVertical {
		t.Errorf("unexpected descriptors: %+v", got)
	}
}

func TestDecode_non_array(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
		yaml bool
	}{
		{"json object", `{"src": "x"}`, false},
		{"json null", `null`, false},
		{"yaml mapping", "src: x\n", true},
		{"yaml empty", "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.data), tc.yaml)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("got %+v, want empty non-nil list", got)
			}
		})
	}
}

func TestDecode_invalid_json(t *testing.T) {
	if _, err := Decode([]byte("[{"), false); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestLoad_yaml_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.yaml")
	content := "- src: https://cdn.example.com/a.m3u8\n  title: Old Town\n  isVertical: true\n- title: missing\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Old Town" || !got[0].IsVertical {
		t.Errorf("got %+v", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoader_http(t *testing.T) {
	var gotQuery, gotCache string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotCache = r.Header.Get("Cache-Control")
		w.Write([]byte(`[{"src": "https://cdn.example.com/a.m3u8"}]`))
	}))
	defer srv.Close()

	l := &Loader{
		Client:  srv.Client(),
		Version: "2026.1",
		Now:     func() time.Time { return time.UnixMilli(1700000000123) },
	}
	got, err := l.Load(context.Background(), srv.URL+"/streams.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %+v", got)
	}
	if gotQuery != "ts=1700000000123&v=2026.1" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotCache != "no-store" {
		t.Errorf("Cache-Control = %q", gotCache)
	}
}

func TestLoader_http_status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := (&Loader{Client: srv.Client()}).Load(context.Background(), srv.URL+"/streams.json"); err == nil {
		t.Error("expected error for 502")
	}
}
