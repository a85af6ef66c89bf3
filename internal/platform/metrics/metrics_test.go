package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_Handler_exposes_wall_metrics(t *testing.T) {
	m := New()
	m.IncRecovery("full_retry")
	m.IncRecovery("full_retry")
	m.IncReload("outage")
	m.AddSegment(1024)
	m.IncFetchError("segment")
	m.IncOriginServed("playlist")
	m.SetOutage(90 * time.Second)

	called := false
	body := scrape(t, m, func() {
		called = true
		m.SetStreams(4, 3)
		m.SetPhases(map[string]int{"playing": 3, "retrying": 1})
	})
	if !called {
		t.Error("updateGauges was not called before the scrape")
	}

	for _, want := range []string{
		`streamwall_recoveries_total{action="full_retry"} 2`,
		`streamwall_reloads_total{reason="outage"} 1`,
		`streamwall_segments_fetched_total 1`,
		`streamwall_segment_bytes_total 1024`,
		`streamwall_fetch_errors_total{kind="segment"} 1`,
		`streamwall_origin_served_total{kind="playlist"} 1`,
		`streamwall_outage_seconds 90`,
		`streamwall_streams 4`,
		`streamwall_streams_playing 3`,
		`streamwall_stream_phase{phase="retrying"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_SetPhases_drops_stale_labels(t *testing.T) {
	m := New()
	m.SetPhases(map[string]int{"failed": 1})
	m.SetPhases(map[string]int{"playing": 2})
	body := scrape(t, m, nil)
	if strings.Contains(body, `phase="failed"`) {
		t.Error("stale phase label survived SetPhases")
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/ok", "/missing", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m, nil)
	if !strings.Contains(body, "streamwall_requests_total 3") {
		t.Error("requests_total != 3")
	}
	if !strings.Contains(body, "streamwall_errors_total 1") {
		t.Error("errors_total != 1")
	}
}

func TestRequestMiddleware_nil_metrics(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	RequestMiddleware(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
