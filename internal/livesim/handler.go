package livesim

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"streamwall/internal/platform/metrics"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// Handler exposes the origin over HTTP using go-chi.
type Handler struct {
	origin  *Origin
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler serving origin. Metrics may be nil.
func NewHandler(origin *Origin, log *slog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{origin: origin, log: log, metrics: m}
}

// Routes returns the origin's router, meant to be mounted under a prefix.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/{stream_id}", func(r chi.Router) {
		r.Get("/master.m3u8", h.GetMaster)
		r.Post("/end", h.EndStream)
		r.Post("/freeze", h.SetFrozen)
		r.Post("/fail", h.SetFailing)
		r.Route("/{rendition}", func(r chi.Router) {
			r.Get("/playlist.m3u8", h.GetPlaylist)
			r.Post("/segments", h.RegisterSegment)
			r.Get("/{segment}", h.GetSegment)
		})
	})
	return r
}

// GetMaster handles GET /{stream_id}/master.m3u8.
func (h *Handler) GetMaster(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	body, ok, err := h.origin.MasterPlaylist(streamID)
	if !h.check(w, ok, err) {
		return
	}
	h.served("master")
	writePlaylist(w, body)
}

// GetPlaylist handles GET /{stream_id}/{rendition}/playlist.m3u8.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	renditionID := RenditionID(chi.URLParam(r, "rendition"))
	body, ok, err := h.origin.MediaPlaylist(streamID, renditionID)
	if !h.check(w, ok, err) {
		return
	}
	h.served("playlist")
	writePlaylist(w, body)
}

// GetSegment handles GET /{stream_id}/{rendition}/{sequence}.ts.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	renditionID := RenditionID(chi.URLParam(r, "rendition"))
	name, found := strings.CutSuffix(chi.URLParam(r, "segment"), ".ts")
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	seq, err := strconv.ParseInt(name, 10, 64)
	if err != nil || seq < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	payload, ok, err := h.origin.SegmentPayload(streamID, renditionID, seq)
	if !h.check(w, ok, err) {
		return
	}
	h.served("segment")
	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// RegisterSegment handles POST /{stream_id}/{rendition}/segments.
// Body: { "sequence": 42, "duration": 2.0, "path": "42.ts" }.
func (h *Handler) RegisterSegment(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	renditionID := RenditionID(chi.URLParam(r, "rendition"))

	var seg Segment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		h.log.Debug("invalid segment body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if seg.Sequence < 0 || seg.Duration <= 0 || seg.Path == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.origin.Repository().RegisterSegment(streamID, renditionID, seg); err != nil {
		if errors.Is(err, ErrStreamEnded) || errors.Is(err, ErrRenditionEnded) {
			h.log.Info("segment rejected stream or rendition ended",
				slog.String("stream_id", string(streamID)),
				slog.String("rendition", string(renditionID)),
				slog.Int64("sequence", seg.Sequence),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusConflict)
			return
		}
		h.log.Error("register segment failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Debug("segment registered",
		slog.String("stream_id", string(streamID)),
		slog.String("rendition", string(renditionID)),
		slog.Int64("sequence", seg.Sequence))
	w.WriteHeader(http.StatusCreated)
}

// EndStream handles POST /{stream_id}/end.
func (h *Handler) EndStream(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	if err := h.origin.Repository().EndStream(streamID); err != nil {
		h.log.Error("end stream failed", slog.String("stream_id", string(streamID)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.log.Info("stream ended", slog.String("stream_id", string(streamID)))
	w.WriteHeader(http.StatusOK)
}

// SetFrozen handles POST /{stream_id}/freeze?on=true|false.
func (h *Handler) SetFrozen(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "freeze", h.origin.Repository().SetFrozen)
}

// SetFailing handles POST /{stream_id}/fail?on=true|false.
func (h *Handler) SetFailing(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "fail", h.origin.Repository().SetFailing)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, fault string, set func(StreamID, bool) error) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	on := true
	if v := r.URL.Query().Get("on"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		on = parsed
	}
	if err := set(streamID, on); err != nil {
		if errors.Is(err, ErrUnknownStream) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.log.Info("fault updated",
		slog.String("stream_id", string(streamID)),
		slog.String("fault", fault),
		slog.Bool("on", on))
	w.WriteHeader(http.StatusNoContent)
}

// check writes the error response for a lookup and reports whether the caller
// should continue.
func (h *Handler) check(w http.ResponseWriter, ok bool, err error) bool {
	switch {
	case errors.Is(err, ErrFailing):
		w.WriteHeader(http.StatusServiceUnavailable)
		return false
	case err != nil:
		h.log.Error("origin lookup failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return false
	case !ok:
		w.WriteHeader(http.StatusNotFound)
		return false
	}
	return true
}

func (h *Handler) served(kind string) {
	if h.metrics != nil {
		h.metrics.IncOriginServed(kind)
	}
}

func writePlaylist(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
