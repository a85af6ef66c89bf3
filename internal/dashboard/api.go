package dashboard

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"streamwall/internal/eventloop"
	"streamwall/internal/platform/compression"
	"streamwall/internal/prefs"
	"streamwall/internal/supervisor"
)

// Handler exposes the wall API using go-chi.
type Handler struct {
	board *Board
	loop  *eventloop.Loop
	prefs prefs.Store
	log   *slog.Logger
}

// NewHandler returns a Handler for board. store may be nil, which disables the
// preference routes.
func NewHandler(board *Board, store prefs.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{board: board, loop: board.loop, prefs: store, log: log}
}

// Routes returns the /api router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(compression.Gzip)
	r.Get("/streams", h.ListStreams)
	r.Post("/streams/retry", h.RetryAll)
	r.Post("/streams/{id}/retry", h.RetryStream)
	r.Get("/layout", h.GetLayout)
	r.Put("/viewport", h.SetViewport)
	r.Post("/reload", h.Reload)
	if h.prefs != nil {
		r.Get("/prefs", h.ListPrefs)
		r.Get("/prefs/{key}", h.GetPref)
		r.Put("/prefs/{key}", h.PutPref)
	}
	return r
}

type streamsResponse struct {
	Streams []View `json:"streams"`
	Message string `json:"message,omitempty"`
	Online  bool   `json:"online"`
}

// ListStreams handles GET /api/streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, streamsResponse{
		Streams: h.board.Views(),
		Message: h.board.Message(),
		Online:  h.board.Online(),
	})
}

// RetryAll handles POST /api/streams/retry?reset=true.
func (h *Handler) RetryAll(w http.ResponseWriter, r *http.Request) {
	reset := false
	if v := r.URL.Query().Get("reset"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reset = parsed
	}
	if err := h.loop.Do(r.Context(), func() { h.board.RetryAll(reset) }); err != nil {
		h.unavailable(w, err)
		return
	}
	h.log.Info("bulk retry requested", slog.Bool("reset", reset))
	w.WriteHeader(http.StatusAccepted)
}

// RetryStream handles POST /api/streams/{id}/retry.
func (h *Handler) RetryStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var retryErr error
	if err := h.loop.Do(r.Context(), func() { retryErr = h.board.Retry(id) }); err != nil {
		h.unavailable(w, err)
		return
	}
	if errors.Is(retryErr, ErrUnknownStream) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.log.Info("stream retry requested", slog.String("stream", id.String()))
	w.WriteHeader(http.StatusAccepted)
}

// GetLayout handles GET /api/layout.
func (h *Handler) GetLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Layout())
}

// SetViewport handles PUT /api/viewport. Body: { "width": 1920, "height": 1080 }.
func (h *Handler) SetViewport(w http.ResponseWriter, r *http.Request) {
	var v Viewport
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		h.log.Debug("invalid viewport body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if v.Width <= 0 || v.Height <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.loop.Post(func() { h.board.SetViewport(v) })
	w.WriteHeader(http.StatusAccepted)
}

// Reload handles POST /api/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	h.loop.Post(func() { h.board.Reload(ReasonAPI) })
	w.WriteHeader(http.StatusAccepted)
}

// ListPrefs handles GET /api/prefs.
func (h *Handler) ListPrefs(w http.ResponseWriter, r *http.Request) {
	all, err := h.prefs.All(r.Context())
	if err != nil {
		h.log.Error("list prefs failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type prefBody struct {
	Value string `json:"value"`
}

// GetPref handles GET /api/prefs/{key}.
func (h *Handler) GetPref(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !prefs.ValidKey(key) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	value, ok, err := h.prefs.Get(r.Context(), key)
	if err != nil {
		h.log.Error("get pref failed", slog.String("key", key), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, prefBody{Value: value})
}

// PutPref handles PUT /api/prefs/{key}. Body: { "value": "..." }.
func (h *Handler) PutPref(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body prefBody
	dec := json.NewDecoder(io.LimitReader(r.Body, 2*prefs.MaxValueSize))
	if err := dec.Decode(&body); err != nil {
		h.log.Debug("invalid pref body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.prefs.Set(r.Context(), key, body.Value); err != nil {
		switch {
		case errors.Is(err, prefs.ErrInvalidKey):
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, prefs.ErrValueTooLarge):
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		default:
			h.log.Error("set pref failed", slog.String("key", key), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unavailable(w http.ResponseWriter, err error) {
	h.log.Warn("event loop unavailable", slog.String("error", err.Error()))
	w.WriteHeader(http.StatusServiceUnavailable)
}

func parseID(raw string) (supervisor.ID, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, "s"), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return supervisor.ID(n), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
