package sessions

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"arc4de/cmd/internal/httpx"
	"arc4de/cmd/internal/plugins"
	"arc4de/cmd/internal/tmux"
)

// PluginLookup resolves plugin names. *plugins.Registry satisfies it.
type PluginLookup interface {
	Get(name string) (plugins.Plugin, error)
}

// Recorder counts session lifecycle events. *metrics.Metrics satisfies it.
type Recorder interface {
	SessionCreated()
	SessionKilled(cause string)
}

// Descriptor is the JSON view of a Session.
type Descriptor struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	TmuxName  string `json:"tmux_name"`
	State     State  `json:"state"`
	CreatedAt string `json:"created_at"`
	Plugin    string `json:"plugin"`
}

func Describe(s Session) Descriptor {
	d := Descriptor{
		SessionID: s.ID,
		Name:      s.Name,
		TmuxName:  s.TmuxName,
		State:     s.State,
		Plugin:    s.Plugin,
	}
	if !s.CreatedAt.IsZero() {
		d.CreatedAt = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	return d
}

type createRequest struct {
	Name   string `json:"name"`
	Plugin string `json:"plugin"`
}

type keysRequest struct {
	Keys string `json:"keys"`
}

type outputResponse struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

// Handler serves /api/sessions.
type Handler struct {
	reg     *Registry
	plugins PluginLookup
	rec     Recorder
	log     *slog.Logger
}

func NewHandler(reg *Registry, pl PluginLookup, rec Recorder, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{reg: reg, plugins: pl, rec: rec, log: log}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Delete("/{id}", h.kill)
	r.Get("/{id}/output", h.output)
	r.Post("/{id}/keys", h.keys)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.reg.List(r.Context())
	if err != nil {
		h.fail(w, "", err)
		return
	}
	out := make([]Descriptor, 0, len(all))
	for _, s := range all {
		out = append(out, Describe(s))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(w, r, httpx.DefaultMaxBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	pluginName := strings.TrimSpace(req.Plugin)
	if pluginName == "" {
		pluginName = plugins.DefaultPlugin
	}
	p, err := h.plugins.Get(pluginName)
	if err != nil {
		if errors.Is(err, plugins.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "Plugin not found: "+pluginName)
			return
		}
		h.fail(w, "", err)
		return
	}

	s, err := h.reg.Create(r.Context(), req.Name, p.Name)
	if err != nil {
		h.fail(w, "", err)
		return
	}
	if h.rec != nil {
		h.rec.SessionCreated()
	}

	if p.Command != "" {
		if err := h.reg.SendKeys(r.Context(), s.ID, p.Command); err != nil {
			h.log.Warn("sessions.plugin.start.fail", "session_id", s.ID, "plugin", p.Name, "err", err)
		}
	}

	httpx.WriteJSON(w, http.StatusCreated, Describe(s))
}

func (h *Handler) kill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.reg.Kill(r.Context(), id); err != nil {
		h.fail(w, id, err)
		return
	}
	if h.rec != nil {
		h.rec.SessionKilled("request")
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) output(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lines := 50
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10000 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "lines must be between 1 and 10000")
			return
		}
		lines = n
	}

	text, err := h.reg.Capture(r.Context(), id, lines)
	if err != nil {
		h.fail(w, id, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, outputResponse{SessionID: id, Output: text})
}

func (h *Handler) keys(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req keysRequest
	if err := httpx.DecodeJSON(w, r, httpx.DefaultMaxBody, &req); err != nil || req.Keys == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "keys is required")
		return
	}
	if err := h.reg.SendKeys(r.Context(), id, req.Keys); err != nil {
		h.fail(w, id, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Session not found: "+id)
	case errors.Is(err, ErrInvalidName), errors.Is(err, tmux.ErrInvalidName):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, tmux.ErrBackend):
		h.log.Error("sessions.backend.fail", "session_id", id, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "backend_error", err.Error())
	default:
		h.log.Error("sessions.fail", "session_id", id, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
