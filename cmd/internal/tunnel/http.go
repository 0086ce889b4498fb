package tunnel

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"arc4de/cmd/internal/httpx"
)

// Routes mounts GET / (status) and DELETE /previews/{port}.
func (m *Manager) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", m.handleInfo)
	r.Delete("/previews/{port}", m.handleStopPreview)
	return r
}

func (m *Manager) handleInfo(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, m.Info())
}

func (m *Manager) handleStopPreview(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "port")
	port, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid port: "+raw)
		return
	}
	if err := m.StopPreview(r.Context(), port); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "No preview tunnel on port "+raw)
			return
		}
		m.log.Warn("tunnel.preview.stop.fail", "port", port, "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
