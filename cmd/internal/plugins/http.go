package plugins

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"arc4de/cmd/internal/httpx"
)

// Routes mounts GET /, /{name} and /{name}/health.
func (r *Registry) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/", r.handleList)
	mux.Get("/{name}", r.handleGet)
	mux.Get("/{name}/health", r.handleHealth)
	return mux
}

func (r *Registry) handleList(w http.ResponseWriter, _ *http.Request) {
	list := r.List()
	out := make([]Info, 0, len(list))
	for _, p := range list {
		out = append(out, p.Info())
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (r *Registry) handleGet(w http.ResponseWriter, req *http.Request) {
	p, ok := r.lookup(w, req)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p.Info())
}

func (r *Registry) handleHealth(w http.ResponseWriter, req *http.Request) {
	p, ok := r.lookup(w, req)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p.Health())
}

func (r *Registry) lookup(w http.ResponseWriter, req *http.Request) (Plugin, bool) {
	name := chi.URLParam(req, "name")
	p, err := r.Get(name)
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Plugin not found: "+name)
		return Plugin{}, false
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return Plugin{}, false
	}
	return p, true
}
