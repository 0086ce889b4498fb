package app

import (
	"net/http"

	"arc4de/cmd/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type statusBody struct {
	Status string `json:"status"`
}

type readyBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler returns the full HTTP surface: health probes, the auth API, the
// bearer-protected REST API, metrics and the terminal websocket.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusBody{Status: "ok"})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)

	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Mount("/api/auth", a.auth.Routes())
	r.Group(func(r chi.Router) {
		r.Use(a.auth.RequireAuth)
		r.Mount("/api/sessions", a.sessionsAPI.Routes())
		r.Mount("/api/plugins", a.plugins.Routes())
		r.Mount("/api/tunnel", a.tunnels.Routes())
	})

	r.Method(http.MethodGet, "/ws/terminal", a.gateway)

	var h http.Handler = r
	h = WithCORS(h, httpx.NewOriginPolicy(a.cfg.AllowedOrigins), a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	return middleware.RequestID(h)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	body := readyBody{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	if err := a.tmux.LookPath(); err != nil {
		body.Checks["tmux"] = "missing"
		status = http.StatusServiceUnavailable
		a.log.Info("readyz.tmux.not_ready", "err", err, "binary", a.tmux.Binary())
	} else {
		body.Checks["tmux"] = "ok"
	}

	if state, err := a.checkRevocationDB(r.Context()); state != "" {
		body.Checks["db"] = state
		if err != nil {
			status = http.StatusServiceUnavailable
			a.log.Info("readyz.db.not_ready", "err", err)
		}
	}

	if status != http.StatusOK {
		body.Status = "not_ready"
	}
	httpx.WriteJSON(w, status, body)
}
