// Package api is the HTTP surface of owner authentication: login, refresh
// rotation, logout, and the bearer middleware that guards every other route.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"arc4de/cmd/internal/auth/guard"
	"arc4de/cmd/internal/auth/revocation"
	"arc4de/cmd/internal/auth/token"
	"arc4de/cmd/internal/httpx"
	"arc4de/cmd/security/password"

	"github.com/go-chi/chi/v5"
)

// ErrMissingDependency is returned by NewHandler when a required collaborator is nil.
var ErrMissingDependency = errors.New("api: missing dependency")

// Tokens issues and validates token pairs.
type Tokens interface {
	IssuePair(now time.Time) (token.Pair, error)
	VerifyAccess(tok string, now time.Time) (token.Claims, error)
	VerifyRefresh(tok string, now time.Time) (token.Claims, error)
}

// Limiter is the login lockout policy.
type Limiter interface {
	Check(now time.Time) error
	RecordFailure(now time.Time) bool
	Reset()
}

// Recorder receives auth outcomes for metrics.
type Recorder interface {
	Login(result string)
	Refresh(result string)
}

// Config controls request handling.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64
}

// Deps are the collaborators of a Handler. Metrics, Log and Now are optional.
type Deps struct {
	Tokens   Tokens
	Store    revocation.Store
	Guard    Limiter
	Password password.Checker
	Metrics  Recorder
	Log      *slog.Logger
	Now      func() time.Time
}

// Handler serves the auth endpoints.
type Handler struct {
	log *slog.Logger
	cfg Config

	tokens   Tokens
	store    revocation.Store
	guard    Limiter
	password password.Checker
	rec      Recorder
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, d Deps) (*Handler, error) {
	switch {
	case d.Tokens == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("tokens"))
	case d.Store == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("revocation store"))
	case d.Guard == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("login guard"))
	case d.Password == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("password checker"))
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httpx.DefaultMaxBody
	}
	h := &Handler{
		log:      d.Log,
		cfg:      cfg,
		tokens:   d.Tokens,
		store:    d.Store,
		guard:    d.Guard,
		password: d.Password,
		rec:      d.Metrics,
		now:      d.Now,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.rec == nil {
		h.rec = noopRecorder{}
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	return h, nil
}

// Routes mounts login and refresh publicly and logout behind the bearer middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
	r.With(h.RequireAuth).Post("/logout", h.handleLogout)
	return r
}

type loginRequest struct {
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)

	if err := h.guard.Check(now); err != nil {
		var locked guard.LockedError
		retry := time.Duration(0)
		if errors.As(err, &locked) {
			retry = locked.RetryAfter
		}
		h.rec.Login("locked")
		h.log.Warn("auth.login.locked", "remote", ipString(ip), "retry_after", retry)
		httpx.WriteRateLimited(w, retry, "Too many failed attempts. Try again later.")
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if !h.password.Check(req.Password) {
		nowLocked := h.guard.RecordFailure(now)
		h.rec.Login("failure")
		h.log.Warn("auth.login.fail", "remote", ipString(ip), "locked", nowLocked)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid password")
		return
	}

	h.guard.Reset()
	pair, err := h.tokens.IssuePair(now)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.store.Activate(r.Context(), pair.RefreshJTI, pair.RefreshExpiresAt); err != nil {
		h.log.Error("auth.login.activate.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.rec.Login("success")
	h.log.Info("auth.login.success", "remote", ipString(ip))
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	var req refreshRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	claims, err := h.tokens.VerifyRefresh(strings.TrimSpace(req.RefreshToken), now)
	if err != nil {
		h.rec.Refresh("invalid")
		h.unauthorized(w, "invalid_token", "Invalid or expired refresh token")
		return
	}

	pair, err := h.tokens.IssuePair(now)
	if err != nil {
		h.log.Error("auth.refresh.issue.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// The new pair is only released once the old jti has been swapped out.
	if err := h.store.Rotate(r.Context(), claims.JTI, pair.RefreshJTI, pair.RefreshExpiresAt); err != nil {
		if errors.Is(err, revocation.ErrNotActive) {
			h.rec.Refresh("revoked")
			h.log.Warn("auth.refresh.reuse_detected", "remote", ipString(clientIP(r, h.cfg.TrustProxy)))
			h.unauthorized(w, "token_revoked", "Refresh token has been revoked")
			return
		}
		h.log.Error("auth.refresh.rotate.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.rec.Refresh("success")
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok"})
		return
	}

	claims, err := h.tokens.VerifyRefresh(strings.TrimSpace(req.RefreshToken), h.now())
	if err == nil {
		if err := h.store.Revoke(r.Context(), claims.JTI); err != nil {
			h.log.Error("auth.logout.revoke.fail", "err", err)
		} else {
			h.log.Info("auth.logout", "remote", ipString(clientIP(r, h.cfg.TrustProxy)))
		}
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) unauthorized(w http.ResponseWriter, code, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	httpx.WriteError(w, http.StatusUnauthorized, code, msg)
}

type noopRecorder struct{}

func (noopRecorder) Login(string)   {}
func (noopRecorder) Refresh(string) {}
