// Package app wires the ARC4DE gateway runtime: config, logging, services,
// HTTP routes and the terminal websocket.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arc4de/cmd/internal/auth/api"
	"arc4de/cmd/internal/auth/guard"
	"arc4de/cmd/internal/auth/revocation"
	"arc4de/cmd/internal/auth/token"
	"arc4de/cmd/internal/metrics"
	"arc4de/cmd/internal/plugins"
	"arc4de/cmd/internal/sessions"
	"arc4de/cmd/internal/terminal"
	"arc4de/cmd/internal/tmux"
	"arc4de/cmd/internal/tunnel"
	"arc4de/cmd/security/password"
	sectoken "arc4de/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
)

const revocationDigestInfo = "arc4de revocation digest v1"

// App owns every long-lived service and the HTTP surface built on them.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Metrics

	pool       *pgxpool.Pool
	revocation revocation.Store

	tmux        *tmux.Client
	sessions    *sessions.Registry
	sessionsAPI *sessions.Handler
	sweeper     *sessions.Sweeper
	plugins     *plugins.Registry
	tunnels     *tunnel.Manager

	auth    *api.Handler
	gateway *terminal.Gateway
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	runner   tmux.CommandRunner
	launcher tunnel.Launcher
	lookPath plugins.LookPathFunc
}

// WithTmuxRunner replaces the process runner behind the tmux client.
func WithTmuxRunner(r tmux.CommandRunner) Option {
	return func(o *options) { o.runner = r }
}

// WithTunnelLauncher replaces the cloudflared launcher.
func WithTunnelLauncher(l tunnel.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithLookPath replaces PATH lookups for plugin health.
func WithLookPath(fn plugins.LookPathFunc) Option {
	return func(o *options) { o.lookPath = fn }
}

// New constructs a fully wired App from config and logger. Nothing is
// started until Run.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	warnInsecureDefaults(cfg, log)

	a := &App{cfg: cfg, log: log}
	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	tokens, err := token.New(cfg.TokenConfig())
	if err != nil {
		return nil, fmt.Errorf("token authority: %w", err)
	}

	checker, err := newPasswordChecker(cfg)
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}

	if err := a.openRevocation(ctx); err != nil {
		return nil, err
	}

	a.tmux = tmux.New(cfg.TmuxBinary, o.runner)
	a.sessions = sessions.NewRegistry(a.tmux, log)

	a.plugins, err = plugins.NewDefaultRegistry(o.lookPath)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.sessionsAPI = sessions.NewHandler(a.sessions, a.plugins, a.metrics, log)

	a.sweeper, err = sessions.NewSweeper(a.sessions, cfg.SweeperConfig(), log, a.metrics)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	launcher := o.launcher
	if launcher == nil {
		launcher = tunnel.Cloudflared{Binary: cfg.CloudflaredBinary, Log: log}
	}
	a.tunnels = tunnel.NewManager(launcher, tunnel.Config{
		Binary:   cfg.CloudflaredBinary,
		Previews: cfg.PreviewEnabled,
	}, log, a.metrics)

	a.auth, err = api.NewHandler(api.Config{TrustProxy: cfg.TrustProxy}, api.Deps{
		Tokens:   tokens,
		Store:    a.revocation,
		Guard:    guard.New(cfg.GuardConfig()),
		Password: checker,
		Metrics:  a.metrics,
		Log:      log,
	})
	if err != nil {
		a.closeStores()
		return nil, err
	}

	deps := terminal.Deps{
		Tokens:     tokens,
		Sessions:   a.sessions,
		Attacher:   a.tmux,
		DetectPort: tunnel.DetectPort,
		Metrics:    a.metrics,
		Log:        log,
	}
	if cfg.PreviewEnabled && a.tunnels.Available() {
		deps.Previews = a.tunnels
	}
	a.gateway, err = terminal.New(cfg.GatewayConfig(), deps)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	return a, nil
}

// Run starts the sweeper, the optional session tunnel and the HTTP server,
// and blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    1 << 20,
	}

	if err := a.tmux.LookPath(); err != nil {
		a.log.Warn("tmux.unavailable", "binary", a.tmux.Binary(), "err", err)
	}

	a.sweeper.Start()
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"revocation", a.cfg.RevocationBackend,
		"token_format", a.cfg.TokenConfig().Format,
		"metrics", a.metrics != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.cfg.TunnelEnabled {
		go a.startSessionTunnel(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("app.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close stops background work and releases stores. Safe to call after a
// failed Run.
func (a *App) Close(ctx context.Context) error {
	a.sweeper.Stop(ctx)
	err := a.tunnels.Close(ctx)
	a.closeStores()
	return err
}

func (a *App) startSessionTunnel(ctx context.Context) {
	port := a.cfg.Port()
	if port == 0 {
		a.log.Warn("tunnel.session.skip", "reason", "no port in listen address", "addr", a.cfg.HTTPAddr)
		return
	}
	url, err := a.tunnels.StartSessionTunnel(ctx, port)
	if err != nil {
		a.log.Warn("tunnel.session.fail", "err", err)
		return
	}
	a.log.Info("tunnel.session.ready", "url", url)
}

func (a *App) openRevocation(ctx context.Context) error {
	if a.cfg.RevocationBackend == BackendMemory {
		a.revocation = revocation.NewMemory()
		a.log.Info("revocation.memory", "persistent", false)
		return nil
	}

	key, err := sectoken.DeriveKey([]byte(a.cfg.JWTSecret), revocationDigestInfo, 32)
	if err != nil {
		return fmt.Errorf("revocation digest key: %w", err)
	}
	digest := sectoken.NewDigester(key)

	switch a.cfg.RevocationBackend {
	case BackendBolt:
		st, err := revocation.OpenBolt(a.cfg.StateFile, digest)
		if err != nil {
			return err
		}
		a.revocation = st
		a.log.Info("revocation.bolt", "path", a.cfg.StateFile)
	case BackendPostgres:
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		st, err := revocation.NewPostgres(pool, digest)
		if err == nil {
			err = st.EnsureSchema(ctx)
		}
		if err != nil {
			pool.Close()
			return fmt.Errorf("postgres revocation store: %w", err)
		}
		a.pool = pool
		a.revocation = st
		a.log.Info("revocation.postgres")
	}
	return nil
}

func (a *App) closeStores() {
	if a.revocation != nil {
		if err := a.revocation.Close(); err != nil {
			a.log.Error("revocation.close.fail", "err", err)
		}
	}
	// The pool outlives the store: Postgres.Close does not own it.
	if a.pool != nil {
		a.pool.Close()
	}
}

func newPasswordChecker(cfg Config) (password.Checker, error) {
	if cfg.AuthPasswordHash != "" {
		pcfg, err := password.FromEnv(EnvPrefix)
		if err != nil {
			return nil, err
		}
		return password.NewHashChecker(pcfg, cfg.AuthPasswordHash)
	}
	return password.NewPlainChecker(cfg.AuthPassword)
}

func warnInsecureDefaults(cfg Config, log Logger) {
	if cfg.JWTSecret == DefaultJWTSecret {
		log.Warn("security.default_secret", "hint", "set "+EnvPrefix+"_JWT_SECRET")
	}
	if cfg.AuthPasswordHash == "" && cfg.AuthPassword == "changeme" {
		log.Warn("security.default_password", "hint", "set "+EnvPrefix+"_AUTH_PASSWORD_HASH")
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
