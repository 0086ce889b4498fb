// Package tunnel exposes local ports through outbound cloudflared quick
// tunnels: one session tunnel for the gateway itself and on-demand preview
// tunnels for dev servers detected in terminal output.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
)

var (
	ErrUnavailable = errors.New("tunnel: cloudflared not available")
	ErrDisabled    = errors.New("tunnel: disabled")
	ErrNotFound    = errors.New("tunnel: not found")
)

// Recorder counts preview tunnel attempts. *metrics.Metrics satisfies it.
type Recorder interface {
	Preview(result string)
}

type Config struct {
	Binary string
	// Previews gates StartPreviewTunnel.
	Previews bool
}

// Preview is one live preview tunnel.
type Preview struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// Info is the tunnel status served over HTTP.
type Info struct {
	SessionURL *string   `json:"session_url"`
	Previews   []Preview `json:"previews"`
}

type inflight struct {
	done chan struct{}
	url  string
	err  error
}

// Manager owns every tunnel process. Safe for concurrent use.
type Manager struct {
	launcher Launcher
	cfg      Config
	log      *slog.Logger
	rec      Recorder
	lookPath func(string) (string, error)

	mu          sync.Mutex
	session     Process
	sessionPort int
	previews    map[int]Process
	starting    map[int]*inflight
	closed      bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLookPath replaces exec.LookPath for availability checks.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(m *Manager) { m.lookPath = fn }
}

func NewManager(l Launcher, cfg Config, log *slog.Logger, rec Recorder, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	m := &Manager{
		launcher: l,
		cfg:      cfg,
		log:      log,
		rec:      rec,
		lookPath: exec.LookPath,
		previews: make(map[int]Process),
		starting: make(map[int]*inflight),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Available reports whether the cloudflared binary resolves.
func (m *Manager) Available() bool {
	_, err := m.lookPath(m.cfg.Binary)
	return err == nil
}

// StartSessionTunnel exposes the gateway's own port. A second call returns
// the running tunnel's URL.
func (m *Manager) StartSessionTunnel(ctx context.Context, port int) (string, error) {
	if !m.Available() {
		m.log.Warn("tunnel.unavailable", "binary", m.cfg.Binary)
		return "", ErrUnavailable
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrDisabled
	}
	if m.session != nil {
		u := m.session.URL()
		m.mu.Unlock()
		return u, nil
	}
	m.mu.Unlock()

	p, err := m.launcher.Launch(ctx, port)
	if err != nil {
		m.log.Error("tunnel.session.fail", "port", port, "err", err)
		return "", err
	}

	m.mu.Lock()
	if m.closed || m.session != nil {
		existing := m.session
		m.mu.Unlock()
		_ = p.Stop(context.Background())
		if existing != nil {
			return existing.URL(), nil
		}
		return "", ErrDisabled
	}
	m.session, m.sessionPort = p, port
	m.mu.Unlock()

	m.log.Info("tunnel.session.start", "port", port, "url", p.URL())
	return p.URL(), nil
}

// StartPreviewTunnel exposes a dev-server port. Calls for a port that is
// already tunneled, or being tunneled, return that tunnel's URL.
func (m *Manager) StartPreviewTunnel(ctx context.Context, port int) (string, error) {
	if !m.cfg.Previews {
		return "", ErrDisabled
	}
	if port < minPreviewPort || port > maxPreviewPort {
		return "", fmt.Errorf("tunnel: port %d out of range", port)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrDisabled
	}
	if p, ok := m.previews[port]; ok {
		m.mu.Unlock()
		return p.URL(), nil
	}
	if call, ok := m.starting[port]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.url, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	m.starting[port] = call
	m.mu.Unlock()

	call.url, call.err = m.launchPreview(ctx, port)

	m.mu.Lock()
	delete(m.starting, port)
	m.mu.Unlock()
	close(call.done)
	return call.url, call.err
}

func (m *Manager) launchPreview(ctx context.Context, port int) (string, error) {
	if !m.Available() {
		m.record("unavailable")
		return "", ErrUnavailable
	}

	p, err := m.launcher.Launch(ctx, port)
	if err != nil {
		m.record("error")
		m.log.Warn("tunnel.preview.fail", "port", port, "err", err)
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = p.Stop(context.Background())
		return "", ErrDisabled
	}
	m.previews[port] = p
	m.mu.Unlock()

	m.record("ok")
	m.log.Info("tunnel.preview.start", "port", port, "url", p.URL())
	return p.URL(), nil
}

// StopPreview stops the preview tunnel for port.
func (m *Manager) StopPreview(ctx context.Context, port int) error {
	m.mu.Lock()
	p, ok := m.previews[port]
	delete(m.previews, port)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.log.Info("tunnel.preview.stop", "port", port)
	return p.Stop(ctx)
}

// Info snapshots the live tunnels, previews sorted by port.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{Previews: make([]Preview, 0, len(m.previews))}
	if m.session != nil {
		u := m.session.URL()
		info.SessionURL = &u
	}
	for port, p := range m.previews {
		info.Previews = append(info.Previews, Preview{Port: port, URL: p.URL()})
	}
	sort.Slice(info.Previews, func(i, j int) bool { return info.Previews[i].Port < info.Previews[j].Port })
	return info
}

// Close stops every tunnel. Later starts fail with ErrDisabled.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	procs := make([]Process, 0, len(m.previews)+1)
	if m.session != nil {
		procs = append(procs, m.session)
		m.session = nil
	}
	for port, p := range m.previews {
		procs = append(procs, p)
		delete(m.previews, port)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(procs))
	for i, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Stop(ctx)
		}()
	}
	wg.Wait()

	if len(procs) > 0 {
		m.log.Info("tunnel.stopped", "count", len(procs))
	}
	return errors.Join(errs...)
}

func (m *Manager) record(result string) {
	if m.rec != nil {
		m.rec.Preview(result)
	}
}
