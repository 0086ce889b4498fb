// Package sessions is the session registry: named terminal sessions backed
// by tmux, plus the expiry sweeper and the session HTTP surface.
//
// tmux is the source of truth for which sessions exist and whether a client
// is attached. The registry only caches display metadata (name, creation
// time, plugin) and loses it on restart; sessions found in tmux without a
// cached record are still listed, with their id as name and no creation time.
// Such orphans never expire on their own; CleanupOrphans removes them on
// request using the creation time tmux reports.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"arc4de/cmd/internal/tmux"
)

const (
	// Prefix marks tmux sessions owned by this gateway.
	Prefix = "arc4de-"

	// DefaultCols and DefaultRows size new sessions.
	DefaultCols = 200
	DefaultRows = 50

	idBytes = 6
)

var (
	ErrNotFound    = errors.New("sessions: not found")
	ErrInvalidName = errors.New("sessions: invalid name")
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

// State is derived from the tmux attach count.
type State string

const (
	StateActive   State = "active"
	StateDetached State = "detached"
)

// Multiplexer is the subset of tmux control the registry needs.
// *tmux.Client satisfies it.
type Multiplexer interface {
	NewSession(ctx context.Context, name string, cols, rows int) error
	ListSessions(ctx context.Context) ([]tmux.Session, error)
	HasSession(ctx context.Context, name string) (bool, error)
	KillSession(ctx context.Context, name string) error
	ResizeWindow(ctx context.Context, name string, cols, rows int) error
	SendKeys(ctx context.Context, name, keys string) error
	CapturePane(ctx context.Context, name string, lines int) (string, error)
}

// Session describes one live session.
type Session struct {
	ID        string
	Name      string
	TmuxName  string
	State     State
	CreatedAt time.Time // zero when unknown
	Plugin    string
}

type meta struct {
	name      string
	createdAt time.Time
	plugin    string
	seq       uint64
}

// Registry is safe for concurrent use.
type Registry struct {
	mux Multiplexer
	log *slog.Logger
	now func() time.Time

	mu   sync.RWMutex
	meta map[string]meta
	seq  uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(mux Multiplexer, log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{mux: mux, log: log, now: time.Now, meta: make(map[string]meta)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TmuxName maps a session id onto its tmux session name.
func TmuxName(id string) string { return Prefix + id }

// ValidID reports whether id has the shape of a generated session id.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// Create starts a detached tmux session and records its metadata.
// An empty name defaults to the id.
func (r *Registry) Create(ctx context.Context, name, plugin string) (Session, error) {
	name = strings.TrimSpace(name)
	if len(name) > 128 {
		return Session{}, fmt.Errorf("%w: too long", ErrInvalidName)
	}

	id, err := r.newID()
	if err != nil {
		return Session{}, err
	}
	if name == "" {
		name = id
	}

	tmuxName := TmuxName(id)
	if err := r.mux.NewSession(ctx, tmuxName, DefaultCols, DefaultRows); err != nil {
		return Session{}, err
	}

	m := meta{name: name, createdAt: r.now().UTC(), plugin: plugin}
	r.mu.Lock()
	r.seq++
	m.seq = r.seq
	r.meta[id] = m
	r.mu.Unlock()

	r.log.Info("sessions.create", "session_id", id, "tmux", tmuxName, "plugin", plugin)
	return Session{
		ID:        id,
		Name:      m.name,
		TmuxName:  tmuxName,
		State:     StateDetached,
		CreatedAt: m.createdAt,
		Plugin:    plugin,
	}, nil
}

// List reconciles tmux's live sessions with the cached metadata. Cached
// records whose session disappeared are dropped; records added while tmux
// was being queried are kept.
func (r *Registry) List(ctx context.Context) ([]Session, error) {
	out, _, err := r.reconcile(ctx)
	return out, err
}

// reconcile lists live sessions and also returns tmux's own creation time
// for each id. Session.CreatedAt only ever comes from the cache.
func (r *Registry) reconcile(ctx context.Context) ([]Session, map[string]time.Time, error) {
	r.mu.RLock()
	horizon := r.seq
	r.mu.RUnlock()

	live, err := r.mux.ListSessions(ctx)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(live))
	muxCreated := make(map[string]time.Time, len(live))
	out := make([]Session, 0, len(live))
	for _, ts := range live {
		id, ok := strings.CutPrefix(ts.Name, Prefix)
		if !ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		muxCreated[id] = ts.Created

		s := Session{ID: id, Name: id, TmuxName: ts.Name, State: StateDetached}
		if ts.Attached > 0 {
			s.State = StateActive
		}
		if m, ok := r.meta[id]; ok {
			s.Name, s.CreatedAt, s.Plugin = m.name, m.createdAt, m.plugin
		}
		out = append(out, s)
	}

	for id := range r.meta {
		if _, ok := seen[id]; !ok && r.meta[id].seq <= horizon {
			delete(r.meta, id)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		if a.IsZero() || b.IsZero() {
			return b.IsZero()
		}
		return a.Before(b)
	})
	return out, muxCreated, nil
}

// Get returns one session, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Session, error) {
	if !ValidID(id) {
		return Session{}, ErrNotFound
	}
	all, err := r.List(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

// Exists probes tmux for a single session.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}
	return r.mux.HasSession(ctx, TmuxName(id))
}

// Kill terminates a session and forgets its metadata.
func (r *Registry) Kill(ctx context.Context, id string) error {
	ok, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		r.forget(id)
		return ErrNotFound
	}
	if err := r.mux.KillSession(ctx, TmuxName(id)); err != nil {
		return err
	}
	r.forget(id)
	r.log.Info("sessions.kill", "session_id", id)
	return nil
}

// Resize sets the tmux window size of a session.
func (r *Registry) Resize(ctx context.Context, id string, cols, rows int) error {
	if err := r.mustExist(ctx, id); err != nil {
		return err
	}
	return r.mux.ResizeWindow(ctx, TmuxName(id), cols, rows)
}

// SendKeys types keys followed by Enter.
func (r *Registry) SendKeys(ctx context.Context, id, keys string) error {
	if err := r.mustExist(ctx, id); err != nil {
		return err
	}
	return r.mux.SendKeys(ctx, TmuxName(id), keys)
}

// Capture returns the last lines of the session's pane.
func (r *Registry) Capture(ctx context.Context, id string, lines int) (string, error) {
	if err := r.mustExist(ctx, id); err != nil {
		return "", err
	}
	return r.mux.CapturePane(ctx, TmuxName(id), lines)
}

// CleanupExpired kills every session whose cached creation time is older
// than ttl and returns the ids it removed. Sessions without a cached record
// are kept. A failed kill is logged and the sweep moves on.
func (r *Registry) CleanupExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	return r.expire(ctx, ttl, false)
}

// CleanupOrphans kills sessions this registry has no record of (left by an
// earlier process) once tmux reports them older than ttl. It is never run by
// the sweeper; the operator asks for it explicitly.
func (r *Registry) CleanupOrphans(ctx context.Context, ttl time.Duration) ([]string, error) {
	return r.expire(ctx, ttl, true)
}

func (r *Registry) expire(ctx context.Context, ttl time.Duration, orphans bool) ([]string, error) {
	all, muxCreated, err := r.reconcile(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	cached := make(map[string]bool, len(all))
	for _, s := range all {
		_, cached[s.ID] = r.meta[s.ID]
	}
	r.mu.RUnlock()

	now := r.now()
	removed := []string{}
	for _, s := range all {
		created := s.CreatedAt
		if orphans {
			if cached[s.ID] {
				continue
			}
			created = muxCreated[s.ID]
		} else if !cached[s.ID] {
			continue
		}
		if created.IsZero() || now.Sub(created) <= ttl {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := r.mux.KillSession(ctx, s.TmuxName); err != nil {
			r.log.Warn("sessions.expire.fail", "session_id", s.ID, "err", err)
			continue
		}
		r.forget(s.ID)
		removed = append(removed, s.ID)
		r.log.Info("sessions.expire", "session_id", s.ID, "orphan", orphans, "age", now.Sub(created).Round(time.Second).String())
	}
	return removed, nil
}

func (r *Registry) mustExist(ctx context.Context, id string) error {
	ok, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.meta, id)
	r.mu.Unlock()
}

func (r *Registry) newID() (string, error) {
	b := make([]byte, idBytes)
	for range 8 {
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		id := hex.EncodeToString(b)
		r.mu.RLock()
		_, taken := r.meta[id]
		r.mu.RUnlock()
		if !taken {
			return id, nil
		}
	}
	return "", errors.New("sessions: could not allocate id")
}
