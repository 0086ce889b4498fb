package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"arc4de/cmd/internal/tmux"
)

// fakeMux is an in-memory tmux.
type fakeMux struct {
	mu       sync.Mutex
	sessions map[string]int // name -> attach count
	keys     map[string][]string
	sizes    map[string][2]int
	created  map[string]time.Time // as tmux reports #{session_created}

	newErr  error
	listErr error
	killErr map[string]error
}

func newFakeMux() *fakeMux {
	return &fakeMux{
		sessions: map[string]int{},
		keys:     map[string][]string{},
		sizes:    map[string][2]int{},
		created:  map[string]time.Time{},
		killErr:  map[string]error{},
	}
}

func backendErr(op string) error {
	return &tmux.BackendError{Op: op, Output: "boom", Err: errors.New("exit status 1")}
}

func (f *fakeMux) NewSession(_ context.Context, name string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return f.newErr
	}
	f.sessions[name] = 0
	f.sizes[name] = [2]int{cols, rows}
	return nil
}

func (f *fakeMux) ListSessions(context.Context) ([]tmux.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]tmux.Session, 0, len(f.sessions))
	for name, n := range f.sessions {
		out = append(out, tmux.Session{Name: name, Attached: n, Created: f.created[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeMux) HasSession(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[name]
	return ok, nil
}

func (f *fakeMux) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.killErr[name]; err != nil {
		return err
	}
	delete(f.sessions, name)
	return nil
}

func (f *fakeMux) ResizeWindow(_ context.Context, name string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[name] = [2]int{cols, rows}
	return nil
}

func (f *fakeMux) SendKeys(_ context.Context, name, keys string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = append(f.keys[name], keys)
	return nil
}

func (f *fakeMux) CapturePane(_ context.Context, name string, lines int) (string, error) {
	return "captured " + name, nil
}

func (f *fakeMux) attach(name string, n int) {
	f.mu.Lock()
	f.sessions[name] = n
	f.mu.Unlock()
}

// adopt adds a session that tmux reports with its own creation time.
func (f *fakeMux) adopt(name string, created time.Time) {
	f.mu.Lock()
	f.sessions[name] = 0
	f.created[name] = created
	f.mu.Unlock()
}
