// Package plugins is the static registration table of CLI tools that can be
// launched inside a terminal session.
//
// Each plugin is a fixed descriptor registered explicitly at startup; there is
// no discovery. "Listing plugins" iterates the table in registration order.
package plugins

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned for an unregistered plugin name.
	ErrNotFound = errors.New("plugin not found")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("plugin already registered")

	// ErrInvalid is returned for descriptors without a name.
	ErrInvalid = errors.New("invalid plugin descriptor")
)

// QuickAction is a one-tap command offered by the client UI.
type QuickAction struct {
	Label   string `json:"label"`
	Command string `json:"command"`
	Icon    string `json:"icon,omitempty"`
}

// Health is a plugin's availability on this host.
type Health struct {
	Available bool    `json:"available"`
	Message   *string `json:"message"`
}

// Plugin describes one launchable tool. An empty Command means "plain shell".
type Plugin struct {
	Name         string
	DisplayName  string
	Command      string
	QuickActions []QuickAction

	// Probe reports health; nil means always available.
	Probe func() Health
}

// Health runs the probe.
func (p Plugin) Health() Health {
	if p.Probe == nil {
		return Health{Available: true}
	}
	return p.Probe()
}

// Info is the JSON descriptor served to clients.
type Info struct {
	Name         string        `json:"name"`
	DisplayName  string        `json:"display_name"`
	Command      string        `json:"command"`
	QuickActions []QuickAction `json:"quick_actions"`
	Health       Health        `json:"health"`
}

// Info evaluates health and returns the client descriptor.
func (p Plugin) Info() Info {
	qa := p.QuickActions
	if qa == nil {
		qa = []QuickAction{}
	}
	return Info{
		Name:         p.Name,
		DisplayName:  p.DisplayName,
		Command:      p.Command,
		QuickActions: qa,
		Health:       p.Health(),
	}
}

// Registry holds registered plugins.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Plugin
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Plugin)}
}

// Register adds p. Names are unique.
func (r *Registry) Register(p Plugin) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrInvalid
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
	}
	r.byName[p.Name] = p
	r.order = append(r.order, p.Name)
	return nil
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return Plugin{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// List returns plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// LookPathFunc resolves an executable on PATH.
type LookPathFunc func(file string) (string, error)

// Builtin returns the plugins shipped with the gateway.
func Builtin(lookPath LookPathFunc) []Plugin {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return []Plugin{Shell(), ClaudeCode(lookPath)}
}

// NewDefaultRegistry registers Builtin plugins.
func NewDefaultRegistry(lookPath LookPathFunc) (*Registry, error) {
	r := NewRegistry()
	for _, p := range Builtin(lookPath) {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
