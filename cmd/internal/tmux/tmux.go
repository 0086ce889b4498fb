// Package tmux is the multiplexer-control interface: a thin client over the
// tmux CLI. Every failure of the binary surfaces as a *BackendError.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultBinary is the tmux executable looked up on PATH.
const DefaultBinary = "tmux"

const listFormat = "#{session_name}:#{session_attached}:#{session_created}"

var (
	// ErrBackend is matched by every *BackendError.
	ErrBackend = errors.New("tmux backend error")

	// ErrInvalidName is returned for names tmux would misparse as targets.
	ErrInvalidName = errors.New("tmux: invalid session name")
)

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// BackendError reports a failed tmux invocation.
type BackendError struct {
	Op     string
	Output string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("tmux %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tmux %s: %v (%s)", e.Op, e.Err, e.Output)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// CommandRunner executes a command and returns its combined output. On
// failure the output is still returned when available.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Session is one live tmux session as reported by list-sessions.
type Session struct {
	Name     string
	Attached int
	// Created is tmux's own creation time; zero if tmux did not report it.
	Created time.Time
}

// Client issues tmux commands through a CommandRunner.
type Client struct {
	runner CommandRunner
	binary string
}

// New returns a Client. A nil runner selects ExecRunner; an empty binary selects DefaultBinary.
func New(binary string, runner CommandRunner) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	return &Client{runner: runner, binary: binary}
}

// Binary returns the configured tmux executable.
func (c *Client) Binary() string { return c.binary }

// LookPath reports whether the tmux binary can be resolved.
func (c *Client) LookPath() error {
	_, err := exec.LookPath(c.binary)
	return err
}

// NewSession creates a detached session sized cols x rows.
func (c *Client) NewSession(ctx context.Context, name string, cols, rows int) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "new-session", "-d", "-s", name, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	return err
}

// ListSessions returns every live session. No running server means no sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	out, err := c.run(ctx, "list-sessions", "-F", listFormat)
	if err != nil {
		if isNoServerError(err) {
			return []Session{}, nil
		}
		return nil, err
	}

	lines := strings.Split(string(out), "\n")
	sessions := make([]Session, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sessions = append(sessions, parseSessionLine(line))
	}
	return sessions, nil
}

// HasSession probes one session by exact name.
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	if err := validateSessionName(name); err != nil {
		return false, err
	}
	if _, err := c.run(ctx, "has-session", "-t", exact(name)); err != nil {
		if isMissingSessionError(err) || isNoServerError(err) {
			return false, nil
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			// has-session exits 1 without output on some tmux builds.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KillSession kills a session. Killing a missing session is not an error.
func (c *Client) KillSession(ctx context.Context, name string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	if _, err := c.run(ctx, "kill-session", "-t", exact(name)); err != nil {
		if isMissingSessionError(err) || isNoServerError(err) {
			return nil
		}
		return err
	}
	return nil
}

// ResizeWindow sets the session window size.
func (c *Client) ResizeWindow(ctx context.Context, name string, cols, rows int) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "resize-window", "-t", name, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	return err
}

// SendKeys types keys into the session followed by Enter.
func (c *Client) SendKeys(ctx context.Context, name, keys string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "send-keys", "-t", name, keys, "Enter")
	return err
}

// CapturePane returns the last lines of the session's active pane.
func (c *Client) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	if err := validateSessionName(name); err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = 50
	}
	out, err := c.run(ctx, "capture-pane", "-t", name, "-p", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// AttachCommand builds (but does not start) the attach process for a session.
func (c *Client) AttachCommand(ctx context.Context, name string) (*exec.Cmd, error) {
	if err := validateSessionName(name); err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, c.binary, "attach-session", "-t", exact(name)), nil
}

func (c *Client) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	out, err := c.runner.Run(ctx, c.binary, append([]string{op}, args...)...)
	if err != nil {
		return out, &BackendError{Op: op, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return out, nil
}

// parseSessionLine splits name:attached:created from the right; tmux
// forbids ':' in session names.
func parseSessionLine(line string) Session {
	fields := strings.Split(line, ":")
	if len(fields) < 3 {
		name, attached, _ := strings.Cut(line, ":")
		n, _ := strconv.Atoi(attached)
		return Session{Name: name, Attached: n}
	}
	k := len(fields)
	s := Session{Name: strings.Join(fields[:k-2], ":")}
	s.Attached, _ = strconv.Atoi(fields[k-2])
	if secs, err := strconv.ParseInt(fields[k-1], 10, 64); err == nil && secs > 0 {
		s.Created = time.Unix(secs, 0).UTC()
	}
	return s
}

// exact prefixes a target with "=" so tmux does not fall back to prefix matching.
func exact(name string) string { return "=" + name }

func validateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func isNoServerError(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "no server running") || strings.Contains(text, "failed to connect to server")
}

func isMissingSessionError(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "can't find session") || strings.Contains(text, "no such session")
}
