package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"arc4de/cmd/internal/sessions"
	"arc4de/cmd/internal/tmux"
	"arc4de/cmd/security/password"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMux struct {
	mu      sync.Mutex
	created map[string]time.Time
	killed  []string
}

func (s *stubMux) NewSession(context.Context, string, int, int) error { return nil }

func (s *stubMux) ListSessions(context.Context) ([]tmux.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tmux.Session, 0, len(s.created))
	for name, at := range s.created {
		out = append(out, tmux.Session{Name: name, Created: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *stubMux) HasSession(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.created[name]
	return ok, nil
}

func (s *stubMux) KillSession(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.created[name]; !ok {
		return errors.New("can't find session")
	}
	delete(s.created, name)
	s.killed = append(s.killed, name)
	return nil
}

func (s *stubMux) ResizeWindow(context.Context, string, int, int) error { return nil }
func (s *stubMux) SendKeys(context.Context, string, string) error      { return nil }
func (s *stubMux) CapturePane(context.Context, string, int) (string, error) {
	return "", nil
}

func useStubMux(t *testing.T, created map[string]time.Time) *stubMux {
	t.Helper()
	stub := &stubMux{created: created}
	prev := newMultiplexer
	newMultiplexer = func(string) sessions.Multiplexer { return stub }
	t.Cleanup(func() { newMultiplexer = prev })
	return stub
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	t.Setenv("ARC4DE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("ARC4DE_ARGON2_ITERATIONS", "1")

	out, err := run(t, "tangerine-lantern-42\n", "hash-password")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"), "got %q", hash)

	cfg, err := password.FromEnv("ARC4DE")
	require.NoError(t, err)
	ok, err := cfg.Verify(hash, "tangerine-lantern-42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPasswordRejectsWeakInput(t *testing.T) {
	t.Setenv("ARC4DE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("ARC4DE_ARGON2_ITERATIONS", "1")

	_, err := run(t, "changeme\n", "hash-password")
	require.Error(t, err)

	_, err = run(t, "", "hash-password")
	require.Error(t, err)
}

func TestSessionsList(t *testing.T) {
	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	useStubMux(t, map[string]time.Time{
		"arc4de-aaaaaaaaaaaa": created,
		"scratch":             created,
	})

	out, err := run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "aaaaaaaaaaaa")
	assert.NotContains(t, out, "scratch")

	out, err = run(t, "", "sessions", "list", "--json")
	require.NoError(t, err)
	var got []sessions.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "aaaaaaaaaaaa", got[0].SessionID)
	assert.Equal(t, "", got[0].CreatedAt)
}

func TestSessionsKill(t *testing.T) {
	stub := useStubMux(t, map[string]time.Time{"arc4de-aaaaaaaaaaaa": time.Now()})

	out, err := run(t, "", "sessions", "kill", "aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "killed aaaaaaaaaaaa\n", out)
	assert.Equal(t, []string{"arc4de-aaaaaaaaaaaa"}, stub.killed)

	_, err = run(t, "", "sessions", "kill", "aaaaaaaaaaaa")
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestSessionsCleanupKeepsOrphansByDefault(t *testing.T) {
	stub := useStubMux(t, map[string]time.Time{
		"arc4de-aaaaaaaaaaaa": time.Now().Add(-30 * time.Hour),
	})

	out, err := run(t, "", "sessions", "cleanup", "--ttl", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "0 session(s) removed")
	assert.Empty(t, stub.killed)
}

func TestSessionsCleanupIncludeOrphans(t *testing.T) {
	now := time.Now()
	stub := useStubMux(t, map[string]time.Time{
		"arc4de-aaaaaaaaaaaa": now.Add(-3 * time.Hour),
		"arc4de-bbbbbbbbbbbb": now.Add(-10 * time.Minute),
	})

	out, err := run(t, "", "sessions", "cleanup", "--ttl", "1h", "--include-orphans")
	require.NoError(t, err)
	assert.Contains(t, out, "killed aaaaaaaaaaaa")
	assert.Contains(t, out, "1 session(s) removed (ttl 1h0m0s)")
	assert.Equal(t, []string{"arc4de-aaaaaaaaaaaa"}, stub.killed)
}

func TestSessionsCleanupUsesConfiguredTTL(t *testing.T) {
	t.Setenv("ARC4DE_SESSION_TTL", "5m")
	stub := useStubMux(t, map[string]time.Time{
		"arc4de-bbbbbbbbbbbb": time.Now().Add(-10 * time.Minute),
	})

	out, err := run(t, "", "sessions", "cleanup", "--include-orphans")
	require.NoError(t, err)
	assert.Contains(t, out, "(ttl 5m0s)")
	assert.Equal(t, []string{"arc4de-bbbbbbbbbbbb"}, stub.killed)
}

func TestSessionsCleanupRejectsNonPositiveTTL(t *testing.T) {
	useStubMux(t, map[string]time.Time{})
	_, err := run(t, "", "sessions", "cleanup", "--ttl", "0s")
	require.Error(t, err)
}
