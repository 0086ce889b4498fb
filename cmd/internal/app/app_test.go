package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"arc4de/cmd/internal/auth/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTmux keeps a set of session names and answers the subset of tmux
// commands the registry issues.
type fakeTmux struct {
	mu       sync.Mutex
	sessions map[string]bool
	keys     []string
}

func newFakeTmux() *fakeTmux { return &fakeTmux{sessions: map[string]bool{}} }

func (f *fakeTmux) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := func(flag string) string {
		for i := 0; i+1 < len(args); i++ {
			if args[i] == flag {
				return strings.TrimPrefix(args[i+1], "=")
			}
		}
		return ""
	}
	switch args[0] {
	case "new-session":
		f.sessions[target("-s")] = true
		return nil, nil
	case "list-sessions":
		if len(f.sessions) == 0 {
			return []byte("no server running on /tmp/tmux-0/default"), errors.New("exit status 1")
		}
		names := make([]string, 0, len(f.sessions))
		for n := range f.sessions {
			names = append(names, n)
		}
		sort.Strings(names)
		var b strings.Builder
		for _, n := range names {
			fmt.Fprintf(&b, "%s:0\n", n)
		}
		return []byte(b.String()), nil
	case "has-session":
		if f.sessions[target("-t")] {
			return nil, nil
		}
		return []byte("can't find session: " + target("-t")), errors.New("exit status 1")
	case "kill-session":
		delete(f.sessions, target("-t"))
		return nil, nil
	case "send-keys":
		f.keys = append(f.keys, strings.Join(args[3:], " "))
		return nil, nil
	case "capture-pane":
		return []byte("$ echo hi\nhi\n"), nil
	}
	return nil, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.JWTSecret = "app-test-secret-0123456789abcdef"
	cfg.AuthPassword = "owner-pass"
	cfg.TmuxBinary = "sh"
	cfg.CloudflaredBinary = "arc4de-no-such-cloudflared"
	return cfg
}

type testApp struct {
	app  *App
	srv  *httptest.Server
	tmux *fakeTmux
}

func newTestApp(t *testing.T, mutate func(*Config)) *testApp {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	ft := newFakeTmux()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, log,
		WithTmuxRunner(ft),
		WithLookPath(func(string) (string, error) { return "", errors.New("not found") }),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return &testApp{app: a, srv: srv, tmux: ft}
}

func (ta *testApp) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ta.srv.URL+path, rd)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, out
}

func (ta *testApp) login(t *testing.T) token.Pair {
	t.Helper()
	res, body := ta.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "owner-pass"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var p token.Pair
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func TestApp_HealthAndReadiness(t *testing.T) {
	ta := newTestApp(t, nil)

	res, body := ta.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))

	res, _ = ta.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = ta.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"ready","checks":{"tmux":"ok"}}`, string(body))
}

func TestApp_ReadinessFailsWithoutTmux(t *testing.T) {
	ta := newTestApp(t, func(c *Config) { c.TmuxBinary = "arc4de-no-such-tmux" })

	res, body := ta.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.JSONEq(t, `{"status":"not_ready","checks":{"tmux":"missing"}}`, string(body))
}

func TestApp_ProtectedRoutesRequireBearer(t *testing.T) {
	ta := newTestApp(t, nil)

	for _, path := range []string{"/api/sessions", "/api/plugins", "/api/tunnel"} {
		res, _ := ta.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, path)
		assert.Equal(t, "Bearer", res.Header.Get("WWW-Authenticate"), path)
	}
}

func TestApp_SessionLifecycleOverHTTP(t *testing.T) {
	ta := newTestApp(t, nil)
	p := ta.login(t)

	res, body := ta.do(t, http.MethodGet, "/api/sessions", p.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.JSONEq(t, `[]`, string(body))

	res, body = ta.do(t, http.MethodPost, "/api/sessions", p.AccessToken, map[string]string{"name": "work", "plugin": "claude-code"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var created struct {
		SessionID string `json:"session_id"`
		Name      string `json:"name"`
		TmuxName  string `json:"tmux_name"`
		Plugin    string `json:"plugin"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "work", created.Name)
	assert.Equal(t, "claude-code", created.Plugin)
	assert.Equal(t, "arc4de-"+created.SessionID, created.TmuxName)

	ta.tmux.mu.Lock()
	assert.Equal(t, []string{"claude Enter"}, ta.tmux.keys)
	ta.tmux.mu.Unlock()

	res, body = ta.do(t, http.MethodGet, "/api/sessions/"+created.SessionID+"/output?lines=10", p.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Contains(t, string(body), "echo hi")

	res, _ = ta.do(t, http.MethodDelete, "/api/sessions/"+created.SessionID, p.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = ta.do(t, http.MethodDelete, "/api/sessions/"+created.SessionID, p.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestApp_PluginsAndTunnel(t *testing.T) {
	ta := newTestApp(t, nil)
	p := ta.login(t)

	res, body := ta.do(t, http.MethodGet, "/api/plugins/claude-code/health", p.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Contains(t, string(body), "claude CLI not found in PATH")

	res, body = ta.do(t, http.MethodGet, "/api/tunnel", p.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.JSONEq(t, `{"session_url":null,"previews":[]}`, string(body))
}

func TestApp_MetricsEndpoint(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.login(t)

	res, body := ta.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `arc4de_auth_login_attempts_total{result="success"} 1`)

	off := newTestApp(t, func(c *Config) { c.MetricsEnabled = false })
	res, _ = off.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestApp_CORS(t *testing.T) {
	ta := newTestApp(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ta.srv.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5175")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "http://localhost:5175", res.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ta.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestNew_BoltBackend(t *testing.T) {
	path := t.TempDir() + "/state.db"
	ta := newTestApp(t, func(c *Config) {
		c.RevocationBackend = BackendBolt
		c.StateFile = path
	})
	p := ta.login(t)

	res, _ := ta.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": p.RefreshToken})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = ta.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": p.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
