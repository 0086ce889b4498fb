package plugins

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func found(string) (string, error)   { return "/usr/local/bin/claude", nil }
func missing(string) (string, error) { return "", errors.New("not found") }

func TestRegistry_RegisterGetList(t *testing.T) {
	r, err := NewDefaultRegistry(found)
	require.NoError(t, err)

	names := []string{}
	for _, p := range r.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"shell", "claude-code"}, names)

	p, err := r.Get("claude-code")
	require.NoError(t, err)
	assert.Equal(t, "claude", p.Command)
	assert.Len(t, p.QuickActions, 3)

	_, err = r.Get("vim")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RejectsDuplicateAndNameless(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Shell()))
	assert.ErrorIs(t, r.Register(Shell()), ErrDuplicate)
	assert.ErrorIs(t, r.Register(Plugin{Name: "  "}), ErrInvalid)
}

func TestHealth(t *testing.T) {
	assert.True(t, Shell().Health().Available)
	assert.Nil(t, Shell().Health().Message)

	assert.True(t, ClaudeCode(found).Health().Available)

	h := ClaudeCode(missing).Health()
	assert.False(t, h.Available)
	require.NotNil(t, h.Message)
	assert.Equal(t, "claude CLI not found in PATH", *h.Message)
}

func TestRoutes(t *testing.T) {
	r, err := NewDefaultRegistry(missing)
	require.NoError(t, err)
	srv := httptest.NewServer(r.Routes())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	var list []Info
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	res.Body.Close()
	require.Len(t, list, 2)
	assert.Equal(t, "shell", list[0].Name)
	assert.Equal(t, []QuickAction{{Label: "Clear", Command: "clear", Icon: "trash"}, {Label: "Exit", Command: "exit", Icon: "x"}}, list[0].QuickActions)
	assert.False(t, list[1].Health.Available)

	res, err = http.Get(srv.URL + "/claude-code/health")
	require.NoError(t, err)
	var h Health
	require.NoError(t, json.NewDecoder(res.Body).Decode(&h))
	res.Body.Close()
	assert.False(t, h.Available)

	res, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
