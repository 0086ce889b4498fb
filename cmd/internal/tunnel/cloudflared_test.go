package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCloudflared(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "cloudflared")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestParseURL(t *testing.T) {
	line := `2026-01-01T00:00:00Z INF |  https://quiet-river-1234.trycloudflare.com  |`
	u, ok := ParseURL(line)
	require.True(t, ok)
	assert.Equal(t, "https://quiet-river-1234.trycloudflare.com", u)

	_, ok = ParseURL("INF Starting tunnel")
	assert.False(t, ok)
}

func TestCloudflaredLaunchAndStop(t *testing.T) {
	bin := fakeCloudflared(t, `
echo "INF Requesting new quick Tunnel" >&2
echo "INF |  https://test-tunnel.trycloudflare.com  |" >&2
exec sleep 30
`)
	c := Cloudflared{Binary: bin, URLTimeout: 5 * time.Second, Log: quietLogger()}

	p, err := c.Launch(context.Background(), 3000)
	require.NoError(t, err)
	assert.Equal(t, "https://test-tunnel.trycloudflare.com", p.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, p.Stop(ctx))
	assert.Less(t, time.Since(start), stopGrace)
	require.NoError(t, p.Stop(ctx))
}

func TestCloudflaredExitsWithoutURL(t *testing.T) {
	bin := fakeCloudflared(t, `echo "ERR failed to request tunnel" >&2; exit 1`)
	c := Cloudflared{Binary: bin, URLTimeout: 5 * time.Second, Log: quietLogger()}
	_, err := c.Launch(context.Background(), 3000)
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestCloudflaredURLTimeout(t *testing.T) {
	bin := fakeCloudflared(t, `exec sleep 30`)
	c := Cloudflared{Binary: bin, URLTimeout: 200 * time.Millisecond, Log: quietLogger()}
	start := time.Now()
	_, err := c.Launch(context.Background(), 3000)
	assert.ErrorIs(t, err, ErrNoURL)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCloudflaredMissingBinary(t *testing.T) {
	c := Cloudflared{Binary: filepath.Join(t.TempDir(), "nope"), Log: quietLogger()}
	_, err := c.Launch(context.Background(), 3000)
	assert.Error(t, err)
}
