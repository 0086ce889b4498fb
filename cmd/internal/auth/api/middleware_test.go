package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAuth(t *testing.T) {
	h := newHarness(t)
	p := h.login(t)

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing", "", http.StatusUnauthorized, "Missing Authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "Invalid Authorization header format"},
		{"no token", "Bearer", http.StatusUnauthorized, "Invalid Authorization header format"},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized, "Invalid or expired token"},
		{"refresh token", "Bearer " + p.RefreshToken, http.StatusUnauthorized, "Invalid or expired token"},
		{"access token", "Bearer " + p.AccessToken, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + p.AccessToken, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/api/private", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			res, body := do(t, req)
			require.Equal(t, tt.status, res.StatusCode, string(body))
			if tt.status == http.StatusOK {
				assert.Equal(t, "owner", string(body))
				return
			}
			assert.Equal(t, "Bearer", res.Header.Get("WWW-Authenticate"))
			_, msg := decodeError(t, body)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")

	if got := clientIP(r, false); got.String() != "10.0.0.5" {
		t.Fatalf("untrusted clientIP = %v", got)
	}
	if got := clientIP(r, true); got.String() != "203.0.113.9" {
		t.Fatalf("trusted clientIP = %v", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r, true); got.String() != "198.51.100.2" {
		t.Fatalf("X-Real-IP clientIP = %v", got)
	}

	r.RemoteAddr = "garbage"
	r.Header.Del("X-Real-IP")
	if got := clientIP(r, true); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
