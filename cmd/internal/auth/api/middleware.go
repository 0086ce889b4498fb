package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"arc4de/cmd/internal/auth/token"
)

type claimsKey struct{}

// ClaimsFromContext returns the access claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(token.Claims)
	return c, ok
}

// RequireAuth rejects requests without a valid access token in the
// Authorization header.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if raw == "" {
			h.unauthorized(w, "unauthorized", "Missing Authorization header")
			return
		}
		tok, ok := bearerToken(raw)
		if !ok {
			h.unauthorized(w, "unauthorized", "Invalid Authorization header format")
			return
		}
		claims, err := h.tokens.VerifyAccess(tok, h.now())
		if err != nil {
			h.unauthorized(w, "unauthorized", "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearerToken(raw string) (string, bool) {
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// clientIP prefers proxy headers only when the deployment says a proxy is trusted.
func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
