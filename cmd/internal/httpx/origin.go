package httpx

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ErrOriginRejected is wrapped by every OriginPolicy.Check failure.
var ErrOriginRejected = errors.New("origin rejected")

// OriginPolicy is an allow-list of browser origins shared by CORS and the
// websocket upgrade. Entries are scheme://host[:port]; a port of "*" matches
// any port and a bare "*" matches every origin.
type OriginPolicy struct {
	rules []originRule
}

type originRule struct {
	any    bool
	scheme string
	host   string
	port   string
}

// NewOriginPolicy parses allowed, skipping blank or malformed entries.
func NewOriginPolicy(allowed []string) OriginPolicy {
	rules := make([]originRule, 0, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			rules = append(rules, originRule{any: true})
			continue
		}
		scheme, host, port, ok := splitOrigin(a)
		if !ok {
			continue
		}
		rules = append(rules, originRule{scheme: scheme, host: host, port: port})
	}
	return OriginPolicy{rules: rules}
}

// Empty reports whether no origin is allowed.
func (p OriginPolicy) Empty() bool { return len(p.rules) == 0 }

// Allows reports whether origin matches an entry.
func (p OriginPolicy) Allows(origin string) bool {
	scheme, host, port, ok := splitOrigin(origin)
	if !ok {
		return false
	}
	for _, rule := range p.rules {
		if rule.allows(scheme, host, port) {
			return true
		}
	}
	return false
}

// Check rejects requests whose Origin header is outside the allow-list.
// Requests without an Origin header pass unless required.
func (p OriginPolicy) Check(r *http.Request, required bool) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if required {
			return fmt.Errorf("%w: missing origin", ErrOriginRejected)
		}
		return nil
	}
	if p.Empty() {
		return fmt.Errorf("%w: no allowlist", ErrOriginRejected)
	}
	if !p.Allows(origin) {
		return fmt.Errorf("%w: %s", ErrOriginRejected, origin)
	}
	return nil
}

// Patterns derives websocket.AcceptOptions.OriginPatterns, which are matched
// against the origin's host[:port], so Accept agrees with Check.
func (p OriginPolicy) Patterns() []string {
	seen := make(map[string]struct{}, len(p.rules))
	for _, r := range p.rules {
		if r.any {
			return []string{"*"}
		}
		seen[net.JoinHostPort(r.host, r.port)] = struct{}{}
		if r.port == defaultPort(r.scheme) {
			seen[r.host] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// splitOrigin accepts scheme://host[:port] where port may be "*".
func splitOrigin(s string) (scheme, host, port string, ok bool) {
	s = strings.TrimSpace(s)
	u, err := url.Parse(strings.Replace(s, ":*", ":0", 1))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", "", false
	}
	host, port = u.Hostname(), u.Port()
	if strings.HasSuffix(s, ":*") {
		port = "*"
	}
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	return strings.ToLower(u.Scheme), strings.ToLower(host), port, true
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return "443"
	default:
		return "80"
	}
}

func (r originRule) allows(scheme, host, port string) bool {
	if r.any {
		return true
	}
	return r.scheme == scheme && r.host == host && (r.port == "*" || r.port == port)
}
