package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"arc4de/cmd/internal/auth/guard"
	"arc4de/cmd/internal/auth/token"
	"arc4de/cmd/internal/sessions"
	"arc4de/cmd/internal/terminal"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "ARC4DE"

// DefaultJWTSecret is accepted but logged as a warning at startup.
const DefaultJWTSecret = "change-me-in-production"

// Revocation backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// ErrConfig is wrapped by every Validate failure.
var ErrConfig = errors.New("invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8000"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	TrustProxy        bool          `envconfig:"TRUST_PROXY" default:"false"`

	JWTSecret   string        `envconfig:"JWT_SECRET" default:"change-me-in-production"`
	TokenFormat string        `envconfig:"TOKEN_FORMAT" default:"jwt"`
	AccessTTL   time.Duration `envconfig:"ACCESS_TTL" default:"15m"`
	RefreshTTL  time.Duration `envconfig:"REFRESH_TTL" default:"168h"`
	TokenLeeway time.Duration `envconfig:"TOKEN_LEEWAY" default:"0s"`

	AuthPassword     string `envconfig:"AUTH_PASSWORD" default:"changeme"`
	AuthPasswordHash string `envconfig:"AUTH_PASSWORD_HASH"`

	LoginMaxFailures int           `envconfig:"LOGIN_MAX_FAILURES" default:"5"`
	LoginWindow      time.Duration `envconfig:"LOGIN_WINDOW" default:"60s"`
	LoginLockout     time.Duration `envconfig:"LOGIN_LOCKOUT" default:"900s"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5175,http://localhost:3000"`

	RevocationBackend string        `envconfig:"REVOCATION_BACKEND" default:"memory"`
	StateFile         string        `envconfig:"STATE_FILE" default:"arc4de.db"`
	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	DBMaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	DBConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`

	TmuxBinary    string        `envconfig:"TMUX_BINARY" default:"tmux"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1h"`

	WSAuthTimeout time.Duration `envconfig:"WS_AUTH_TIMEOUT" default:"30s"`
	WSInputRate   float64       `envconfig:"WS_INPUT_RATE" default:"1000"`

	// WSOriginRequired rejects upgrades that carry no Origin header.
	WSOriginRequired bool `envconfig:"WS_ORIGIN_REQUIRED" default:"false"`

	TunnelEnabled     bool   `envconfig:"TUNNEL_ENABLED" default:"false"`
	PreviewEnabled    bool   `envconfig:"PREVIEW_ENABLED" default:"true"`
	CloudflaredBinary string `envconfig:"CLOUDFLARED_BINARY" default:"cloudflared"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// LoadConfig reads Config from ARC4DE_* variables and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Package-level policies are
// validated again by the packages that own them.
func (c Config) Validate() error {
	switch c.RevocationBackend {
	case BackendMemory:
	case BackendBolt:
		if strings.TrimSpace(c.StateFile) == "" {
			return fmt.Errorf("%w: %s_STATE_FILE is required for the bolt backend", ErrConfig, EnvPrefix)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: %s_DATABASE_URL is required for the postgres backend", ErrConfig, EnvPrefix)
		}
		if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("%w: %s_DB_MIN_CONNS exceeds %s_DB_MAX_CONNS", ErrConfig, EnvPrefix, EnvPrefix)
		}
	default:
		return fmt.Errorf("%w: unknown revocation backend %q", ErrConfig, c.RevocationBackend)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}
	if c.WSInputRate <= 0 {
		return fmt.Errorf("%w: %s_WS_INPUT_RATE must be positive", ErrConfig, EnvPrefix)
	}
	if err := c.TokenConfig().Validate(); err != nil {
		return fmt.Errorf("%w: token: %v", ErrConfig, err)
	}
	if err := c.GuardConfig().Validate(); err != nil {
		return fmt.Errorf("%w: login guard: %v", ErrConfig, err)
	}
	return nil
}

// TokenConfig derives the token authority policy.
func (c Config) TokenConfig() token.Config {
	tc := token.DefaultConfig()
	tc.Secret = c.JWTSecret
	tc.Format = strings.ToLower(strings.TrimSpace(c.TokenFormat))
	tc.AccessTTL = c.AccessTTL
	tc.RefreshTTL = c.RefreshTTL
	tc.ClockSkew = c.TokenLeeway
	return tc
}

// GuardConfig derives the login lockout policy.
func (c Config) GuardConfig() guard.Config {
	return guard.Config{
		MaxFailures: c.LoginMaxFailures,
		Window:      c.LoginWindow,
		Lockout:     c.LoginLockout,
	}
}

// SweeperConfig derives the expiry sweeper settings.
func (c Config) SweeperConfig() sessions.SweeperConfig {
	return sessions.SweeperConfig{
		Schedule: c.SweepSchedule,
		TTL:      c.SessionTTL,
	}
}

// GatewayConfig derives the terminal gateway settings.
func (c Config) GatewayConfig() terminal.Config {
	gc := terminal.DefaultConfig()
	gc.AuthTimeout = c.WSAuthTimeout
	gc.InputRate = c.WSInputRate
	gc.AllowedOrigins = c.AllowedOrigins
	gc.OriginRequired = c.WSOriginRequired
	gc.OwnPort = c.Port()
	return gc
}

// Port is the numeric port of HTTPAddr, or 0 when it cannot be determined.
func (c Config) Port() int {
	_, p, err := net.SplitHostPort(c.HTTPAddr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
