package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "arc4de"
	dbHealthPeriod    = 30 * time.Second
	readyDBTimeout    = 2 * time.Second
)

// revocationPoolConfig maps the ARC4DE_DB_* settings onto a pool config.
// Values in DATABASE_URL (pool_max_conns and friends) are overridden only
// where the env sets something.
func revocationPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s_DATABASE_URL: %v", ErrConfig, EnvPrefix, err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if cfg.DBConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout
	}
	pcfg.HealthCheckPeriod = dbHealthPeriod
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// NewDBPool opens the pool behind the postgres revocation backend and fails
// fast when the database cannot be reached within the connect timeout.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := revocationPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, nonZeroDuration(cfg.DBConnectTimeout, 5*time.Second))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("revocation db: %w", err)
	}
	return pool, nil
}

// checkRevocationDB is the /readyz check for the postgres backend. It
// returns "" when no pool is configured.
func (a *App) checkRevocationDB(ctx context.Context) (string, error) {
	if a.pool == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, readyDBTimeout)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		return "unreachable", err
	}
	return "ok", nil
}
