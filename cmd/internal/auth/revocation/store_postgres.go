package revocation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sectoken "arc4de/cmd/security/token"
)

// Postgres is a Store backed by PostgreSQL.
//
// Ownership model:
// - Postgres does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	digest sectoken.Digester
	now    func() time.Time
}

// PostgresOption configures Postgres behavior.
type PostgresOption func(*Postgres) error

// WithSchema sets the DB schema used by this store (default: "arc4de").
func WithSchema(schema string) PostgresOption {
	return func(s *Postgres) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return errors.New("revocation: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgres constructs a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool, digest sectoken.Digester, opts ...PostgresOption) (*Postgres, error) {
	st := &Postgres{
		pool:   pool,
		schema: "arc4de",
		digest: digest,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("revocation: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and table if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table()+` (
		jti_hash   text PRIMARY KEY,
		expires_at timestamptz NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`)
	return err
}

func (s *Postgres) Close() error { return nil }

func (s *Postgres) Activate(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (jti_hash, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		s.digest.Digest(jti), nullableTime(expiresAt),
	)
	return err
}

func (s *Postgres) IsActive(ctx context.Context, jti string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+`
		 WHERE jti_hash = $1 AND (expires_at IS NULL OR expires_at > $2))`,
		s.digest.Digest(jti), s.now().UTC(),
	).Scan(&active)
	return active, err
}

func (s *Postgres) Revoke(ctx context.Context, jti string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE jti_hash = $1`, s.digest.Digest(jti))
	return err
}

// Rotate deletes the old row and inserts the new one in a single transaction.
// The row lock taken by DELETE makes a racing rotation wait, then observe zero
// affected rows.
func (s *Postgres) Rotate(ctx context.Context, oldJTI, newJTI string, newExpiresAt time.Time) error {
	if oldJTI == "" || newJTI == "" {
		return ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+s.table()+`
		 WHERE jti_hash = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		s.digest.Digest(oldJTI), s.now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotActive
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table()+` (jti_hash, expires_at) VALUES ($1, $2)`,
		s.digest.Digest(newJTI), nullableTime(newExpiresAt),
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Prune deletes expired rows and reports how many were removed.
func (s *Postgres) Prune(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		s.now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) table() string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
