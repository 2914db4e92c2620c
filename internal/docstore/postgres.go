package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	*engine
	pool Pool
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool), nil
}

func newPostgresWithPool(pool Pool) *PostgresStore {
	s := &PostgresStore{pool: pool}
	s.engine = &engine{b: s}
	return s
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS features (
	id         TEXT PRIMARY KEY,
	rev        TEXT NOT NULL,
	deleted    BOOLEAN NOT NULL DEFAULT false,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_features_live ON features(id) WHERE NOT deleted;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTxn struct {
	tx pgx.Tx
}

func (t *pgTxn) load(ctx context.Context, id string) (*record, error) {
	var r record
	err := t.tx.QueryRow(ctx,
		`SELECT id, rev, deleted, body FROM features WHERE id = $1 FOR UPDATE`, id,
	).Scan(&r.ID, &r.Rev, &r.Deleted, &r.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s", id)
	}
	return &r, nil
}

func (t *pgTxn) save(ctx context.Context, r record) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO features (id, rev, deleted, body, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET rev = EXCLUDED.rev, deleted = EXCLUDED.deleted,
		 body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		r.ID, r.Rev, r.Deleted, r.Body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save %s", r.ID)
}

func (s *PostgresStore) update(ctx context.Context, fn func(tx txn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTxn{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) fetch(ctx context.Context, ids []string) (map[string]record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rev, deleted, body FROM features WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch")
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]record, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out, nil
}

func (s *PostgresStore) scan(ctx context.Context) ([]record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rev, deleted, body FROM features WHERE NOT deleted ORDER BY id COLLATE "C"`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan")
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]record, error) {
	defer rows.Close()

	var out []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.ID, &r.Rev, &r.Deleted, &r.Body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}
