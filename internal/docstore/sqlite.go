package docstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*engine
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// fetchChunk bounds the number of bound parameters per IN query.
const fetchChunk = 500

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db}
	s.engine = &engine{b: s}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS features (
	id         TEXT PRIMARY KEY,
	rev        TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_features_deleted ON features(deleted);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTxn struct {
	tx *sql.Tx
}

func (t *sqliteTxn) load(ctx context.Context, id string) (*record, error) {
	var r record
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, rev, deleted, body FROM features WHERE id = ?`, id,
	).Scan(&r.ID, &r.Rev, &r.Deleted, &r.Body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s", id)
	}
	return &r, nil
}

func (t *sqliteTxn) save(ctx context.Context, r record) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO features (id, rev, deleted, body, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET rev = excluded.rev, deleted = excluded.deleted,
		 body = excluded.body, updated_at = excluded.updated_at`,
		r.ID, r.Rev, r.Deleted, string(r.Body), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save %s", r.ID)
}

func (s *SQLiteStore) update(ctx context.Context, fn func(tx txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTxn{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) fetch(ctx context.Context, ids []string) (map[string]record, error) {
	out := make(map[string]record, len(ids))
	for start := 0; start < len(ids); start += fetchChunk {
		chunk := ids[start:min(start+fetchChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, rev, deleted, body FROM features WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: fetch")
		}
		recs, err := scanRecords(rows)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out[r.ID] = r
		}
	}
	return out, nil
}

func (s *SQLiteStore) scan(ctx context.Context) ([]record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rev, deleted, body FROM features WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan")
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]record, error) {
	defer rows.Close()

	var out []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.ID, &r.Rev, &r.Deleted, &r.Body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}
