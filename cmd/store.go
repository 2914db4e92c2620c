package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/geodb"
)

func initStore(ctx context.Context) (docstore.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return docstore.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "spatialdb.db"
		}
		return docstore.NewSQLite(dsn)
	case "postgres":
		return docstore.NewPostgres(ctx, cfg.Store.DatabaseURL, &docstore.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// session is an open store with the index built over it.
type session struct {
	store docstore.Store
	db    *geodb.DB
}

// openSession validates the config for mode, opens and migrates the store,
// and rebuilds the index from it.
func openSession(ctx context.Context, mode string) (*session, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	db, err := geodb.Open(ctx, st, geodb.Options{
		MaxEntries:         cfg.Index.MaxEntries,
		RefetchConcurrency: cfg.Load.RefetchConcurrency,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &session{store: st, db: db}, nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("close index", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func printResult(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(v)
	default:
		return eris.Errorf("unsupported output format: %s", format)
	}
}
