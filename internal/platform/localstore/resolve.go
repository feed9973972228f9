package localstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/config"
	"github.com/thrive/vitalsync/internal/platform/db"
)

// Options select and configure a backend.
type Options struct {
	Backend     string // auto, sqlite, postgres or memory
	Path        string // SQLite file path
	DatabaseURL string // Postgres URL
	MaxConns    int32
	MinConns    int32
	Limit       int
}

// OptionsFromConfig maps loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Backend:     cfg.StoreBackend,
		Path:        cfg.StorePath,
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		Limit:       cfg.CacheLimit,
	}
}

// Resolve opens the backend named by opts. In auto mode it prefers SQLite
// and falls back to memory when the file cannot be opened. The decision is
// made here, once; the returned backend is injected into New.
func Resolve(ctx context.Context, opts Options, logger zerolog.Logger) (Backend, error) {
	switch opts.Backend {
	case config.BackendMemory:
		return NewMemoryBackend(opts.Limit), nil

	case config.BackendSQLite:
		conn, err := db.OpenSQLite(ctx, opts.Path)
		if err != nil {
			return nil, &StoreError{Op: "open", Backend: "sqlite", Err: err}
		}
		return NewSQLiteBackend(conn, opts.Limit), nil

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, opts.DatabaseURL, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, &StoreError{Op: "open", Backend: "postgres", Err: err}
		}
		return NewPostgresBackend(pool, opts.Limit), nil

	case config.BackendAuto, "":
		conn, err := db.OpenSQLite(ctx, opts.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", opts.Path).Msg("durable store unavailable, using memory")
			return NewMemoryBackend(opts.Limit), nil
		}
		backend := NewSQLiteBackend(conn, opts.Limit)
		// Probe the schema now so a read-only location also falls back.
		if err := backend.Init(ctx); err != nil {
			conn.Close()
			logger.Warn().Err(err).Str("path", opts.Path).Msg("durable store not writable, using memory")
			return NewMemoryBackend(opts.Limit), nil
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
