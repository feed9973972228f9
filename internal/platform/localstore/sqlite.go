package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS health_metrics (
		id          TEXT PRIMARY KEY,
		metric_type TEXT NOT NULL,
		value       REAL NOT NULL,
		unit        TEXT,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_health_metrics_recorded_at ON health_metrics(recorded_at DESC);
`

// sqliteTimeLayout is fixed-width so recorded_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteTrim = `
	DELETE FROM health_metrics WHERE id NOT IN (
		SELECT id FROM health_metrics ORDER BY recorded_at DESC LIMIT ?
	)`

// SQLiteBackend persists readings in an embedded SQLite database.
type SQLiteBackend struct {
	db    *sql.DB
	limit int
}

// NewSQLiteBackend wraps an open database handle (see db.OpenSQLite).
func NewSQLiteBackend(conn *sql.DB, limit int) *SQLiteBackend {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &SQLiteBackend{db: conn, limit: limit}
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

func (s *SQLiteBackend) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create health_metrics: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Load(ctx context.Context, limit int) ([]metric.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, metric_type, value, unit, recorded_at
		FROM health_metrics ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query health_metrics: %w", err)
	}
	defer rows.Close()

	var out []metric.Reading
	for rows.Next() {
		var (
			r          metric.Reading
			id         string
			unit       sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&id, &r.Kind, &r.Value, &unit, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan health_metrics: %w", err)
		}
		r.ID = metric.ID(id)
		if unit.Valid {
			u := unit.String
			r.Unit = &u
		}
		if r.RecordedAt, err = time.Parse(sqliteTimeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health_metrics: %w", err)
	}
	return out, nil
}

func (s *SQLiteBackend) ReplaceAll(ctx context.Context, readings []metric.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM health_metrics`); err != nil {
		return fmt.Errorf("clear health_metrics: %w", err)
	}
	for _, r := range readings {
		if err := sqliteUpsert(ctx, tx, r); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, sqliteTrim, s.limit); err != nil {
		return fmt.Errorf("trim health_metrics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) UpsertOne(ctx context.Context, r metric.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := sqliteUpsert(ctx, tx, r); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqliteTrim, s.limit); err != nil {
		return fmt.Errorf("trim health_metrics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM health_metrics`); err != nil {
		return fmt.Errorf("clear health_metrics: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Close() error { return s.db.Close() }

func sqliteUpsert(ctx context.Context, tx *sql.Tx, r metric.Reading) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO health_metrics (id, metric_type, value, unit, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			metric_type = excluded.metric_type,
			value = excluded.value,
			unit = excluded.unit,
			recorded_at = excluded.recorded_at`,
		r.ID.String(), r.Kind, r.Value, r.Unit, r.RecordedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("upsert reading %s: %w", r.ID, err)
	}
	return nil
}
