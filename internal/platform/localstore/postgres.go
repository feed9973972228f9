package localstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const pgSchema = `
	CREATE TABLE IF NOT EXISTS health_metrics (
		id          TEXT PRIMARY KEY,
		metric_type TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		unit        TEXT,
		recorded_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_health_metrics_recorded_at ON health_metrics (recorded_at DESC);
`

const pgUpsert = `
	INSERT INTO health_metrics (id, metric_type, value, unit, recorded_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		metric_type = EXCLUDED.metric_type,
		value = EXCLUDED.value,
		unit = EXCLUDED.unit,
		recorded_at = EXCLUDED.recorded_at`

const pgTrim = `
	DELETE FROM health_metrics WHERE id NOT IN (
		SELECT id FROM health_metrics ORDER BY recorded_at DESC LIMIT $1
	)`

// PostgresBackend persists readings in a Postgres table, for deployments
// where several processes share one cache (kiosks, test rigs).
type PostgresBackend struct {
	pool  *pgxpool.Pool
	limit int
}

// NewPostgresBackend wraps a pool created with db.NewPool.
func NewPostgresBackend(pool *pgxpool.Pool, limit int) *PostgresBackend {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PostgresBackend{pool: pool, limit: limit}
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Init(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("create health_metrics: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Load(ctx context.Context, limit int) ([]metric.Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, metric_type, value, unit, recorded_at
		FROM health_metrics ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query health_metrics: %w", err)
	}
	defer rows.Close()

	var out []metric.Reading
	for rows.Next() {
		var (
			r  metric.Reading
			id string
		)
		if err := rows.Scan(&id, &r.Kind, &r.Value, &r.Unit, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan health_metrics: %w", err)
		}
		r.ID = metric.ID(id)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health_metrics: %w", err)
	}
	return out, nil
}

func (p *PostgresBackend) ReplaceAll(ctx context.Context, readings []metric.Reading) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM health_metrics`); err != nil {
			return fmt.Errorf("clear health_metrics: %w", err)
		}
		for _, r := range readings {
			if err := pgUpsertOne(ctx, tx, r); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, pgTrim, p.limit); err != nil {
			return fmt.Errorf("trim health_metrics: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) UpsertOne(ctx context.Context, r metric.Reading) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := pgUpsertOne(ctx, tx, r); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, pgTrim, p.limit); err != nil {
			return fmt.Errorf("trim health_metrics: %w", err)
		}
		return nil
	})
}

func (p *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM health_metrics`); err != nil {
		return fmt.Errorf("clear health_metrics: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func pgUpsertOne(ctx context.Context, q queryable, r metric.Reading) error {
	if _, err := q.Exec(ctx, pgUpsert, r.ID.String(), r.Kind, r.Value, r.Unit, r.RecordedAt.UTC()); err != nil {
		return fmt.Errorf("upsert reading %s: %w", r.ID, err)
	}
	return nil
}
