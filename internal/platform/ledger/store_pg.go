package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbm/medreport/internal/platform/db"
)

type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGStore connects, creates the schema and applies the migrations in
// migrationsDir before returning.
func NewPGStore(ctx context.Context, dsn, schema, migrationsDir string, maxConns int32) (*PGStore, error) {
	if schema == "" {
		schema = "medreport"
	}
	if err := db.ValidSchema(schema); err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, dsn, db.PoolOptions{MaxConns: maxConns})
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureSchema(ctx, pool, schema, migrationsDir); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool, table: schema + ".report_runs"}, nil
}

// Pool exposes the connection pool for health reporting.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

const runCols = `id, run_id, kind, date, subject, artifact, pages, misses, status, detail, started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.RunID, &r.Kind, &r.Date, &r.Subject, &r.Artifact,
		&r.Pages, &r.Misses, &r.Status, &r.Detail, &r.StartedAt, &r.FinishedAt)
	return &r, err
}

func (s *PGStore) Record(ctx context.Context, r *Run) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (`+runCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RunID, r.Kind, r.Date, r.Subject, r.Artifact,
		r.Pages, r.Misses, r.Status, r.Detail, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, date string, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+s.table+` WHERE ($1 = '' OR date = $1)`, date,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runCols+` FROM `+s.table+` WHERE ($1 = '' OR date = $1)
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, date, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
