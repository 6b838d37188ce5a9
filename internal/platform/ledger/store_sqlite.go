package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS report_runs (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	date        TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	artifact    TEXT NOT NULL DEFAULT '',
	pages       INTEGER NOT NULL DEFAULT 0,
	misses      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_report_runs_date ON report_runs (date, started_at);
`

// SQLiteStore keeps the ledger in a single local file.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteTime keeps a fixed width so text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteRun is the row shape; times are stored as UTC text.
type sqliteRun struct {
	ID         string `db:"id"`
	RunID      string `db:"run_id"`
	Kind       string `db:"kind"`
	Date       string `db:"date"`
	Subject    string `db:"subject"`
	Artifact   string `db:"artifact"`
	Pages      int    `db:"pages"`
	Misses     int    `db:"misses"`
	Status     string `db:"status"`
	Detail     string `db:"detail"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
}

func toRow(r *Run) sqliteRun {
	return sqliteRun{
		ID: r.ID.String(), RunID: r.RunID, Kind: r.Kind, Date: r.Date,
		Subject: r.Subject, Artifact: r.Artifact, Pages: r.Pages, Misses: r.Misses,
		Status: r.Status, Detail: r.Detail,
		StartedAt:  r.StartedAt.UTC().Format(sqliteTime),
		FinishedAt: r.FinishedAt.UTC().Format(sqliteTime),
	}
}

func (row sqliteRun) toRun() (*Run, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", row.ID, err)
	}
	started, err := time.Parse(sqliteTime, row.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	finished, err := time.Parse(sqliteTime, row.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &Run{
		ID: id, RunID: row.RunID, Kind: row.Kind, Date: row.Date,
		Subject: row.Subject, Artifact: row.Artifact, Pages: row.Pages, Misses: row.Misses,
		Status: row.Status, Detail: row.Detail, StartedAt: started, FinishedAt: finished,
	}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, r *Run) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO report_runs (id, run_id, kind, date, subject, artifact, pages, misses, status, detail, started_at, finished_at)
		VALUES (:id, :run_id, :kind, :date, :subject, :artifact, :pages, :misses, :status, :detail, :started_at, :finished_at)`,
		toRow(r))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, date string, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM report_runs WHERE (? = '' OR date = ?)`, date, date); err != nil {
		return nil, 0, err
	}
	var rows []sqliteRun
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM report_runs WHERE (? = '' OR date = ?)
		ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`, date, date, limit, offset); err != nil {
		return nil, 0, err
	}
	items := make([]*Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRun()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
