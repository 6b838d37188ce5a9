// Package ledger keeps a history of split and report runs. Postgres and
// SQLite back it; an empty DSN disables it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRun = errors.New("invalid run")

// Run kinds.
const (
	KindSplit  = "split"
	KindReport = "report"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one recorded unit of work: a bulk-document split or one report.
type Run struct {
	ID         uuid.UUID `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Kind       string    `json:"kind"`
	Date       string    `json:"date"`
	Subject    string    `json:"subject"`
	Artifact   string    `json:"artifact,omitempty"`
	Pages      int       `json:"pages"`
	Misses     int       `json:"misses"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Validate checks the fields every store requires and assigns an ID when
// missing.
func (r *Run) Validate() error {
	if r.Kind != KindSplit && r.Kind != KindReport {
		return fmt.Errorf("%w: kind %q", ErrInvalidRun, r.Kind)
	}
	if r.Date == "" {
		return fmt.Errorf("%w: date is required", ErrInvalidRun)
	}
	if r.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidRun)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt
	}
	return nil
}

// Store records runs and lists them newest first. An empty date lists every
// date.
type Store interface {
	Record(ctx context.Context, r *Run) error
	List(ctx context.Context, date string, limit, offset int) ([]*Run, int, error)
	Ping(ctx context.Context) error
	Close() error
}

type Options struct {
	DSN           string
	Schema        string
	MigrationsDir string
	MaxConns      int32
}

// Open picks the backend from the DSN: empty disables the ledger, a
// postgres:// URL selects Postgres and anything else is a SQLite file path.
func Open(ctx context.Context, opts Options) (Store, error) {
	dsn := strings.TrimSpace(opts.DSN)
	switch {
	case dsn == "":
		return Nop{}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPGStore(ctx, dsn, opts.Schema, opts.MigrationsDir, opts.MaxConns)
	default:
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// Nop discards every run.
type Nop struct{}

func (Nop) Record(context.Context, *Run) error { return nil }

func (Nop) List(context.Context, string, int, int) ([]*Run, int, error) { return nil, 0, nil }

func (Nop) Ping(context.Context) error { return nil }

func (Nop) Close() error { return nil }
