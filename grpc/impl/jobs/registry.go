package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/visionex-project/pagetrans/pkg/apperr"
)

// ErrActiveJob is returned when a job with the same name is still queued or running.
var ErrActiveJob = errors.New("job with the same name is already queued or running")

// Registry is the durable source of truth for job status. Every method is a single
// statement, so readers never observe a half-applied change.
type Registry interface {
	// Insert stores job as NotTranslated with the next submission sequence number. A
	// finished job with the same name is replaced; an active one yields ErrActiveJob.
	Insert(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, name string) (Job, error)
	// List returns jobs ordered by submission, optionally restricted to one status.
	List(ctx context.Context, filter *Status) ([]Job, error)
	Delete(ctx context.Context, name string) error
	// Transition moves name to status `to` only if its current status is a valid source
	// for it. It reports whether the row changed.
	Transition(ctx context.Context, name string, to Status, message string) (bool, error)
	// ResetInterrupted moves every Translating row back to NotTranslated.
	ResetInterrupted(ctx context.Context) (int64, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	name               TEXT PRIMARY KEY,
	seq                INTEGER NOT NULL,
	source_path        TEXT NOT NULL,
	output_path        TEXT NOT NULL,
	status             INTEGER NOT NULL,
	from_lang          TEXT NOT NULL,
	to_lang            TEXT NOT NULL,
	translate_all      INTEGER NOT NULL,
	page_from          INTEGER NOT NULL,
	page_to            INTEGER NOT NULL,
	render_mode        TEXT NOT NULL,
	add_boundary_pages INTEGER NOT NULL,
	error              TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_seq ON jobs (status, seq);
`

const jobColumns = `name, seq, source_path, output_path, status, from_lang, to_lang, translate_all,
	page_from, page_to, render_mode, add_boundary_pages, error, created_at, updated_at`

type SQLiteRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the registry database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRegistry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Persistence("jobs.OpenSQLite", "failed to open registry %s: %w", path, err)
	}
	// A single connection serialises writers; SQLite allows one at a time anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Persistence("jobs.OpenSQLite", "registry %s is unavailable: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperr.Persistence("jobs.OpenSQLite", "failed to migrate registry %s: %w", path, err)
	}
	return &SQLiteRegistry{db: db, now: time.Now}, nil
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func (r *SQLiteRegistry) Insert(ctx context.Context, job Job) (Job, error) {
	now := r.now().UTC()
	terminal := statusList(StatusTranslated, StatusFailed, StatusCancelled)

	// The SELECT needs a WHERE clause so SQLite parses ON CONFLICT as an upsert.
	query := `
INSERT INTO jobs (` + jobColumns + `)
SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?
FROM jobs WHERE true
ON CONFLICT (name) DO UPDATE SET
	seq = excluded.seq,
	source_path = excluded.source_path,
	output_path = excluded.output_path,
	status = excluded.status,
	from_lang = excluded.from_lang,
	to_lang = excluded.to_lang,
	translate_all = excluded.translate_all,
	page_from = excluded.page_from,
	page_to = excluded.page_to,
	render_mode = excluded.render_mode,
	add_boundary_pages = excluded.add_boundary_pages,
	error = '',
	created_at = excluded.created_at,
	updated_at = excluded.updated_at
WHERE jobs.status IN (` + terminal + `)
RETURNING seq`

	err := r.db.QueryRowContext(ctx, query,
		job.Name,
		job.SourcePath,
		job.OutputPath,
		int(StatusNotTranslated),
		job.Params.FromLang,
		job.Params.ToLang,
		job.Params.TranslateAll,
		job.Params.PageFrom,
		job.Params.PageTo,
		job.Params.RenderMode,
		job.Params.AddBoundaryPages,
		now.UnixNano(),
		now.UnixNano(),
	).Scan(&job.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrActiveJob
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindPersistence, "jobs.Insert", err)
	}

	job.Status = StatusNotTranslated
	job.Error = ""
	job.CreatedAt = now
	job.UpdatedAt = now
	return job, nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, name string) (Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, apperr.NotFound("jobs.Get", "job %q does not exist", name)
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindPersistence, "jobs.Get", err)
	}
	return job, nil
}

func (r *SQLiteRegistry) List(ctx context.Context, filter *Status) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if filter != nil {
		query += ` WHERE status = ?`
		args = append(args, int(*filter))
	}
	query += ` ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "jobs.List", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "jobs.List", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "jobs.List", err)
	}
	return jobs, nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE name = ?`, name); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "jobs.Delete", err)
	}
	return nil
}

func (r *SQLiteRegistry) Transition(ctx context.Context, name string, to Status, message string) (bool, error) {
	query := `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE name = ? AND status IN (` + statusList(sourcesOf(to)...) + `)`
	result, err := r.db.ExecContext(ctx, query, int(to), message, r.now().UTC().UnixNano(), name)
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistence, "jobs.Transition", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistence, "jobs.Transition", err)
	}
	return affected == 1, nil
}

func (r *SQLiteRegistry) ResetInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		int(StatusNotTranslated), r.now().UTC().UnixNano(), int(StatusTranslating),
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "jobs.ResetInterrupted", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var job Job
	var status int
	var createdAt, updatedAt int64
	err := row.Scan(
		&job.Name,
		&job.Seq,
		&job.SourcePath,
		&job.OutputPath,
		&status,
		&job.Params.FromLang,
		&job.Params.ToLang,
		&job.Params.TranslateAll,
		&job.Params.PageFrom,
		&job.Params.PageTo,
		&job.Params.RenderMode,
		&job.Params.AddBoundaryPages,
		&job.Error,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return job, nil
}

// statusList renders statuses as a literal SQL list. Values are our own integers, never user input.
func statusList(statuses ...Status) string {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = fmt.Sprint(int(status))
	}
	return strings.Join(values, ", ")
}
