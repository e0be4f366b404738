package remediation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
)

// SQLiteJobStore persists jobs so the pipeline's state survives restarts.
type SQLiteJobStore struct {
	db *sql.DB
}

// OpenSQLiteJobStore opens or creates the job database at path.
func OpenSQLiteJobStore(path string) (*SQLiteJobStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve job db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure job db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open job db: %w", err)
	}

	store := &SQLiteJobStore{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteJobStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS remediation_jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	pr_url TEXT,
	repo TEXT,
	summary TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint_status ON remediation_jobs(fingerprint, status);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_completed ON remediation_jobs(tenant_id, completed_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create job schema: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remediation_jobs (id, tenant_id, entity_type, entity_id, fingerprint, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.TenantID, string(job.EntityType), job.EntityID, job.Fingerprint,
		string(job.Status), job.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, tenant_id, entity_type, entity_id, fingerprint, status,
	error, pr_url, repo, summary, started_at, completed_at`

func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM remediation_jobs
		WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteJobStore) PendingByFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM remediation_jobs
		WHERE fingerprint = ? AND status = 'pending'
		ORDER BY started_at DESC
		LIMIT 1
	`, fingerprint)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending job: %w", err)
	}
	return job, nil
}

func (s *SQLiteJobStore) MarkSuccess(ctx context.Context, id string, res Result) error {
	return s.complete(ctx, id, func(completedAt string) (sql.Result, error) {
		return s.db.ExecContext(ctx, `
			UPDATE remediation_jobs
			SET status = 'success', pr_url = ?, repo = ?, summary = ?, completed_at = ?
			WHERE id = ? AND status = 'pending'
		`, res.PRURL, res.Repo, res.Summary, completedAt, id)
	})
}

func (s *SQLiteJobStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.complete(ctx, id, func(completedAt string) (sql.Result, error) {
		return s.db.ExecContext(ctx, `
			UPDATE remediation_jobs
			SET status = 'failed', error = ?, completed_at = ?
			WHERE id = ? AND status = 'pending'
		`, message, completedAt, id)
	})
}

// complete runs a guarded terminal-state update. The WHERE status='pending'
// clause makes the transition monotonic even under concurrent writers.
func (s *SQLiteJobStore) complete(ctx context.Context, id string, update func(completedAt string) (sql.Result, error)) error {
	result, err := update(time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrJobTerminal
	}
	return nil
}

func (s *SQLiteJobStore) CountCompletedSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM remediation_jobs
		WHERE tenant_id = ? AND completed_at IS NOT NULL AND completed_at >= ?
	`, tenantID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed jobs: %w", err)
	}
	return count, nil
}

func (s *SQLiteJobStore) List(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM remediation_jobs
		WHERE tenant_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteJobStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var entityType, startedAt string
	var errMsg, prURL, repo, summary, completedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.TenantID, &entityType, &job.EntityID, &job.Fingerprint,
		(*string)(&job.Status), &errMsg, &prURL, &repo, &summary,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.EntityType = entity.Type(entityType)
	job.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if prURL.Valid {
		job.PRURL = prURL.String
	}
	if repo.Valid {
		job.Repo = repo.String
	}
	if summary.Valid {
		job.Summary = summary.String
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}
