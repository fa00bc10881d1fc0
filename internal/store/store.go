package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/paths"
)

// LastTaskTTL is how long a user's last task id stays usable for actions.
const LastTaskTTL = 7 * 24 * time.Hour

const crashMsg = "crash recovery: daemon restart"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var ErrNotFound = errors.New("not found")

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Init runs migrations using PRAGMA user_version.
func (s *Store) Init() error {
	var ver int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&ver); err != nil {
		return err
	}
	if ver >= 1 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// v1 schema
	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
  job_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  prompt TEXT NOT NULL,
  backend_task_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS jobs_status ON jobs(status)`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS last_tasks (
  user_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  expires_at INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1`); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateJob inserts j as running and fills its timestamps.
func (s *Store) CreateJob(j *api.Job) error {
	if err := paths.ValidateID(j.JobID); err != nil {
		return err
	}
	j.Status = api.JobRunning
	j.CreatedAt = s.timestamp()
	j.UpdatedAt = j.CreatedAt
	_, err := s.db.Exec(
		`INSERT INTO jobs (job_id, user_id, kind, prompt, backend_task_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.UserID, string(j.Kind), j.Prompt, j.BackendTaskID, string(j.Status), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("job %s already exists", j.JobID)
	}
	return err
}

const jobColumns = `job_id, user_id, kind, prompt, backend_task_id, status, image_url, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*api.Job, error) {
	var j api.Job
	var kind, status string
	if err := row.Scan(&j.JobID, &j.UserID, &kind, &j.Prompt, &j.BackendTaskID, &status, &j.ImageURL, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = api.JobKind(kind)
	j.Status = api.JobStatus(status)
	return &j, nil
}

func (s *Store) GetJob(jobID string) (*api.Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

// ListJobs returns jobs ordered newest first. If limit <= 0, return all.
func (s *Store) ListJobs(limit int) ([]*api.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetBackendTaskID records the Midjourney task id once submission succeeds.
func (s *Store) SetBackendTaskID(jobID, taskID string) error {
	return s.execRetry(`UPDATE jobs SET backend_task_id = ?, updated_at = ? WHERE job_id = ?`, taskID, s.timestamp(), jobID)
}

// FinishJob moves a running job to a terminal status. It reports false when
// the job had already left running, so the first terminal transition wins.
func (s *Store) FinishJob(jobID string, status api.JobStatus, imageURL, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		res, err := s.db.Exec(
			`UPDATE jobs SET status = ?, image_url = ?, error = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
			string(status), imageURL, errMsg, s.timestamp(), jobID, string(api.JobRunning),
		)
		if err == nil {
			n, _ := res.RowsAffected()
			if n == 0 {
				if _, gerr := s.GetJob(jobID); gerr != nil {
					return false, gerr
				}
			}
			return n > 0, nil
		}
		lastErr = err
		if isSqliteBusy(err) {
			time.Sleep(time.Duration(10*(1<<i)) * time.Millisecond)
			continue
		}
		return false, err
	}
	return false, lastErr
}

func (s *Store) execRetry(q string, args ...any) error {
	// Retry on SQLITE_BUSY so a job is not left stale under contention.
	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		_, err := s.db.Exec(q, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		if isSqliteBusy(err) {
			time.Sleep(time.Duration(10*(1<<i)) * time.Millisecond)
			continue
		}
		return err
	}
	return lastErr
}

// ReconcileRunningJobs marks jobs left running by a previous daemon as
// abandoned. It is idempotent and returns the number of rows changed.
func (s *Store) ReconcileRunningJobs() (int, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE status = ?`,
		string(api.JobAbandoned), crashMsg, s.timestamp(), string(api.JobRunning),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SetLastTask remembers taskID as userID's most recent task for ttl.
func (s *Store) SetLastTask(_ context.Context, userID, taskID string, ttl time.Duration) error {
	expires := s.now().Add(ttl).Unix()
	return s.execRetry(
		`INSERT INTO last_tasks (user_id, task_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET task_id = excluded.task_id, expires_at = excluded.expires_at`,
		userID, taskID, expires,
	)
}

// LastTask returns userID's most recent task id, or ErrNotFound when none
// is stored or it has expired.
func (s *Store) LastTask(_ context.Context, userID string) (string, error) {
	var taskID string
	var expires int64
	err := s.db.QueryRow(`SELECT task_id, expires_at FROM last_tasks WHERE user_id = ?`, userID).Scan(&taskID, &expires)
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if s.now().Unix() >= expires {
		_, _ = s.db.Exec(`DELETE FROM last_tasks WHERE user_id = ? AND expires_at = ?`, userID, expires)
		return "", ErrNotFound
	}
	return taskID, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isSqliteBusy reports whether err represents a busy/locked sqlite condition.
func isSqliteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == "database is locked" || msg == "database is busy" || strings.Contains(msg, "SQLITE_BUSY")
}
