package store

import (
	"database/sql"
	"fmt"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// CreateJob inserts a new pending job (spec.md §4.3 createJob). Callers
// (the scheduler) are responsible for de-duplication via
// HasActiveJobForChat; CreateJob itself does not check.
func (s *Store) CreateJob(chatID int64, jobType model.JobType, priority model.SyncPriority, cursorStart, cursorEnd *int64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO sync_jobs (chat_id, job_type, priority, status, cursor_start, cursor_end, created_at)
		VALUES (?,?,?, 'pending', ?,?,?)
	`, chatID, string(jobType), int(priority), nullableInt64(cursorStart), nullableInt64(cursorEnd), nowUnix())
	if err != nil {
		return 0, fmt.Errorf("create job for chat %d: %w", chatID, err)
	}
	return res.LastInsertId()
}

// ClaimNextJob atomically selects the oldest, highest-priority pending job
// and transitions it to running, returning nil if none are pending (spec.md
// §4.3 claimNextJob / §4.5 step 1). The select-then-update runs inside one
// transaction so two workers can never claim the same row — SQLite's
// single-writer model makes this safe without SELECT ... FOR UPDATE.
func (s *Store) ClaimNextJob() (*model.SyncJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim next job: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, chat_id, job_type, priority, status, cursor_start, cursor_end,
		       messages_fetched, error_message, created_at, started_at, completed_at
		FROM sync_jobs WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
	`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: select: %w", err)
	}

	res, err := tx.Exec(`UPDATE sync_jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'`,
		nowUnix(), job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim next job: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Raced with a concurrent claim between select and update; caller
		// should retry on the next tick rather than block here.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim next job: commit: %w", err)
	}

	job.Status = model.JobRunning
	return job, nil
}

// GetJob returns one sync_jobs row by id, or nil if it doesn't exist.
func (s *Store) GetJob(jobID int64) (*model.SyncJob, error) {
	row := s.db.QueryRow(`
		SELECT id, chat_id, job_type, priority, status, cursor_start, cursor_end,
		       messages_fetched, error_message, created_at, started_at, completed_at
		FROM sync_jobs WHERE id = ?
	`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return job, nil
}

// MarkCompleted transitions a running job to completed, recording how many
// messages it fetched (spec.md §4.3 markCompleted). Returns false if the job
// was not in the running state.
func (s *Store) MarkCompleted(jobID int64, messagesFetched int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE sync_jobs SET status = 'completed', messages_fetched = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
	`, messagesFetched, nowUnix(), jobID)
	if err != nil {
		return false, fmt.Errorf("mark job %d completed: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed transitions a running job to failed, recording the error
// (spec.md §4.3 markFailed). Returns false if the job was not running.
func (s *Store) MarkFailed(jobID int64, errMsg string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE sync_jobs SET status = 'failed', error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
	`, errMsg, nowUnix(), jobID)
	if err != nil {
		return false, fmt.Errorf("mark job %d failed: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateProgress bumps messages_fetched on a still-running job, so a crash
// mid-batch leaves a partial count behind for forensics (spec.md §4.3
// updateProgress).
func (s *Store) UpdateProgress(jobID int64, messagesFetched int64) error {
	_, err := s.db.Exec(`UPDATE sync_jobs SET messages_fetched = ? WHERE id = ? AND status = 'running'`,
		messagesFetched, jobID)
	if err != nil {
		return fmt.Errorf("update job %d progress: %w", jobID, err)
	}
	return nil
}

// CountJobsByStatus returns how many sync_jobs rows currently sit in
// status, used by the Daemon Loop's status publishing (spec.md §3/§6
// pending_jobs/running_jobs).
func (s *Store) CountJobsByStatus(status model.JobStatus) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_jobs WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs by status %s: %w", status, err)
	}
	return n, nil
}

// HasActiveJobForChat reports whether a chat already has a pending or
// running job, the de-duplication guard the scheduler's queue* operations
// use before inserting a new one (spec.md §4.4).
func (s *Store) HasActiveJobForChat(chatID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sync_jobs WHERE chat_id = ? AND status IN ('pending', 'running')
	`, chatID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has active job for chat %d: %w", chatID, err)
	}
	return n > 0, nil
}

// CancelPendingForChat deletes any still-pending jobs for a chat and returns
// how many were removed. Nothing in this module calls it.
func (s *Store) CancelPendingForChat(chatID int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sync_jobs WHERE chat_id = ? AND status = 'pending'`, chatID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs for chat %d: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecoverCrashedJobs resets every running job back to pending, called once
// at daemon startup before the scheduler or worker pool starts (spec.md
// §4.3/§4.7 step 2): a job left "running" can only mean the previous process
// died mid-execution.
func (s *Store) RecoverCrashedJobs() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE sync_jobs
		SET status = 'pending', started_at = NULL, error_message = 'Daemon crashed during execution'
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, fmt.Errorf("recover crashed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CleanupCompleted deletes completed jobs older than maxAge. A non-positive
// maxAge is treated as "delete all completed jobs" (spec.md Open Questions).
func (s *Store) CleanupCompleted(maxAgeSeconds int64) (int64, error) {
	cutoff := nowUnix() - maxAgeSeconds
	res, err := s.db.Exec(`DELETE FROM sync_jobs WHERE status = 'completed' AND completed_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup completed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CleanupFailed deletes failed jobs older than maxAge, same all-if-negative
// semantics as CleanupCompleted.
func (s *Store) CleanupFailed(maxAgeSeconds int64) (int64, error) {
	cutoff := nowUnix() - maxAgeSeconds
	res, err := s.db.Exec(`DELETE FROM sync_jobs WHERE status = 'failed' AND completed_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanJob(row scannable) (*model.SyncJob, error) {
	var j model.SyncJob
	var jobType, status string
	var priority int
	var cursorStart, cursorEnd sql.NullInt64
	var errMsg sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	if err := row.Scan(
		&j.ID, &j.ChatID, &jobType, &priority, &status, &cursorStart, &cursorEnd,
		&j.MessagesFetched, &errMsg, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	j.JobType = model.JobType(jobType)
	j.Priority = model.SyncPriority(priority)
	j.Status = model.JobStatus(status)
	j.CursorStart = int64PtrFromNull(cursorStart)
	j.CursorEnd = int64PtrFromNull(cursorEnd)
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	j.CreatedAt = unixTime(createdAt)
	j.StartedAt = unixToTime(startedAt)
	j.CompletedAt = unixToTime(completedAt)
	return &j, nil
}
