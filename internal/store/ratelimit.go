package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// windowStart floors t to the start of its containing window, matching the
// rate limiter's fixed-window bucketing (spec.md §4.1).
func windowStart(t time.Time, windowSeconds int64) int64 {
	u := t.UTC().Unix()
	return u - (u % windowSeconds)
}

// RecordCall increments the call counter for method's current window,
// creating the row if absent (spec.md §4.1 recordCall).
func (s *Store) RecordCall(method string, windowSeconds int64) error {
	ws := windowStart(time.Now(), windowSeconds)
	_, err := s.db.Exec(`
		INSERT INTO rate_limits (method, window_start, call_count, last_call_at)
		VALUES (?,?,1,?)
		ON CONFLICT (method, window_start) DO UPDATE SET
			call_count = call_count + 1,
			last_call_at = excluded.last_call_at
	`, method, ws, nowUnix())
	if err != nil {
		return fmt.Errorf("record call for %s: %w", method, err)
	}
	return nil
}

// CallCountInWindow returns how many calls to method have been recorded in
// its current window.
func (s *Store) CallCountInWindow(method string, windowSeconds int64) (int, error) {
	ws := windowStart(time.Now(), windowSeconds)
	var n int
	err := s.db.QueryRow(`SELECT call_count FROM rate_limits WHERE method = ? AND window_start = ?`, method, ws).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("call count for %s: %w", method, err)
	}
	return n, nil
}

// SetFloodWait records a flood-wait expiry for method, read back by
// GetFloodWaitUntil before every call (spec.md §4.1 setFloodWait).
func (s *Store) SetFloodWait(method string, until time.Time, windowSeconds int64) error {
	ws := windowStart(time.Now(), windowSeconds)
	_, err := s.db.Exec(`
		INSERT INTO rate_limits (method, window_start, call_count, flood_wait_until)
		VALUES (?,?,0,?)
		ON CONFLICT (method, window_start) DO UPDATE SET flood_wait_until = excluded.flood_wait_until
	`, method, ws, until.UTC().Unix())
	if err != nil {
		return fmt.Errorf("set flood wait for %s: %w", method, err)
	}
	return nil
}

// GetFloodWaitUntil returns the latest recorded flood-wait expiry for
// method across all windows, or zero time if none is outstanding.
func (s *Store) GetFloodWaitUntil(method string) (time.Time, error) {
	var until sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(flood_wait_until) FROM rate_limits WHERE method = ?
	`, method).Scan(&until)
	if err != nil {
		return time.Time{}, fmt.Errorf("get flood wait for %s: %w", method, err)
	}
	if !until.Valid || until.Int64 == 0 {
		return time.Time{}, nil
	}
	return time.Unix(until.Int64, 0).UTC(), nil
}

// LogActivity appends one api_activity row (spec.md §4.1 logActivity). The
// table is append-only and never pruned automatically; operators rotate it
// externally.
func (s *Store) LogActivity(e model.ActivityEntry) error {
	var errCode sql.NullString
	if e.ErrorCode != nil {
		errCode = sql.NullString{String: *e.ErrorCode, Valid: true}
	}
	var responseMs sql.NullInt64
	if e.ResponseMs != nil {
		responseMs = sql.NullInt64{Int64: *e.ResponseMs, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO api_activity (ts, method, success, error_code, response_ms, context, correlation_id)
		VALUES (?,?,?,?,?,?,?)
	`, nowUnix(), e.Method, boolToInt(e.Success), errCode, responseMs, e.Context, e.CorrelationID)
	if err != nil {
		return fmt.Errorf("log activity for %s: %w", e.Method, err)
	}
	return nil
}
