// Package tgerr defines the daemon's error taxonomy (spec.md §7): a small set
// of concrete error kinds callers can distinguish with errors.As instead of
// string-matching, generalizing the teacher's single-type pkg/error pattern.
package tgerr

import "fmt"

// RateLimitError signals a method is currently blocked by the rate limiter,
// either because of a pending flood-wait or a fixed-window limit. It is
// never fatal: callers are expected to retry later.
type RateLimitError struct {
	Method      string
	WaitSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: method %s blocked for %ds", e.Method, e.WaitSeconds)
}

func (e *RateLimitError) ErrCode() string { return "RATE_LIMITED" }

// JobStateError reports a rejected job state transition (spec.md §4.3): a
// claim, completion, or failure that raced another caller or targeted a job
// not in the expected state. It is not fatal; the caller should treat it as
// a no-op and move on.
type JobStateError struct {
	JobID   int64
	From    string
	To      string
	Wanted  string
}

func (e *JobStateError) Error() string {
	return fmt.Sprintf("job %d: cannot transition %s -> %s (expected current state %s)", e.JobID, e.From, e.To, e.Wanted)
}

func (e *JobStateError) ErrCode() string { return "JOB_STATE_CONFLICT" }

// PeerResolutionError reports a failure to build an InputPeer descriptor for
// a chat (spec.md §4.5 step 3), typically an unknown negative chat_id with no
// cached access hash. It is operator-visible and not auto-retried.
type PeerResolutionError struct {
	ChatID int64
	Reason string
}

func (e *PeerResolutionError) Error() string {
	return fmt.Sprintf("could not build InputPeer for chat %d: %s", e.ChatID, e.Reason)
}

func (e *PeerResolutionError) ErrCode() string { return "PEER_RESOLUTION_FAILED" }

// NotFoundError mirrors the teacher's pkg/error.NotFoundError shape for
// lookups against the store (account, chat, fixture) that simply don't
// exist yet.
type NotFoundError string

func (e NotFoundError) Error() string  { return string(e) }
func (e NotFoundError) ErrCode() string { return "NOT_FOUND" }
