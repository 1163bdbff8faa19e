package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/telegram-cli/telegram-cli/config"
	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/parser"
	"github.com/telegram-cli/telegram-cli/internal/ratelimit"
	"github.com/telegram-cli/telegram-cli/internal/remote"
	"github.com/telegram-cli/telegram-cli/internal/store"
	"github.com/telegram-cli/telegram-cli/internal/wire"
	"github.com/telegram-cli/telegram-cli/pkg/tgerr"
)

// Caller abstracts the piece of the rate-limited client the worker needs,
// satisfied by *ratelimit.Service in production and a fake in tests.
type Caller interface {
	Call(ctx context.Context, call remote.Call) (any, error)
	FetchHistory(ctx context.Context, req remote.HistoryRequest) (*wire.HistorySlice, error)
}

var _ Caller = (*ratelimit.Service)(nil)

// Worker executes one account's claimed sync jobs against its rate-limited
// RemoteClient (spec.md §4.5).
type Worker struct {
	AccountID string
	Store     *store.Store
	Caller    Caller
	BatchSize int
}

// New builds a Worker for one account.
func New(accountID string, s *store.Store, caller Caller) *Worker {
	batch := config.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Worker{AccountID: accountID, Store: s, Caller: caller, BatchSize: batch}
}

// RunOnce claims and executes the next pending job, returning (false, nil)
// if there was nothing to claim (spec.md §4.5 step 1).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.Store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.execute(ctx, job); err != nil {
		var rle *tgerr.RateLimitError
		if errors.As(err, &rle) {
			msg := fmt.Sprintf("Rate limited: wait %ds", rle.WaitSeconds)
			if _, mErr := w.Store.MarkFailed(job.ID, msg); mErr != nil {
				logrus.WithError(mErr).WithField("job_id", job.ID).Warn("[WORKER] failed to mark rate-limited job failed")
			}
			// The scheduler re-queues a fresh job for this chat on the next
			// daemon startup (spec.md §4.4); this job row stays failed rather than
			// being resurrected, so error_message keeps the real reason a
			// later FullSync was needed.
			return true, nil
		}
		if _, mErr := w.Store.MarkFailed(job.ID, err.Error()); mErr != nil {
			logrus.WithError(mErr).WithField("job_id", job.ID).Warn("[WORKER] failed to mark job failed")
		}
		return true, err
	}
	return true, nil
}

// execute runs the full fetch/parse/store/advance-cursor flow for one job
// (spec.md §4.5 steps 2-12).
func (w *Worker) execute(ctx context.Context, job *model.SyncJob) error {
	peer, err := w.buildInputPeer(job.ChatID)
	if err != nil {
		return fmt.Errorf("build input peer: %w", err)
	}

	st, err := w.Store.GetChatSyncState(job.ChatID)
	if err != nil {
		return fmt.Errorf("get chat sync state: %w", err)
	}

	var totalFetched int64
	var lastMinID, lastMaxID int64
	hasMore := true

	req := w.buildHistoryRequest(job, st, peer)
	for hasMore {
		slice, err := w.Caller.FetchHistory(ctx, req)
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}

		for _, raw := range slice.Messages {
			msg := parser.Parse(job.ChatID, raw, false)
			if msg == nil {
				continue
			}
			if err := w.Store.UpsertMessage(*msg); err != nil {
				return fmt.Errorf("upsert message %d: %w", msg.MessageID, err)
			}
			totalFetched++
			if lastMinID == 0 || raw.ID < lastMinID {
				lastMinID = raw.ID
			}
			if raw.ID > lastMaxID {
				lastMaxID = raw.ID
			}
		}

		if err := w.Store.UpdateProgress(job.ID, totalFetched); err != nil {
			logrus.WithError(err).WithField("job_id", job.ID).Warn("[WORKER] failed to update job progress")
		}

		// FullSync always behaves as if more history remains: it exists to
		// recover from a suspected gap, so trusting a latched
		// history_complete here would defeat its purpose.
		if job.JobType == model.JobFullSync {
			hasMore = len(slice.Messages) > 0
		} else {
			hasMore = slice.HasMore
		}

		if len(slice.Messages) == 0 {
			break
		}

		// The next page continues below the oldest id this page returned.
		next := slice.Messages[0].ID
		for _, raw := range slice.Messages[1:] {
			if raw.ID < next {
				next = raw.ID
			}
		}
		req.OffsetID = next
	}

	if err := w.advanceCursor(job, lastMinID, lastMaxID, totalFetched); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	if _, err := w.Store.MarkCompleted(job.ID, totalFetched); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// buildHistoryRequest picks MinID/OffsetID per job type (spec.md §4.5 step
// 5): ForwardCatchup fetches everything newer than the forward cursor;
// BackwardHistory/InitialLoad/FullSync fetch everything older than the
// backward cursor.
func (w *Worker) buildHistoryRequest(job *model.SyncJob, st *model.ChatSyncState, peer remote.InputPeer) remote.HistoryRequest {
	req := remote.HistoryRequest{Peer: peer, Limit: w.BatchSize}

	switch job.JobType {
	case model.JobForwardCatchup:
		if st != nil && st.ForwardCursor != nil {
			req.OffsetID = 0
			req.MinID = *st.ForwardCursor
		}
	case model.JobBackwardHistory, model.JobInitialLoad, model.JobFullSync:
		if st != nil && st.BackwardCursor != nil {
			req.OffsetID = *st.BackwardCursor
		}
	}
	return req
}

// advanceCursor persists the new cursor position after a batch completes
// (spec.md §4.5 step 11).
func (w *Worker) advanceCursor(job *model.SyncJob, minID, maxID, fetched int64) error {
	switch job.JobType {
	case model.JobForwardCatchup:
		if maxID == 0 {
			return nil
		}
		return w.Store.AdvanceForwardCursor(job.ChatID, maxID, fetched)
	case model.JobBackwardHistory, model.JobInitialLoad, model.JobFullSync:
		if minID == 0 {
			return nil
		}
		// A non-FullSync walk only ends once the upstream reports no more
		// history or returns an empty batch, so the backward history is
		// exhausted here; FullSync never latches history_complete.
		complete := job.JobType != model.JobFullSync
		return w.Store.RetreatBackwardCursor(job.ChatID, minID, fetched, complete)
	default:
		return nil
	}
}

// buildInputPeer resolves a chat id into the three-kind descriptor the
// upstream API requires (spec.md §4.5 step 3 / GLOSSARY). Positive ids not
// yet seen in chats_cache are assumed to be users (MTProto's own id-space
// convention); negative ids must already be cached, since a basic group's
// numeric id alone carries no access hash and there is no sign-based
// fallback for it.
func (w *Worker) buildInputPeer(chatID int64) (remote.InputPeer, error) {
	chat, err := w.Store.GetChat(chatID)
	if err != nil {
		return remote.InputPeer{}, err
	}
	if chat != nil {
		kind := wire.PeerChannel
		if chat.ChatType == model.ChatTypeGroup {
			kind = wire.PeerChat
		}
		return remote.InputPeer{Kind: kind, ID: chatID, AccessHash: chat.AccessHash}, nil
	}

	if chatID > 0 {
		user, err := w.Store.GetUser(chatID)
		if err != nil {
			return remote.InputPeer{}, err
		}
		if user != nil {
			return remote.InputPeer{Kind: wire.PeerUser, ID: chatID, AccessHash: user.AccessHash}, nil
		}
		return remote.InputPeer{Kind: wire.PeerUser, ID: chatID}, nil
	}

	return remote.InputPeer{}, &tgerr.PeerResolutionError{ChatID: chatID, Reason: "no cached access hash for negative chat id"}
}
