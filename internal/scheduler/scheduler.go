// Package scheduler is the Scheduler (spec.md §4.4): it assigns sync
// priority by chat type and size, registers newly-seen chats, and queues
// the jobs the Sync Worker pool claims and executes. It never talks to the
// RemoteClient directly — only to the Persistent Store.
package scheduler

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/telegram-cli/telegram-cli/internal/model"
	"github.com/telegram-cli/telegram-cli/internal/store"
)

// Scheduler owns the chat-registration and job-queueing policy described in
// spec.md §4.4.
type Scheduler struct {
	store *store.Store
}

// New builds a Scheduler over s.
func New(s *store.Store) *Scheduler {
	return &Scheduler{store: s}
}

// PriorityFor derives a chat's sync priority and default enabled state from
// its type and size, the exact table spec.md §4.4 specifies: private chats
// are always high-priority and enabled; groups/supergroups under 20
// members are high-priority and enabled, 20..100 members are
// medium-priority and enabled, and over 100 members are low-priority and
// disabled; channels are always low-priority and disabled.
func PriorityFor(chatType model.ChatType, memberCount *int) (priority model.SyncPriority, enabled bool) {
	switch chatType {
	case model.ChatTypePrivate:
		return model.PriorityHigh, true
	case model.ChatTypeGroup, model.ChatTypeSupergroup:
		switch {
		case memberCount == nil || *memberCount < 20:
			return model.PriorityHigh, true
		case *memberCount <= 100:
			return model.PriorityMedium, true
		default:
			return model.PriorityLow, false
		}
	case model.ChatTypeChannel:
		return model.PriorityLow, false
	default:
		return model.PriorityMedium, true
	}
}

// RegisterChat ensures chatID has a chat_sync_state row, computing its
// priority and enabled state if this is the first time the chat is seen
// (spec.md §4.4 step 1 of initializeForStartup, and the per-update
// registration path used when a brand new chat appears via a realtime
// update).
func (sc *Scheduler) RegisterChat(chatID int64, chatType model.ChatType, memberCount *int) error {
	existing, err := sc.store.GetChatSyncState(chatID)
	if err != nil {
		return fmt.Errorf("register chat %d: %w", chatID, err)
	}
	if existing != nil {
		return nil
	}
	priority, enabled := PriorityFor(chatType, memberCount)
	return sc.store.UpsertChatSyncState(model.ChatSyncState{
		ChatID:       chatID,
		ChatType:     chatType,
		MemberCount:  memberCount,
		SyncPriority: priority,
		SyncEnabled:  enabled,
	})
}

// InitializeForStartup walks every sync-enabled chat and queues the jobs
// each one needs given its current cursor state (spec.md §4.4
// initializeForStartup): a chat with neither cursor yet needs an
// InitialLoad (a chat with only a backward_cursor gets none); a chat that already has a forward_cursor gets a
// ForwardCatchup to pick up anything missed while the daemon was down; a
// chat whose backward history isn't complete gets a BackwardHistory job.
func (sc *Scheduler) InitializeForStartup() error {
	chats, err := sc.store.ListSyncEnabledChats()
	if err != nil {
		return fmt.Errorf("initialize for startup: list chats: %w", err)
	}
	for _, c := range chats {
		if c.BackwardCursor == nil && c.ForwardCursor == nil {
			if err := sc.QueueInitialLoad(c.ChatID); err != nil {
				logrus.WithError(err).WithField("chat_id", c.ChatID).Warn("[SCHEDULER] queue initial load failed")
			}
			continue
		}
		if c.ForwardCursor != nil {
			if err := sc.QueueForwardCatchup(c.ChatID); err != nil {
				logrus.WithError(err).WithField("chat_id", c.ChatID).Warn("[SCHEDULER] queue forward catchup failed")
			}
		}
		if !c.HistoryComplete {
			if err := sc.QueueBackwardHistory(c.ChatID); err != nil {
				logrus.WithError(err).WithField("chat_id", c.ChatID).Warn("[SCHEDULER] queue backward history failed")
			}
		}
	}
	return nil
}

// QueueForwardCatchup enqueues a ForwardCatchup job for chatID unless one is
// already pending or running (spec.md §4.4, idempotent queue* operations).
func (sc *Scheduler) QueueForwardCatchup(chatID int64) error {
	return sc.queueIfIdle(chatID, model.JobForwardCatchup)
}

// QueueBackwardHistory enqueues a BackwardHistory job for chatID.
func (sc *Scheduler) QueueBackwardHistory(chatID int64) error {
	return sc.queueIfIdle(chatID, model.JobBackwardHistory)
}

// QueueInitialLoad enqueues an InitialLoad job for chatID.
func (sc *Scheduler) QueueInitialLoad(chatID int64) error {
	return sc.queueIfIdle(chatID, model.JobInitialLoad)
}

// QueueFullSync enqueues a FullSync job, bypassing the idle check: a
// FullSync is an explicit operator-triggered recovery action and should run
// even if a routine job is already queued for the chat.
func (sc *Scheduler) QueueFullSync(chatID int64) error {
	st, err := sc.store.GetChatSyncState(chatID)
	if err != nil {
		return fmt.Errorf("queue full sync for %d: %w", chatID, err)
	}
	priority := model.PriorityLow
	if st != nil {
		priority = st.SyncPriority
	}
	_, err = sc.store.CreateJob(chatID, model.JobFullSync, priority, nil, nil)
	if err != nil {
		return fmt.Errorf("queue full sync for %d: %w", chatID, err)
	}
	return nil
}

func (sc *Scheduler) queueIfIdle(chatID int64, jobType model.JobType) error {
	active, err := sc.store.HasActiveJobForChat(chatID)
	if err != nil {
		return fmt.Errorf("queue %s for %d: %w", jobType, chatID, err)
	}
	if active {
		return nil
	}
	st, err := sc.store.GetChatSyncState(chatID)
	if err != nil {
		return fmt.Errorf("queue %s for %d: %w", jobType, chatID, err)
	}
	priority := model.PriorityMedium
	if st != nil {
		priority = st.SyncPriority
	}
	_, err = sc.store.CreateJob(chatID, jobType, priority, nil, nil)
	if err != nil {
		return fmt.Errorf("queue %s for %d: %w", jobType, chatID, err)
	}
	return nil
}

// Cleanup prunes completed/failed jobs older than maxAgeSeconds, called
// periodically by the Daemon Loop (spec.md §4.7 cleanup-every-300-ticks).
func (sc *Scheduler) Cleanup(maxAgeSeconds int64) error {
	completed, err := sc.store.CleanupCompleted(maxAgeSeconds)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	failed, err := sc.store.CleanupFailed(maxAgeSeconds)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if completed+failed > 0 {
		logrus.WithFields(logrus.Fields{"completed": completed, "failed": failed}).Debug("[SCHEDULER] cleaned up old jobs")
	}
	return nil
}
