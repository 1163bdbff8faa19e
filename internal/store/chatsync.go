package store

import (
	"database/sql"
	"fmt"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// GetChatSyncState returns the sync-progress row for a chat, or nil if the
// chat has never been registered (spec.md §4.4 step 1).
func (s *Store) GetChatSyncState(chatID int64) (*model.ChatSyncState, error) {
	row := s.db.QueryRow(`
		SELECT chat_id, chat_type, member_count, forward_cursor, backward_cursor,
		       sync_priority, sync_enabled, history_complete, synced_messages,
		       last_forward_sync, last_backward_sync
		FROM chat_sync_state WHERE chat_id = ?
	`, chatID)
	st, err := scanChatSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat sync state %d: %w", chatID, err)
	}
	return st, nil
}

// UpsertChatSyncState inserts or replaces a chat's sync-progress row, used
// when the scheduler first registers a chat (spec.md §4.4 initializeForStartup).
func (s *Store) UpsertChatSyncState(st model.ChatSyncState) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_sync_state (
			chat_id, chat_type, member_count, forward_cursor, backward_cursor,
			sync_priority, sync_enabled, history_complete, synced_messages,
			last_forward_sync, last_backward_sync
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (chat_id) DO UPDATE SET
			chat_type = excluded.chat_type,
			member_count = excluded.member_count,
			sync_priority = excluded.sync_priority,
			sync_enabled = excluded.sync_enabled
	`,
		st.ChatID, string(st.ChatType), nullableIntPtr(st.MemberCount),
		nullableInt64(st.ForwardCursor), nullableInt64(st.BackwardCursor),
		int(st.SyncPriority), boolToInt(st.SyncEnabled), boolToInt(st.HistoryComplete),
		st.SyncedMessages, timeToUnix(st.LastForwardSync), timeToUnix(st.LastBackwardSync),
	)
	if err != nil {
		return fmt.Errorf("upsert chat sync state %d: %w", st.ChatID, err)
	}
	return nil
}

// AdvanceForwardCursor bumps forward_cursor to the highest message id seen
// and records the sync timestamp (spec.md §4.5 step 11, ForwardCatchup case).
func (s *Store) AdvanceForwardCursor(chatID, newCursor int64, addedMessages int64) error {
	_, err := s.db.Exec(`
		UPDATE chat_sync_state
		SET forward_cursor = ?, synced_messages = synced_messages + ?, last_forward_sync = ?
		WHERE chat_id = ?
	`, newCursor, addedMessages, nowUnix(), chatID)
	if err != nil {
		return fmt.Errorf("advance forward cursor %d: %w", chatID, err)
	}
	return nil
}

// RetreatBackwardCursor lowers backward_cursor to the oldest message id seen
// in this batch, optionally latching history_complete when the upstream
// reports no more history (spec.md §4.5 step 11, BackwardHistory/InitialLoad
// case).
func (s *Store) RetreatBackwardCursor(chatID, newCursor int64, addedMessages int64, complete bool) error {
	_, err := s.db.Exec(`
		UPDATE chat_sync_state
		SET backward_cursor = ?, synced_messages = synced_messages + ?,
		    last_backward_sync = ?, history_complete = history_complete OR ?
		WHERE chat_id = ?
	`, newCursor, addedMessages, nowUnix(), boolToInt(complete), chatID)
	if err != nil {
		return fmt.Errorf("retreat backward cursor %d: %w", chatID, err)
	}
	return nil
}

// ListSyncEnabledChats returns every chat with sync_enabled = 1, ordered by
// priority (lower value first) — the set the scheduler walks on startup
// (spec.md §4.4).
func (s *Store) ListSyncEnabledChats() ([]model.ChatSyncState, error) {
	rows, err := s.db.Query(`
		SELECT chat_id, chat_type, member_count, forward_cursor, backward_cursor,
		       sync_priority, sync_enabled, history_complete, synced_messages,
		       last_forward_sync, last_backward_sync
		FROM chat_sync_state WHERE sync_enabled = 1 ORDER BY sync_priority ASC, chat_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sync enabled chats: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSyncState
	for rows.Next() {
		st, err := scanChatSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat sync state: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanChatSyncState(row scannable) (*model.ChatSyncState, error) {
	var st model.ChatSyncState
	var chatType string
	var memberCount sql.NullInt64
	var fwdCursor, bwdCursor sql.NullInt64
	var priority int
	var syncEnabled, historyComplete int
	var lastFwd, lastBwd sql.NullInt64

	if err := row.Scan(
		&st.ChatID, &chatType, &memberCount, &fwdCursor, &bwdCursor,
		&priority, &syncEnabled, &historyComplete, &st.SyncedMessages,
		&lastFwd, &lastBwd,
	); err != nil {
		return nil, err
	}

	st.ChatType = model.ChatType(chatType)
	st.MemberCount = intPtrFromNull(memberCount)
	st.ForwardCursor = int64PtrFromNull(fwdCursor)
	st.BackwardCursor = int64PtrFromNull(bwdCursor)
	st.SyncPriority = model.SyncPriority(priority)
	st.SyncEnabled = syncEnabled != 0
	st.HistoryComplete = historyComplete != 0
	st.LastForwardSync = unixToTime(lastFwd)
	st.LastBackwardSync = unixToTime(lastBwd)
	return &st, nil
}
