package store

import (
	"database/sql"
	"fmt"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// UpsertMessage inserts or replaces one messages_cache row, keyed on
// (chat_id, message_id) — the Message Parser's sole write path (spec.md
// §4.2 step 7). is_deleted, like created_at, is intentionally absent from
// the ON CONFLICT SET list: once a message is marked deleted, a later
// ordinary upsert must not clear it (spec.md §3's sticky-deletion
// invariant); only MarkDeleted/MarkDeletedAnyChat ever flip it.
func (s *Store) UpsertMessage(m model.Message) error {
	now := nowUnix()
	_, err := s.db.Exec(`
		INSERT INTO messages_cache (
			chat_id, message_id, from_id, reply_to_id, forward_from_id, text,
			message_type, has_media, is_outgoing, is_edited, is_pinned, is_deleted,
			edit_date, date, fetched_at, raw_json, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			from_id = excluded.from_id,
			reply_to_id = excluded.reply_to_id,
			forward_from_id = excluded.forward_from_id,
			text = excluded.text,
			message_type = excluded.message_type,
			has_media = excluded.has_media,
			is_outgoing = excluded.is_outgoing,
			is_edited = excluded.is_edited,
			is_pinned = excluded.is_pinned,
			edit_date = excluded.edit_date,
			date = excluded.date,
			fetched_at = excluded.fetched_at,
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at
	`,
		m.ChatID, m.MessageID, nullableInt64(m.FromID), nullableInt64(m.ReplyToID), nullableInt64(m.ForwardFromID),
		m.Text, string(m.MessageType), boolToInt(m.HasMedia), boolToInt(m.IsOutgoing), boolToInt(m.IsEdited),
		boolToInt(m.IsPinned), boolToInt(m.IsDeleted), timeToUnix(m.EditDate), m.Date.UTC().Unix(), now,
		m.RawJSON, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert message %d/%d: %w", m.ChatID, m.MessageID, err)
	}
	return nil
}

// GetMessage returns a cached message by (chatID, messageID), or nil if absent.
func (s *Store) GetMessage(chatID, messageID int64) (*model.Message, error) {
	row := s.db.QueryRow(`
		SELECT chat_id, message_id, from_id, reply_to_id, forward_from_id, text,
		       message_type, has_media, is_outgoing, is_edited, is_pinned, is_deleted,
		       edit_date, date, fetched_at, raw_json, created_at, updated_at
		FROM messages_cache WHERE chat_id = ? AND message_id = ?
	`, chatID, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d/%d: %w", chatID, messageID, err)
	}
	return m, nil
}

// MarkDeleted flags messages as deleted without removing them, used by the
// Account Supervisor's delete-message update handler (spec.md §4.6).
func (s *Store) MarkDeleted(chatID int64, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	var affected int64
	for _, id := range messageIDs {
		res, err := s.db.Exec(`UPDATE messages_cache SET is_deleted = 1, updated_at = ? WHERE chat_id = ? AND message_id = ?`,
			nowUnix(), chatID, id)
		if err != nil {
			return affected, fmt.Errorf("mark deleted %d/%d: %w", chatID, id, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	return affected, nil
}

// MarkDeletedAnyChat flags messages as deleted across all chats, used for the
// DM/basic-group delete-message shape where the update carries no chat id
// (spec.md §4.6).
func (s *Store) MarkDeletedAnyChat(messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	var affected int64
	for _, id := range messageIDs {
		res, err := s.db.Exec(`UPDATE messages_cache SET is_deleted = 1, updated_at = ? WHERE message_id = ?`, nowUnix(), id)
		if err != nil {
			return affected, fmt.Errorf("mark deleted %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	return affected, nil
}

// CountMessages returns the number of cached (non-deleted) messages for a chat.
func (s *Store) CountMessages(chatID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages_cache WHERE chat_id = ? AND is_deleted = 0`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages for chat %d: %w", chatID, err)
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var fromID, replyToID, fwdFromID sql.NullInt64
	var editDate sql.NullInt64
	var date, fetchedAt, createdAt, updatedAt int64
	var hasMedia, isOutgoing, isEdited, isPinned, isDeleted int
	var msgType string

	if err := row.Scan(
		&m.ChatID, &m.MessageID, &fromID, &replyToID, &fwdFromID, &m.Text,
		&msgType, &hasMedia, &isOutgoing, &isEdited, &isPinned, &isDeleted,
		&editDate, &date, &fetchedAt, &m.RawJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	m.MessageType = model.MessageType(msgType)
	m.HasMedia = hasMedia != 0
	m.IsOutgoing = isOutgoing != 0
	m.IsEdited = isEdited != 0
	m.IsPinned = isPinned != 0
	m.IsDeleted = isDeleted != 0
	m.FromID = int64PtrFromNull(fromID)
	m.ReplyToID = int64PtrFromNull(replyToID)
	m.ForwardFromID = int64PtrFromNull(fwdFromID)
	m.EditDate = unixToTime(editDate)
	m.Date = unixTime(date)
	m.FetchedAt = unixTime(fetchedAt)
	m.CreatedAt = unixTime(createdAt)
	m.UpdatedAt = unixTime(updatedAt)
	return &m, nil
}
