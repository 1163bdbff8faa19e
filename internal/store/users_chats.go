package store

import (
	"database/sql"
	"fmt"

	"github.com/telegram-cli/telegram-cli/internal/model"
)

// UpsertUser records or refreshes a resolved peer's user identity, the cache
// the Sync Worker consults before building an InputPeer for a user (spec.md
// GLOSSARY / §4.5 step 3).
func (s *Store) UpsertUser(u model.User) error {
	_, err := s.db.Exec(`
		INSERT INTO users_cache (user_id, access_hash, username, phone, first_name, last_name, is_bot, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (user_id) DO UPDATE SET
			access_hash = excluded.access_hash,
			username = excluded.username,
			phone = excluded.phone,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			is_bot = excluded.is_bot,
			updated_at = excluded.updated_at
	`, u.UserID, u.AccessHash, nullableString(u.Username), nullableString(u.Phone),
		u.FirstName, u.LastName, boolToInt(u.IsBot), nowUnix())
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.UserID, err)
	}
	return nil
}

// GetUser looks up a cached user by id.
func (s *Store) GetUser(userID int64) (*model.User, error) {
	row := s.db.QueryRow(`
		SELECT user_id, access_hash, username, phone, first_name, last_name, is_bot, updated_at
		FROM users_cache WHERE user_id = ?
	`, userID)
	return scanUser(row)
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var username, phone sql.NullString
	var isBot int
	var updatedAt int64
	if err := row.Scan(&u.UserID, &u.AccessHash, &username, &phone, &u.FirstName, &u.LastName, &isBot, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.Username = stringFromNull(username)
	u.Phone = stringFromNull(phone)
	u.IsBot = isBot != 0
	u.UpdatedAt = unixTime(updatedAt)
	return &u, nil
}

// UpsertChat records or refreshes a resolved chat's identity metadata
// (distinct from ChatSyncState, which tracks sync progress).
func (s *Store) UpsertChat(c model.Chat) error {
	_, err := s.db.Exec(`
		INSERT INTO chats_cache (chat_id, access_hash, chat_type, title, username, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (chat_id) DO UPDATE SET
			access_hash = excluded.access_hash,
			chat_type = excluded.chat_type,
			title = excluded.title,
			username = excluded.username,
			updated_at = excluded.updated_at
	`, c.ChatID, c.AccessHash, string(c.ChatType), c.Title, nullableString(c.Username), nowUnix())
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", c.ChatID, err)
	}
	return nil
}

// GetChat looks up a cached chat by id. This is the lookup the Sync Worker
// uses to resolve a negative chat_id's AccessHash, where applicable, before
// building an InputPeer (spec.md §4.5 step 3).
func (s *Store) GetChat(chatID int64) (*model.Chat, error) {
	row := s.db.QueryRow(`
		SELECT chat_id, access_hash, chat_type, title, username, updated_at
		FROM chats_cache WHERE chat_id = ?
	`, chatID)
	var c model.Chat
	var chatType string
	var username sql.NullString
	var updatedAt int64
	err := row.Scan(&c.ChatID, &c.AccessHash, &chatType, &c.Title, &username, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	c.ChatType = model.ChatType(chatType)
	c.Username = stringFromNull(username)
	c.UpdatedAt = unixTime(updatedAt)
	return &c, nil
}
