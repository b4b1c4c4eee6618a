package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record. The unread
// counter is only overwritten by explicit setters, not by upsert.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, title, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, title, unread_count, last_message_at, last_message_preview
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations sorted by last message timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, title, unread_count, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SetUnread overwrites the unread counter (authoritative server value).
func (db *DB) SetUnread(conversationID string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, unread_count, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET unread_count = excluded.unread_count, updated_at = excluded.updated_at`,
		conversationID, count, now)
	return err
}

// IncrementUnread bumps the unread counter for an inactive conversation.
func (db *DB) IncrementUnread(conversationID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, unread_count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET unread_count = conversations.unread_count + 1, updated_at = excluded.updated_at`,
		conversationID, now)
	return err
}
