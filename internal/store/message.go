package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, client_id, server_id, sender_id, sender_name,
	body, media_url, reply_to, status, is_delivered, is_read, is_deleted, edited_at, timestamp`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.ClientID, &m.ServerID, &m.SenderID, &m.SenderName,
		&m.Body, &m.MediaURL, &m.ReplyTo, &m.Status, &m.Delivered, &m.Read, &m.Deleted, &m.EditedAt, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage inserts a message row and returns its local id.
func (db *DB) InsertMessage(m *Message) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (conversation_id, client_id, server_id, sender_id, sender_name,
			body, media_url, reply_to, status, is_delivered, is_read, is_deleted, edited_at, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ClientID, m.ServerID, m.SenderID, m.SenderName,
		m.Body, m.MediaURL, m.ReplyTo, m.Status, m.Delivered, m.Read, m.Deleted, m.EditedAt, m.Timestamp, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetByServerID returns the message with the given server id, or nil.
func (db *DB) GetByServerID(serverID string) (*Message, error) {
	if serverID == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetByClientID returns the message with the given correlation id, or nil.
func (db *DB) GetByClientID(clientID string) (*Message, error) {
	if clientID == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE client_id = ?`, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindPlaceholder returns the oldest unconfirmed optimistic record in a
// conversation whose body matches, or nil. Oldest-first keeps two
// identical texts confirming in send order.
func (db *DB) FindPlaceholder(conversationID, body string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND body = ? AND server_id = '' AND status = ?
		ORDER BY id ASC LIMIT 1`, conversationID, body, StatusSending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// Confirm replaces an optimistic placeholder in-place with the server
// record. Delivery and read flags are reset: the dedicated receipt
// events are the only upgrade path, so a confirmation snapshot that
// raced ahead of a delivery receipt cannot skip the "sent" stage.
func (db *DB) Confirm(localID int64, serverID string, timestamp int64) error {
	res, err := db.Exec(`
		UPDATE messages
		SET server_id = ?, status = ?, is_delivered = 0, is_read = 0, timestamp = ?
		WHERE id = ? AND server_id = ''`,
		serverID, StatusSent, timestamp, localID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("confirm: no unconfirmed message with id %d", localID)
	}
	return nil
}

// Delete removes a message row by local id (optimistic record cleanup).
func (db *DB) Delete(localID int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, localID)
	return err
}

// MarkDelivered upgrades a message to delivered. Monotonic: a message
// already read keeps its status, and flags never reset.
func (db *DB) MarkDelivered(serverID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_delivered = 1,
			status = CASE WHEN status = ? THEN status ELSE ? END
		WHERE server_id = ? AND status != ?`,
		StatusRead, StatusDelivered, serverID, StatusFailed)
	return err
}

// MarkRead upgrades a message to read. Implies delivered.
func (db *DB) MarkRead(serverID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_delivered = 1, is_read = 1, status = ?
		WHERE server_id = ? AND status != ?`,
		StatusRead, serverID, StatusFailed)
	return err
}

// MarkConversationRead upgrades every confirmed message a sender owns in
// a conversation to read (bulk read confirmation from the peer).
func (db *DB) MarkConversationRead(conversationID, senderID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_delivered = 1, is_read = 1, status = ?
		WHERE conversation_id = ? AND sender_id = ? AND server_id != '' AND status != ?`,
		StatusRead, conversationID, senderID, StatusFailed)
	return err
}

// UpdateBody applies a server-side edit.
func (db *DB) UpdateBody(serverID, body string, editedAt int64) error {
	_, err := db.Exec(`UPDATE messages SET body = ?, edited_at = ? WHERE server_id = ?`,
		body, editedAt, serverID)
	return err
}

// MarkMessageDeleted tombstones a message without removing the row.
func (db *DB) MarkMessageDeleted(serverID string) error {
	_, err := db.Exec(`UPDATE messages SET is_deleted = 1, body = '' WHERE server_id = ?`, serverID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination by timestamp.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// PendingOptimistic returns unconfirmed optimistic records for a
// conversation, oldest first.
func (db *DB) PendingOptimistic(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND server_id = '' AND status = ?
		ORDER BY id ASC`, conversationID, StatusSending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
