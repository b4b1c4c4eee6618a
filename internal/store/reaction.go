package store

import "time"

// AddReaction records an emoji reaction (idempotent).
func (db *DB) AddReaction(r *Reaction) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, user_id, emoji) DO NOTHING`,
		r.MessageID, r.UserID, r.Emoji, now)
	return err
}

// RemoveReaction deletes a reaction. Removing an absent reaction is a no-op.
func (db *DB) RemoveReaction(r *Reaction) error {
	_, err := db.Exec(`
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		r.MessageID, r.UserID, r.Emoji)
	return err
}

// ListReactions returns all reactions for a message.
func (db *DB) ListReactions(messageID string) ([]Reaction, error) {
	rows, err := db.Query(`
		SELECT message_id, user_id, emoji FROM reactions
		WHERE message_id = ? ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
