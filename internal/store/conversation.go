package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation and replaces its
// participant rows in one transaction.
func (db *DB) UpsertConversation(c *Conversation, participants []Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, context_type, context_id, context_title, unread_count, last_message_at, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context_type = excluded.context_type,
			context_id = excluded.context_id,
			context_title = excluded.context_title,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.ID, c.ContextType, c.ContextID, c.ContextTitle, c.UnreadCount,
		c.LastMessageAt, c.LastMessagePreview, c.CreatedAt, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if len(participants) > 0 {
		if _, err := tx.Exec(`DELETE FROM participants WHERE conversation_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for _, p := range participants {
			if _, err := tx.Exec(`
				INSERT INTO participants (conversation_id, user_id, username, avatar_url)
				VALUES (?, ?, ?, ?)`,
				c.ID, p.UserID, p.Username, p.AvatarURL); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
	}

	return tx.Commit()
}

// TouchConversation updates only the denormalized last-message fields,
// creating a shell row when a message arrives for a conversation the
// mirror has not seen yet.
func (db *DB) TouchConversation(id string, lastMessageAt int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		id, lastMessageAt, preview, now, now)
	return err
}

// MarkConversationRead zeroes the mirrored unread counter.
func (db *DB) MarkConversationRead(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	return err
}

// ListConversations returns conversations sorted by last message descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, context_type, context_id, context_title, unread_count, last_message_at, last_message_preview, created_at, updated_at
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
		if err := rows.Scan(&c.ID, &c.ContextType, &c.ContextID, &c.ContextTitle, &c.UnreadCount,
			&c.LastMessageAt, &c.LastMessagePreview, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil when unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, context_type, context_id, context_title, unread_count, last_message_at, last_message_preview, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.ContextType, &c.ContextID, &c.ContextTitle, &c.UnreadCount,
			&c.LastMessageAt, &c.LastMessagePreview, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListParticipants returns the mirrored members of a conversation.
func (db *DB) ListParticipants(conversationID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT conversation_id, user_id, username, avatar_url
		FROM participants WHERE conversation_id = ?
		ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Username, &p.AvatarURL); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// TotalUnread sums the mirrored unread counters.
func (db *DB) TotalUnread() (int, error) {
	var total int
	err := db.QueryRow(`SELECT COALESCE(SUM(unread_count), 0) FROM conversations`).Scan(&total)
	return total, err
}
