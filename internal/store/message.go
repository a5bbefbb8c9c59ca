package store

import "fmt"

// UpsertMessage inserts or updates a message and its attachments
// (idempotent on msg_id).
func (db *DB) UpsertMessage(m *Message, attachments []Attachment) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO messages (msg_id, conversation_id, sender_id, sender_name, body, message_type, is_edited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			is_edited = excluded.is_edited`,
		m.MsgID, m.ConversationID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.IsEdited, m.CreatedAt); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if len(attachments) > 0 {
		if _, err := tx.Exec(`DELETE FROM attachments WHERE msg_id = ?`, m.MsgID); err != nil {
			return fmt.Errorf("clear attachments: %w", err)
		}
		for _, a := range attachments {
			if _, err := tx.Exec(`
				INSERT INTO attachments (msg_id, url, file_name, file_type, file_size)
				VALUES (?, ?, ?, ?, ?)`,
				m.MsgID, a.URL, a.FileName, a.FileType, a.FileSize); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
	}

	return tx.Commit()
}

// ListMessages returns messages for a conversation using keyset pagination
// by creation time, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = int64(^uint64(0) >> 1)
	}
	rows, err := db.Query(`
		SELECT id, msg_id, conversation_id, sender_id, sender_name, body, message_type, is_edited, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.ConversationID, &m.SenderID, &m.SenderName,
			&m.Body, &m.MessageType, &m.IsEdited, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListAttachments returns the attachments of a message.
func (db *DB) ListAttachments(msgID string) ([]Attachment, error) {
	rows, err := db.Query(`
		SELECT msg_id, url, file_name, file_type, file_size
		FROM attachments WHERE msg_id = ?`, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.MsgID, &a.URL, &a.FileName, &a.FileType, &a.FileSize); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
