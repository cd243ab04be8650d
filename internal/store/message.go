package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertMessage persists a message keyed by its external protocol id.
// Inserting an id that already exists is a no-op: the stored row is never
// overwritten and no duplicate is created. The returned bool reports whether
// a genuine insert happened.
func (db *DB) InsertMessage(m *Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	res, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, msg_id, peer_jid, sender_jid, recipient_jid,
			from_me, type, body, content, timestamp, status, quoted_msg_id, is_auto_reply, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO NOTHING`,
		m.ID, m.ConversationID, m.MsgID, m.PeerJID, m.SenderJID, m.RecipientJID,
		m.FromMe, m.Type, m.Body, m.Content, m.Timestamp, m.Status,
		nullIfEmpty(m.QuotedMsgID), m.IsAutoReply, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetMessageByExternalID returns the message with the given protocol id,
// or nil when unknown.
func (db *DB) GetMessageByExternalID(msgID string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, msg_id, peer_jid, sender_jid, recipient_jid,
			from_me, type, body, content, timestamp, status, quoted_msg_id, is_auto_reply
		FROM messages WHERE msg_id = ?`, msgID)
	return scanMessage(row)
}

// ListMessages returns messages for a peer using keyset pagination by timestamp.
func (db *DB) ListMessages(peerJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, peer_jid, sender_jid, recipient_jid,
			from_me, type, body, content, timestamp, status, quoted_msg_id, is_auto_reply
		FROM messages
		WHERE peer_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, peerJID, beforeTs, limit)
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

// UpdateMessageStatus sets the delivery status of a message by external id.
// Returns false when no such message is stored.
func (db *DB) UpdateMessageStatus(msgID, status string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var quoted sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.PeerJID, &m.SenderJID,
		&m.RecipientJID, &m.FromMe, &m.Type, &m.Body, &m.Content, &m.Timestamp,
		&m.Status, &quoted, &m.IsAutoReply)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.QuotedMsgID = quoted.String
	return &m, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
