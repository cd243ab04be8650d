package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnsureConversation returns the conversation for the given peer, creating it
// with the provided display name if it does not exist yet.
func (db *DB) EnsureConversation(peerJID, displayName string) (*Conversation, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_jid, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer_jid) DO NOTHING`,
		uuid.NewString(), peerJID, displayName, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return db.GetConversationByPeer(peerJID)
}

// GetConversationByPeer returns a conversation by peer JID, or nil when none exists.
func (db *DB) GetConversationByPeer(peerJID string) (*Conversation, error) {
	var c Conversation
	var mutedUntil sql.NullInt64
	err := db.QueryRow(`
		SELECT id, peer_jid, display_name, unread_count, last_message_at, last_message_snippet,
			archived, pinned, muted_until
		FROM conversations WHERE peer_jid = ?`, peerJID).
		Scan(&c.ID, &c.PeerJID, &c.DisplayName, &c.UnreadCount, &c.LastMessageAt,
			&c.LastMessageSnippet, &c.Archived, &c.Pinned, &mutedUntil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.MutedUntil = mutedUntil.Int64
	return &c, nil
}

// TouchConversation records the latest message on a conversation. The unread
// counter is bumped atomically in SQL so concurrent bursts against the same
// peer cannot lose updates.
func (db *DB) TouchConversation(peerJID string, ts int64, snippet string, bumpUnread bool) error {
	bump := 0
	if bumpUnread {
		bump = 1
	}
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_at = ?,
			last_message_snippet = ?,
			unread_count = unread_count + ?,
			updated_at = ?
		WHERE peer_jid = ?`,
		ts, snippet, bump, time.Now().UnixMilli(), peerJID)
	return err
}

// MarkConversationRead resets the unread counter to zero and returns the
// updated conversation, or nil when the peer is unknown.
func (db *DB) MarkConversationRead(peerJID string) (*Conversation, error) {
	res, err := db.Exec(`
		UPDATE conversations SET unread_count = 0, updated_at = ?
		WHERE peer_jid = ?`, time.Now().UnixMilli(), peerJID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.GetConversationByPeer(peerJID)
}

// ListConversations returns conversations sorted by last message timestamp
// descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, peer_jid, display_name, unread_count, last_message_at, last_message_snippet,
			archived, pinned, muted_until
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
		var mutedUntil sql.NullInt64
		if err := rows.Scan(&c.ID, &c.PeerJID, &c.DisplayName, &c.UnreadCount, &c.LastMessageAt,
			&c.LastMessageSnippet, &c.Archived, &c.Pinned, &mutedUntil); err != nil {
			return nil, err
		}
		c.MutedUntil = mutedUntil.Int64
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
