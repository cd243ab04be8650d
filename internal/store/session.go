package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnsureSession returns the deployment session row, creating it in
// INITIALIZING state if it does not exist yet.
func (db *DB) EnsureSession(sessionID string) (*Session, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, StateInitializing, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return db.GetSession(sessionID)
}

// GetSession returns the session row, or nil when it does not exist.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var s Session
	var blob []byte
	var linkedID string
	var lastConnected sql.NullInt64
	err := db.QueryRow(`
		SELECT session_id, status, credential_blob, linked_identifier, last_connected_at
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&s.SessionID, &s.Status, &blob, &linkedID, &lastConnected)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CredentialBlob = blob
	s.LinkedIdentifier = linkedID
	s.LastConnectedAt = lastConnected.Int64
	return &s, nil
}

// SaveCredentials overwrites the session credential blob wholesale. There is
// no partial merge: the blob stored is exactly the blob given.
func (db *DB) SaveCredentials(sessionID string, blob []byte) error {
	_, err := db.Exec(`
		UPDATE sessions SET credential_blob = ?, updated_at = ?
		WHERE session_id = ?`, blob, time.Now().UnixMilli(), sessionID)
	return err
}

// LoadCredentials returns the stored credential blob, or nil when none exists.
func (db *DB) LoadCredentials(sessionID string) ([]byte, error) {
	s, err := db.GetSession(sessionID)
	if err != nil || s == nil {
		return nil, err
	}
	return s.CredentialBlob, nil
}

// SetSessionStatus records the session state.
func (db *DB) SetSessionStatus(sessionID, status string) error {
	_, err := db.Exec(`
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE session_id = ?`, status, time.Now().UnixMilli(), sessionID)
	return err
}

// SetSessionConnected records a successful connection open: the linked
// identifier and the connect timestamp, alongside the CONNECTED state.
func (db *DB) SetSessionConnected(sessionID, linkedIdentifier string, at int64) error {
	_, err := db.Exec(`
		UPDATE sessions SET status = ?, linked_identifier = ?, last_connected_at = ?, updated_at = ?
		WHERE session_id = ?`,
		StateConnected, linkedIdentifier, at, time.Now().UnixMilli(), sessionID)
	return err
}
