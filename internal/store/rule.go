package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateRule persists a new auto-reply rule, assigning its id and creation time.
func (db *DB) CreateRule(r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO autoreply_rules (id, keyword, reply_message, match_type, case_sensitive,
			enabled, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Keyword, r.ReplyMessage, r.MatchType, r.CaseSensitive,
		r.Enabled, r.Priority, r.CreatedAt, time.Now().UnixMilli())
	return err
}

// UpdateRule overwrites the mutable fields of an existing rule.
// Returns false when the rule does not exist.
func (db *DB) UpdateRule(r *Rule) (bool, error) {
	res, err := db.Exec(`
		UPDATE autoreply_rules SET keyword = ?, reply_message = ?, match_type = ?,
			case_sensitive = ?, enabled = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		r.Keyword, r.ReplyMessage, r.MatchType, r.CaseSensitive, r.Enabled,
		r.Priority, time.Now().UnixMilli(), r.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteRule removes a rule by id. Returns false when the rule does not exist.
func (db *DB) DeleteRule(id string) (bool, error) {
	res, err := db.Exec(`DELETE FROM autoreply_rules WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRule returns a rule by id, or nil when unknown.
func (db *DB) GetRule(id string) (*Rule, error) {
	row := db.QueryRow(`
		SELECT id, keyword, reply_message, match_type, case_sensitive, enabled, priority, created_at
		FROM autoreply_rules WHERE id = ?`, id)
	var r Rule
	err := row.Scan(&r.ID, &r.Keyword, &r.ReplyMessage, &r.MatchType, &r.CaseSensitive,
		&r.Enabled, &r.Priority, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns all rules in evaluation order.
func (db *DB) ListRules() ([]Rule, error) {
	return db.queryRules(`
		SELECT id, keyword, reply_message, match_type, case_sensitive, enabled, priority, created_at
		FROM autoreply_rules
		ORDER BY priority ASC, created_at DESC`)
}

// ListEnabledRules returns enabled rules ordered by ascending priority,
// newest-first on ties. This is the order the engine evaluates them in.
func (db *DB) ListEnabledRules() ([]Rule, error) {
	return db.queryRules(`
		SELECT id, keyword, reply_message, match_type, case_sensitive, enabled, priority, created_at
		FROM autoreply_rules
		WHERE enabled = 1
		ORDER BY priority ASC, created_at DESC`)
}

func (db *DB) queryRules(query string) ([]Rule, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Keyword, &r.ReplyMessage, &r.MatchType,
			&r.CaseSensitive, &r.Enabled, &r.Priority, &r.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
