package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertContact inserts or replaces a contact summary.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (peer_id, name, last_message, last_message_at, unread_count, is_online, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			is_online = excluded.is_online,
			updated_at = excluded.updated_at`,
		c.PeerID, c.Name, c.LastMessage, c.LastMessageAt, c.UnreadCount, c.IsOnline, now)
	return err
}

// ResetUnread zeroes the unread counter of a contact.
func (db *DB) ResetUnread(peerID int64) error {
	_, err := db.Exec(`UPDATE contacts SET unread_count = 0, updated_at = ? WHERE peer_id = ?`,
		time.Now().UnixMilli(), peerID)
	return err
}

// ListContacts returns contacts with the most recent conversation first.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT peer_id, name, last_message, last_message_at, unread_count, is_online
		FROM contacts
		ORDER BY last_message_at DESC, peer_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.PeerID, &c.Name, &c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsOnline); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetContact returns a single contact, or nil when the peer is unknown.
func (db *DB) GetContact(peerID int64) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT peer_id, name, last_message, last_message_at, unread_count, is_online
		FROM contacts WHERE peer_id = ?`, peerID).
		Scan(&c.PeerID, &c.Name, &c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsOnline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
