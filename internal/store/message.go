package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on peer_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db.DB, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMessage(e execer, m *Message) error {
	_, err := e.Exec(`
		INSERT INTO messages (peer_id, msg_id, sender_id, body, message_type, from_me, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE messages.status END`,
		m.PeerID, m.MsgID, m.SenderID, m.Body, m.MessageType, m.FromMe, m.Status, m.CreatedAt)
	return err
}

// ReplaceMessage swaps a temporary message for its server-confirmed version
// in one transaction.
func (db *DB) ReplaceMessage(oldMsgID string, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE peer_id = ? AND msg_id = ?`, m.PeerID, oldMsgID); err != nil {
		return err
	}
	if err := upsertMessage(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertMessages stores a batch of messages in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for i := range msgs {
		if err := upsertMessage(tx, &msgs[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateMessageStatus sets the delivery status of every copy of msgID.
func (db *DB) UpdateMessageStatus(msgID, status string) (int64, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMessage removes one message.
func (db *DB) DeleteMessage(peerID int64, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE peer_id = ? AND msg_id = ?`, peerID, msgID)
	return err
}

// ListMessages returns messages for a peer using keyset pagination by
// creation time, newest first.
func (db *DB) ListMessages(peerID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, peer_id, msg_id, sender_id, body, message_type, from_me, status, created_at
		FROM messages
		WHERE peer_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, peerID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.PeerID, &m.MsgID, &m.SenderID, &m.Body, &m.MessageType, &m.FromMe, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
