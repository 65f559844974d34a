// Package sync persists chat state into the local cache store.
package sync

import (
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of chat state into the store. It is
// the chat handler's Recorder.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

var _ chat.Recorder = (*Engine)(nil)

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// RecordMessage stores one message (idempotent on peer + id).
func (e *Engine) RecordMessage(peerID int64, m chat.Message) error {
	if err := e.db.UpsertMessage(toStore(peerID, m)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// ReplaceMessage swaps an optimistic message for its confirmed version.
func (e *Engine) ReplaceMessage(peerID int64, oldID string, m chat.Message) error {
	if err := e.db.ReplaceMessage(oldID, toStore(peerID, m)); err != nil {
		return fmt.Errorf("replace message: %w", err)
	}
	return nil
}

// DropMessage removes a message that was never delivered.
func (e *Engine) DropMessage(peerID int64, id string) error {
	return e.db.DeleteMessage(peerID, id)
}

// RecordStatus updates the delivery status of a message.
func (e *Engine) RecordStatus(id string, s chat.Status) error {
	_, err := e.db.UpdateMessageStatus(id, string(s))
	return err
}

// RecordContact stores a contact summary.
func (e *Engine) RecordContact(c chat.Contact) error {
	sc := &store.Contact{
		PeerID:      c.PeerID,
		Name:        c.Name,
		LastMessage: truncate(c.LastMessage, 100),
		UnreadCount: c.UnreadCount,
		IsOnline:    c.IsOnline,
	}
	if c.LastMessageAt != nil {
		sc.LastMessageAt = c.LastMessageAt.UnixMilli()
	}
	if err := e.db.UpsertContact(sc); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// RecordHistory stores a reloaded conversation in one transaction and
// checkpoints the load time.
func (e *Engine) RecordHistory(peerID int64, msgs []chat.Message) error {
	batch := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, *toStore(peerID, m))
	}
	if err := e.db.UpsertMessages(batch); err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	now := time.Now()
	if err := e.setCheckpoint(historyKey(peerID), strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to update history checkpoint", zap.Int64("peer_id", peerID), zap.Error(err))
	}
	e.bus.Emit(bus.SyncHistoryStored, HistoryStored{PeerID: peerID, Messages: len(batch)})
	return nil
}

// CachedConversation returns the cached messages with peerID, oldest first.
func (e *Engine) CachedConversation(peerID int64) ([]chat.Message, error) {
	rows, err := e.db.ListMessages(peerID, 0, 200)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, len(rows))
	for i, r := range rows {
		// ListMessages is newest first.
		out[len(rows)-1-i] = fromStore(r)
	}
	return out, nil
}

// CachedContacts returns all cached contact summaries.
func (e *Engine) CachedContacts() ([]chat.Contact, error) {
	rows, err := e.db.ListContacts()
	if err != nil {
		return nil, err
	}
	out := make([]chat.Contact, 0, len(rows))
	for _, r := range rows {
		c := chat.Contact{
			PeerID:      r.PeerID,
			Name:        r.Name,
			LastMessage: r.LastMessage,
			UnreadCount: r.UnreadCount,
			IsOnline:    r.IsOnline,
		}
		if r.LastMessageAt > 0 {
			t := time.UnixMilli(r.LastMessageAt)
			c.LastMessageAt = &t
		}
		out = append(out, c)
	}
	return out, nil
}

// LastHistorySync returns when the conversation with peerID was last loaded.
func (e *Engine) LastHistorySync(peerID int64) (time.Time, bool) {
	v, err := e.getCheckpoint(historyKey(peerID))
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (e *Engine) setCheckpoint(key, value string) error {
	_, err := e.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

func (e *Engine) getCheckpoint(key string) (string, error) {
	var value string
	err := e.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	return value, err
}

// HistoryStored is the payload of bus.SyncHistoryStored.
type HistoryStored struct {
	PeerID   int64
	Messages int
}

func historyKey(peerID int64) string {
	return "history." + strconv.FormatInt(peerID, 10)
}

func toStore(peerID int64, m chat.Message) *store.Message {
	sm := &store.Message{
		PeerID:      peerID,
		MsgID:       m.ID,
		Body:        m.Body,
		MessageType: m.Kind,
		FromMe:      m.Direction == chat.Sent,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt.UnixMilli(),
	}
	if m.SenderID != nil {
		sm.SenderID = *m.SenderID
	}
	if sm.MessageType == "" {
		sm.MessageType = "text"
	}
	return sm
}

func fromStore(r store.Message) chat.Message {
	m := chat.Message{
		ID:        r.MsgID,
		Direction: chat.Received,
		Body:      r.Body,
		CreatedAt: time.UnixMilli(r.CreatedAt),
		Kind:      r.MessageType,
		Status:    chat.Status(r.Status),
	}
	if r.FromMe {
		m.Direction = chat.Sent
	}
	if r.SenderID != 0 {
		sender := r.SenderID
		m.SenderID = &sender
	}
	return m
}

// truncate keeps at most maxLen runes of s.
func truncate(s string, maxLen int) string {
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}
