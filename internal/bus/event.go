package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the first dot is the namespace that
// subscribers filter on.
const (
	ConnStatusChanged  = "conn.status_changed"
	ConnRetryScheduled = "conn.retry_scheduled"
	ConnRetryExhausted = "conn.retry_exhausted"

	ChatMessageAppended = "chat.message_appended"
	ChatMessageReplaced = "chat.message_replaced"
	ChatMessageDropped  = "chat.message_dropped"
	ChatMessageStatus   = "chat.message_status"
	ChatContactUpdated  = "chat.contact_updated"
	ChatTyping          = "chat.typing"
	ChatError           = "chat.error"

	SyncHistoryStored = "sync.history_stored"
	OutboxSendFailed  = "outbox.send_failed"
	OutboxSent        = "outbox.sent"

	RoomPhaseChanged  = "room.phase_changed"
	RoomUpdated       = "room.updated"
	RoomMessage       = "room.message"
	RoomDecryptFailed = "room.decrypt_failed"
	RoomClosed        = "room.closed"
)
