package store

// Contact is the cached conversation summary for one peer.
type Contact struct {
	PeerID        int64
	Name          string
	LastMessage   string
	LastMessageAt int64 // unix millis, 0 when unknown
	UnreadCount   int
	IsOnline      bool
}

// Message is a cached direct message.
type Message struct {
	ID          int64
	PeerID      int64
	MsgID       string
	SenderID    int64
	Body        string
	MessageType string
	FromMe      bool
	Status      string
	CreatedAt   int64 // unix millis
}

// OutboxEntry represents a queued outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	PeerID       int64
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
