package chat

import (
	"context"
	"time"

	"github.com/matheus3301/campuschat/internal/chatapi"
	"github.com/matheus3301/campuschat/internal/frame"
)

// Direction tells whether the local user sent or received a message.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// TempPrefix marks locally generated ids of optimistic sends.
const TempPrefix = "temp-"

// Message is one direct message as shown in a conversation.
type Message struct {
	ID        string
	Direction Direction
	Body      string
	SenderID  *int64
	CreatedAt time.Time
	Kind      string
	Status    Status
}

// Pending reports whether the message still carries a temporary id.
func (m Message) Pending() bool {
	return len(m.ID) > len(TempPrefix) && m.ID[:len(TempPrefix)] == TempPrefix
}

// Contact is the conversation summary for one peer.
type Contact struct {
	PeerID        int64
	Name          string
	LastMessage   string
	LastMessageAt *time.Time
	UnreadCount   int
	IsOnline      bool
}

// Sender is the part of the connection manager the handler sends through.
type Sender interface {
	Send(f frame.Outbound) bool
	Authenticated() bool
}

// API is the REST collaborator.
type API interface {
	Contacts(ctx context.Context) ([]chatapi.Contact, error)
	Conversation(ctx context.Context, peerID int64) ([]chatapi.HistoryMessage, error)
	Send(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendResult, error)
}

// Recorder persists chat state outside memory. Calls happen synchronously
// from the handler and must not call back into it.
type Recorder interface {
	RecordMessage(peerID int64, m Message) error
	ReplaceMessage(peerID int64, oldID string, m Message) error
	DropMessage(peerID int64, id string) error
	RecordStatus(id string, s Status) error
	RecordContact(c Contact) error
	RecordHistory(peerID int64, msgs []Message) error
	CachedConversation(peerID int64) ([]Message, error)
	CachedContacts() ([]Contact, error)
}

// Bus event payloads.
type (
	MessageEvent struct {
		PeerID  int64
		Message Message
	}
	ReplacedEvent struct {
		PeerID  int64
		OldID   string
		Message Message
	}
	DroppedEvent struct {
		PeerID int64
		ID     string
	}
	StatusEvent struct {
		ID     string
		Status Status
	}
	TypingEvent struct {
		UserID   int64
		IsTyping bool
	}
)

// ServerError is a protocol error reported by the server. It is surfaced to
// the user and never retried.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server error: " + e.Message }
