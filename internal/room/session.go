package room

import "time"

// Role is how the local user entered the room.
type Role string

const (
	Creator Role = "creator"
	Joiner  Role = "joiner"
)

// Session is a snapshot of the active room. Code is key material: it is
// kept in memory for display only and never logged or persisted.
type Session struct {
	Code             string
	Role             Role
	Phase            Phase
	ParticipantCount int
	TTLStarted       bool
	ExpiresIn        *int
	IsCreator        bool
	// Handle identifies the session in logs and events instead of the code.
	Handle string
}

func (s Session) clone() Session {
	if s.ExpiresIn != nil {
		v := *s.ExpiresIn
		s.ExpiresIn = &v
	}
	return s
}

// Message is a decrypted room message. It lives in memory only.
type Message struct {
	ID        string
	Plaintext string
	Timestamp time.Time
	IsSent    bool
	SenderID  *int64
}

// Closed is the payload of bus.RoomClosed.
type Closed struct {
	Handle  string
	Outcome Phase
	Reason  string
}

// MessageEvent is the payload of bus.RoomMessage.
type MessageEvent struct {
	Handle  string
	Message Message
}
