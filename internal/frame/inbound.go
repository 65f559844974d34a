package frame

import "github.com/matheus3301/campuschat/internal/roomcrypt"

// Authenticated completes the handshake.
type Authenticated struct {
	UserID int64 `json:"user_id"`
}

func (Authenticated) Kind() Kind { return KindAuthenticated }

// NewMessage is a direct message. Messages sent by the local user are echoed
// back on this channel as well.
type NewMessage struct {
	Data MessageData `json:"data"`
}

func (NewMessage) Kind() Kind { return KindNewMessage }

type MessageData struct {
	ID          ID     `json:"id"`
	Content     string `json:"content"`
	SenderID    int64  `json:"sender_id"`
	RecipientID *int64 `json:"recipient_id,omitempty"`
	CreatedAt   Time   `json:"created_at"`
	MessageType string `json:"message_type"`
}

type MessageStatusUpdate struct {
	MessageID ID     `json:"message_id"`
	Status    string `json:"status"`
}

func (MessageStatusUpdate) Kind() Kind { return KindMessageStatusUpdate }

type TypingIndicator struct {
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

func (TypingIndicator) Kind() Kind { return KindTypingIndicator }

// Error is a protocol-level failure reported by the server.
type Error struct {
	Message string `json:"message"`
}

func (Error) Kind() Kind { return KindError }

type JoinedRoom struct {
	RoomID     string `json:"room_id"`
	UserCount  int    `json:"user_count"`
	TTLStarted bool   `json:"ttl_started"`
	ExpiresIn  *int   `json:"expires_in"`
	IsCreator  bool   `json:"is_creator"`
}

func (JoinedRoom) Kind() Kind     { return KindJoinedRoom }
func (f JoinedRoom) Room() string { return f.RoomID }

type RoomCreated struct {
	RoomID string `json:"room_id"`
}

func (RoomCreated) Kind() Kind     { return KindRoomCreated }
func (f RoomCreated) Room() string { return f.RoomID }

type RoomNotFound struct {
	RoomID string `json:"room_id"`
}

func (RoomNotFound) Kind() Kind     { return KindRoomNotFound }
func (f RoomNotFound) Room() string { return f.RoomID }

// Occupancy is the participant and TTL refresh carried by join/leave notices.
// Nil fields were absent from the frame.
type Occupancy struct {
	RoomID     string `json:"room_id"`
	UserCount  int    `json:"user_count"`
	TTLStarted *bool  `json:"ttl_started"`
	ExpiresIn  *int   `json:"expires_in"`
}

type UserJoinedRoom struct {
	Occupancy
}

func (UserJoinedRoom) Kind() Kind     { return KindUserJoinedRoom }
func (f UserJoinedRoom) Room() string { return f.RoomID }

type UserLeftRoom struct {
	Occupancy
}

func (UserLeftRoom) Kind() Kind     { return KindUserLeftRoom }
func (f UserLeftRoom) Room() string { return f.RoomID }

// RoomMessage is an encrypted payload relayed from another participant.
type RoomMessage struct {
	RoomID    string             `json:"room_id"`
	Payload   roomcrypt.Envelope `json:"payload"`
	Timestamp Time               `json:"timestamp"`
	SenderID  *int64             `json:"sender_id"`
}

func (RoomMessage) Kind() Kind     { return KindRoomMessage }
func (f RoomMessage) Room() string { return f.RoomID }

type LeftRoom struct {
	RoomID string `json:"room_id"`
}

func (LeftRoom) Kind() Kind     { return KindLeftRoom }
func (f LeftRoom) Room() string { return f.RoomID }

type RoomExpired struct {
	RoomID string `json:"room_id"`
}

func (RoomExpired) Kind() Kind     { return KindRoomExpired }
func (f RoomExpired) Room() string { return f.RoomID }

type RoomEnded struct {
	RoomID string `json:"room_id"`
}

func (RoomEnded) Kind() Kind     { return KindRoomEnded }
func (f RoomEnded) Room() string { return f.RoomID }

// Unknown is any frame kind this client does not handle.
type Unknown struct {
	Type Kind
}

func (f Unknown) Kind() Kind { return f.Type }
