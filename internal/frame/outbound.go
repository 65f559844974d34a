package frame

import "github.com/matheus3301/campuschat/internal/roomcrypt"

// Authenticate is the first frame on every new transport.
type Authenticate struct {
	Token string `json:"token"`
}

func (Authenticate) Kind() Kind { return KindAuthenticate }

// SendMessage delivers a direct message.
type SendMessage struct {
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

func (SendMessage) Kind() Kind { return KindSendMessage }

type CreatePrivateRoom struct {
	RoomID string `json:"room_id"`
}

func (CreatePrivateRoom) Kind() Kind { return KindCreatePrivateRoom }

type JoinPrivateRoom struct {
	RoomID string `json:"room_id"`
}

func (JoinPrivateRoom) Kind() Kind { return KindJoinPrivateRoom }

// SendRoomMessage carries an already encrypted room payload.
type SendRoomMessage struct {
	RoomID  string             `json:"room_id"`
	Payload roomcrypt.Envelope `json:"payload"`
}

func (SendRoomMessage) Kind() Kind { return KindRoomMessage }

type LeavePrivateRoom struct {
	RoomID string `json:"room_id"`
}

func (LeavePrivateRoom) Kind() Kind { return KindLeavePrivateRoom }

type EndRoom struct {
	RoomID string `json:"room_id"`
}

func (EndRoom) Kind() Kind { return KindEndRoom }

type MarkDelivered struct {
	MessageID ID `json:"message_id"`
}

func (MarkDelivered) Kind() Kind { return KindMarkDelivered }

type MarkRead struct {
	MessageID ID `json:"message_id"`
}

func (MarkRead) Kind() Kind { return KindMarkRead }

type Typing struct {
	RecipientID int64 `json:"recipient_id"`
	IsTyping    bool  `json:"is_typing"`
}

func (Typing) Kind() Kind { return KindTyping }
