// Package frame defines the JSON frames exchanged with the chat backend over
// the realtime transport. Every frame kind is its own Go type; Decode is the
// only place that looks at the "type" discriminator.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the value of the "type" discriminator.
type Kind string

// Client to server.
const (
	KindAuthenticate      Kind = "authenticate"
	KindSendMessage       Kind = "send_message"
	KindCreatePrivateRoom Kind = "create_private_room"
	KindJoinPrivateRoom   Kind = "join_private_room"
	KindRoomMessage       Kind = "room_message"
	KindLeavePrivateRoom  Kind = "leave_private_room"
	KindEndRoom           Kind = "end_room"
	KindMarkDelivered     Kind = "mark_delivered"
	KindMarkRead          Kind = "mark_read"
	KindTyping            Kind = "typing"
)

// Server to client. room_message is shared with the outbound direction.
const (
	KindAuthenticated       Kind = "authenticated"
	KindNewMessage          Kind = "new_message"
	KindMessageStatusUpdate Kind = "message_status_update"
	KindTypingIndicator     Kind = "typing_indicator"
	KindError               Kind = "error"
	KindJoinedRoom          Kind = "joined_room"
	KindRoomCreated         Kind = "room_created"
	KindRoomNotFound        Kind = "room_not_found"
	KindUserJoinedRoom      Kind = "user_joined_room"
	KindUserLeftRoom        Kind = "user_left_room"
	KindLeftRoom            Kind = "left_room"
	KindRoomExpired         Kind = "room_expired"
	KindRoomEnded           Kind = "room_ended"
)

// ErrMalformed is wrapped by Decode for frames that are not valid JSON objects
// or whose body does not match the declared kind.
var ErrMalformed = errors.New("malformed frame")

// Outbound is a frame the client sends.
type Outbound interface {
	Kind() Kind
}

// Inbound is a frame the server sends.
type Inbound interface {
	Kind() Kind
}

// RoomScoped is implemented by inbound frames that belong to a private room.
type RoomScoped interface {
	Inbound
	Room() string
}

// Encode serializes an outbound frame with its "type" field first.
func Encode(f Outbound) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Kind(), err)
	}
	head, err := json.Marshal(string(f.Kind()))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(head)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one inbound frame. Kinds this client does not know decode to
// Unknown without error.
func Decode(data []byte) (Inbound, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case KindAuthenticated:
		return decodeAs[Authenticated](data)
	case KindNewMessage:
		return decodeAs[NewMessage](data)
	case KindMessageStatusUpdate:
		return decodeAs[MessageStatusUpdate](data)
	case KindTypingIndicator:
		return decodeAs[TypingIndicator](data)
	case KindError:
		return decodeAs[Error](data)
	case KindJoinedRoom:
		return decodeAs[JoinedRoom](data)
	case KindRoomCreated:
		return decodeAs[RoomCreated](data)
	case KindRoomNotFound:
		return decodeAs[RoomNotFound](data)
	case KindUserJoinedRoom:
		return decodeAs[UserJoinedRoom](data)
	case KindUserLeftRoom:
		return decodeAs[UserLeftRoom](data)
	case KindRoomMessage:
		return decodeAs[RoomMessage](data)
	case KindLeftRoom:
		return decodeAs[LeftRoom](data)
	case KindRoomExpired:
		return decodeAs[RoomExpired](data)
	case KindRoomEnded:
		return decodeAs[RoomEnded](data)
	default:
		return Unknown{Type: head.Type}, nil
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Kind(), err)
	}
	return f, nil
}
