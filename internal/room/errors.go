package room

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomActive   = errors.New("a room session is already active")
	ErrNoRoom       = errors.New("no active room")
	ErrNotJoined    = errors.New("room not joined")
	ErrNotCreator   = errors.New("only the room creator can end the room")
	ErrNotConnected = errors.New("not connected")
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned to waiters when the pending session was left or
	// abandoned before the server confirmed it.
	ErrClosed = errors.New("room session closed")
)
