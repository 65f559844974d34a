package chatapi

import "github.com/matheus3301/campuschat/internal/frame"

// Contact is one entry of the contacts listing.
type Contact struct {
	ID             frame.ID   `json:"id"`
	ConversationID frame.ID   `json:"conversation_id"`
	Name           string     `json:"name"`
	PfpPath        string     `json:"pfp_path"`
	LatestMsg      string     `json:"latest_msg"`
	LatestMsgTime  frame.Time `json:"latest_msg_time"`
	UnreadCount    int        `json:"unread_count"`
	IsOnline       bool       `json:"is_online"`
	LastOnline     frame.Time `json:"last_online"`
}

// HistoryMessage is one message of a conversation history, already
// oriented relative to the caller.
type HistoryMessage struct {
	ID          frame.ID   `json:"id"`
	Type        string     `json:"type"` // sent or received
	Msg         string     `json:"msg"`
	Timestamp   frame.Time `json:"timestamp"`
	MessageType string     `json:"message_type"`
}

// Profile is a peer's public profile.
type Profile struct {
	Username   string     `json:"username"`
	Name       string     `json:"name"`
	Age        *int       `json:"age"`
	Sex        string     `json:"sex"`
	Score      *float64   `json:"score"`
	ProfilePic string     `json:"profile_pic"`
	Hobbies    []string   `json:"hobbies"`
	LastOnline frame.Time `json:"last_online"`
}

// DisplayName prefers the username over the real name.
func (p *Profile) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	return p.Name
}

// SendRequest is the body of the REST send fallback.
type SendRequest struct {
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendResult is what the backend returns for a REST send. Older backends
// answer with an empty body, leaving ID unset.
type SendResult struct {
	ID        frame.ID   `json:"id"`
	CreatedAt frame.Time `json:"created_at"`
}
