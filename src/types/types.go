package types

import (
	"encoding/json"
	"time"
)

// Frame type tags shared by the inbound and outbound sides of the wire
// protocol. Inbound frames are client JSON text frames; outbound frames
// are encoded once and fanned out as Events.
const (
	FrameMessage     = "message"
	FrameChatMessage = "chat_message" // inbound alias for FrameMessage
	FrameTyping      = "typing"
	FrameReadReceipt = "read_receipt"
	FrameStatus      = "status"
	FrameNotify      = "notification"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameError       = "error"
)

// Notification sub-kinds carried inside a FrameNotify frame.
const (
	NotifyNewMessage = "new_message"
	NotifyNewMatch   = "new_match"
	NotifyNewLike    = "new_like"
	NotifySystem     = "system"
)

// Envelope is the minimal decode of any inbound frame, used to pick the
// concrete payload type.
type Envelope struct {
	Type string `json:"type"`
}

// SendMessageFrame is an inbound request to post a chat message.
type SendMessageFrame struct {
	Content string `json:"content"`
}

// TypingFrame is an inbound typing indicator.
type TypingFrame struct {
	IsTyping bool `json:"is_typing"`
}

// ReadReceiptFrame is an inbound read acknowledgement.
type ReadReceiptFrame struct {
	MessageID int64 `json:"message_id"`
}

// UserSummary is the public projection of a user attached to outbound
// frames and notifications.
type UserSummary struct {
	ID                int64   `json:"id"`
	Username          string  `json:"username"`
	ProfilePictureURL *string `json:"profile_picture_url"`
}

// ChatMessage is the outbound payload of a persisted chat message.
type ChatMessage struct {
	ID                      int64     `json:"id"`
	SenderID                int64     `json:"sender_id"`
	SenderUsername          string    `json:"sender_username"`
	SenderProfilePictureURL *string   `json:"sender_profile_picture_url"`
	Content                 string    `json:"content"`
	CreatedAt               time.Time `json:"created_at"`
	IsRead                  bool      `json:"is_read"`
}

// MatchSummary is the payload of a new_match notification: the match
// identity plus the other party's public summary.
type MatchSummary struct {
	ID        int64       `json:"id"`
	User      UserSummary `json:"user"`
	CreatedAt time.Time   `json:"created_at"`
}

// Notification is the inner object of a FrameNotify frame. At most one
// of Match, Message or Liker is set, depending on Kind.
type Notification struct {
	Kind      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Match     *MatchSummary `json:"match,omitempty"`
	Message   *ChatMessage  `json:"message,omitempty"`
	Liker     *UserSummary  `json:"liker,omitempty"`
	Text      string        `json:"text,omitempty"`
}

// Outbound frame shapes. Each is encoded exactly once per broadcast.

type MessageOut struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

type TypingOut struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ReadReceiptOut struct {
	Type      string    `json:"type"`
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusOut struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type NotificationOut struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

type PongOut struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorOut struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Event is a pre-encoded outbound frame addressed to a broadcast group.
// Data is the serialized frame; encoding happens once, before fan-out.
type Event struct {
	Group string          `json:"group"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// NewEvent encodes frame and wraps it as an Event for group.
func NewEvent(group, kind string, frame any) (Event, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return Event{}, err
	}
	return Event{Group: group, Kind: kind, Data: data}, nil
}

// ClientInfo holds metadata about a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Groups      []string  `json:"groups"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}
