// Package chat implements the consultation messaging core: the durable message
// log, the access guard, the live connection registry and the relay that fans
// committed log changes out to connected clients.
package chat

import (
	"strings"
	"time"
)

// Role is the authenticated role of an identity. It always comes from the
// verified credential, never from client input.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleProvider
}

// Identity is an authenticated user.
type Identity struct {
	ID   string
	Role Role
}

// ConversationStatus is the administrative lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusClosed   ConversationStatus = "closed"
	StatusArchived ConversationStatus = "archived"
)

// MessageType tags message content. Only text is supported end to end.
type MessageType string

const MessageTypeText MessageType = "text"

// Conversation is the durable identity of a thread between one patient and one
// provider, optionally scoped to an appointment.
type Conversation struct {
	ID            string             `json:"id"`
	PatientID     string             `json:"patientId"`
	ProviderID    string             `json:"providerId"`
	AppointmentID string             `json:"appointmentId,omitempty"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt *time.Time         `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Message is a single stored chat message. Seq is the per-conversation commit
// order assigned by the log at append time.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Body           string      `json:"body"`
	Type           MessageType `json:"type"`
	Read           bool        `json:"read"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
	Seq            int64       `json:"seq"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ConversationSummary is a conversation as shown in a participant's chat list.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
}

// ReadReceipt is the outcome of one mark-read call. MessageIDs is exactly the
// set flipped by that call.
type ReadReceipt struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReaderID       string   `json:"readerId"`
}

// RoomKey addresses a fan-out group.
type RoomKey string

const (
	conversationRoomPrefix = "chat_"
	identityRoomPrefix     = "user_"
)

// ConversationRoom returns the room key of a conversation.
func ConversationRoom(conversationID string) RoomKey {
	return RoomKey(conversationRoomPrefix + conversationID)
}

// IdentityRoom returns the private room key of an identity.
func IdentityRoom(identityID string) RoomKey {
	return RoomKey(identityRoomPrefix + identityID)
}

// ParseConversationRoom accepts either a bare conversation id or a chat_ room
// key and returns the conversation id. Private rooms are never joinable.
func ParseConversationRoom(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ProtocolError{Reason: "room key is required"}
	}
	if strings.HasPrefix(raw, identityRoomPrefix) {
		return "", &ForbiddenError{Reason: "private rooms cannot be joined"}
	}
	id := strings.TrimPrefix(raw, conversationRoomPrefix)
	if id == "" {
		return "", &ProtocolError{Reason: "room key is required"}
	}
	return id, nil
}
