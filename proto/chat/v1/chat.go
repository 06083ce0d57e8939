// Package v1 is the chat.v1 gRPC API. Messages travel as JSON using the codec
// registered by this package.
package v1

import (
	"encoding/json"
	"time"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

func (r *RegisterRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

type AuthResponse struct {
	Token      string    `json:"token"`
	UserId     string    `json:"userId"`
	Role       string    `json:"role"`
	ProviderId string    `json:"providerId,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CreateOrGetConversationRequest names the other participant: patients set
// ProviderId, providers set PatientId.
type CreateOrGetConversationRequest struct {
	ProviderId    string `json:"providerId,omitempty"`
	PatientId     string `json:"patientId,omitempty"`
	AppointmentId string `json:"appointmentId,omitempty"`
}

type Conversation struct {
	Id            string     `json:"id"`
	PatientId     string     `json:"patientId"`
	ProviderId    string     `json:"providerId"`
	AppointmentId string     `json:"appointmentId,omitempty"`
	Status        string     `json:"status"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type ListConversationsRequest struct{}

type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int64         `json:"unreadCount"`
}

type SendMessageRequest struct {
	ConversationId string `json:"conversationId"`
	Body           string `json:"body"`
}

type Message struct {
	Id             string     `json:"id"`
	ConversationId string     `json:"conversationId"`
	SenderId       string     `json:"senderId"`
	Body           string     `json:"body"`
	Type           string     `json:"type"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	Seq            int64      `json:"seq"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type ListMessagesRequest struct {
	ConversationId string `json:"conversationId"`
}

type MarkReadRequest struct {
	ConversationId string `json:"conversationId"`
}

type ReadReceipt struct {
	ConversationId string   `json:"conversationId"`
	MessageIds     []string `json:"messageIds"`
	ReaderId       string   `json:"readerId"`
}

type GetPresenceRequest struct {
	UserId string `json:"userId"`
}

type Presence struct {
	UserId string `json:"userId"`
	Online bool   `json:"online"`
}

// ClientFrame is a live-channel command: join_room, leave_room or typing.
type ClientFrame struct {
	Event    string `json:"event"`
	RoomKey  string `json:"roomKey,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

// ServerFrame is a live-channel event.
type ServerFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
