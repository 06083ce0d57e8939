package chat

import (
	"encoding/json"
	"fmt"
)

// Live-channel event names, relay to client.
const (
	EventReceiveMessage = "receive_message"
	EventMessagesRead   = "messages_read"
	EventUserTyping     = "user_typing"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventError          = "error"
)

// Live-channel command names, client to relay.
const (
	CommandJoinRoom  = "join_room"
	CommandLeaveRoom = "leave_room"
	CommandTyping    = "typing"
)

// Event is a relay-to-client event. The set of implementations is closed.
type Event interface {
	EventName() string
	sealed()
}

// ReceiveMessage carries a complete stored message.
type ReceiveMessage struct {
	Message Message
}

// MessagesRead tells a sender which of their messages were read.
type MessagesRead struct {
	Receipt ReadReceipt
}

// UserTyping is a client-signalled typing state. It is never persisted.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	IdentityID     string `json:"identityId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresenceChanged is emitted on an identity's first connect and last disconnect.
type PresenceChanged struct {
	IdentityID string `json:"identityId"`
	Online     bool   `json:"-"`
}

// ErrorNotice reports a rejected command back to the connection that sent it.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ReceiveMessage) EventName() string { return EventReceiveMessage }
func (MessagesRead) EventName() string   { return EventMessagesRead }
func (UserTyping) EventName() string     { return EventUserTyping }
func (ErrorNotice) EventName() string    { return EventError }

func (p PresenceChanged) EventName() string {
	if p.Online {
		return EventUserOnline
	}
	return EventUserOffline
}

func (ReceiveMessage) sealed()  {}
func (MessagesRead) sealed()    {}
func (UserTyping) sealed()      {}
func (PresenceChanged) sealed() {}
func (ErrorNotice) sealed()     {}

// Frame is the wire shape shared by every transport.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame serializes an event into its wire frame.
func EncodeFrame(ev Event) (Frame, error) {
	var payload any
	switch e := ev.(type) {
	case ReceiveMessage:
		payload = e.Message
	case MessagesRead:
		payload = e.Receipt
	default:
		payload = e
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return Frame{Event: ev.EventName(), Data: data}, nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(f Frame) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EventReceiveMessage:
		var m Message
		err = json.Unmarshal(f.Data, &m)
		ev = ReceiveMessage{Message: m}
	case EventMessagesRead:
		var r ReadReceipt
		err = json.Unmarshal(f.Data, &r)
		ev = MessagesRead{Receipt: r}
	case EventUserTyping:
		var t UserTyping
		err = json.Unmarshal(f.Data, &t)
		ev = t
	case EventUserOnline, EventUserOffline:
		var p PresenceChanged
		err = json.Unmarshal(f.Data, &p)
		p.Online = f.Event == EventUserOnline
		ev = p
	case EventError:
		var n ErrorNotice
		err = json.Unmarshal(f.Data, &n)
		ev = n
	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return ev, nil
}

// Command is a client-to-relay frame.
type Command struct {
	Event    string `json:"event"`
	RoomKey  string `json:"roomKey"`
	IsTyping bool   `json:"isTyping"`
}

// ParseCommand decodes a raw client frame. Any decoding failure is a
// ProtocolError.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, &ProtocolError{Reason: "malformed frame: " + err.Error()}
	}
	return cmd, nil
}
