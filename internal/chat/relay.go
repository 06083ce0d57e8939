package chat

import (
	"context"
	"log/slog"

	"github.com/mediconnect/consult-relay/internal/logger"
)

// Envelope is a fan-out as it travels between relay instances.
type Envelope struct {
	Origin  string    `json:"origin"`
	Rooms   []RoomKey `json:"rooms,omitempty"`
	All     bool      `json:"all,omitempty"`
	Exclude string    `json:"exclude,omitempty"`
	Frame   Frame     `json:"event"`
}

// Bus carries fan-outs to other relay instances. Publish must not block on
// the network.
type Bus interface {
	Publish(ctx context.Context, env Envelope)
}

// Relay turns committed log changes into live deliveries. It never persists
// anything and never reports delivery failures to its caller.
type Relay struct {
	reg        *Registry
	bus        Bus
	instanceID string
}

func NewRelay(reg *Registry) *Relay {
	return &Relay{reg: reg}
}

// WithBus makes the relay mirror every fan-out onto bus. instanceID lets the
// relay ignore its own envelopes when they come back.
func (r *Relay) WithBus(bus Bus, instanceID string) *Relay {
	r.bus = bus
	r.instanceID = instanceID
	return r
}

// MessageAppended delivers a stored message to the conversation room and the
// recipient's private room. originConnID, when set, is skipped.
func (r *Relay) MessageAppended(ctx context.Context, msg Message, recipientID, originConnID string) {
	rooms := []RoomKey{ConversationRoom(msg.ConversationID)}
	if recipientID != "" {
		rooms = append(rooms, IdentityRoom(recipientID))
	}
	r.fanOut(ctx, rooms, originConnID, ReceiveMessage{Message: msg})
}

// MessagesRead tells the original sender which of their messages were read.
// Empty receipts are not delivered.
func (r *Relay) MessagesRead(ctx context.Context, receipt ReadReceipt, senderID string) {
	if len(receipt.MessageIDs) == 0 || senderID == "" {
		return
	}
	r.fanOut(ctx, []RoomKey{IdentityRoom(senderID)}, "", MessagesRead{Receipt: receipt})
}

// Typing delivers a typing state to the conversation room, minus the
// connection that sent it.
func (r *Relay) Typing(ctx context.Context, conversationID string, from *Connection, isTyping bool) {
	ev := UserTyping{ConversationID: conversationID, IdentityID: from.Identity.ID, IsTyping: isTyping}
	r.fanOut(ctx, []RoomKey{ConversationRoom(conversationID)}, from.ID, ev)
}

// Presence announces an identity's first connect or last disconnect to every
// other live connection.
func (r *Relay) Presence(ctx context.Context, identityID string, online bool, originConnID string) {
	ev := PresenceChanged{IdentityID: identityID, Online: online}
	r.deliverAll(ctx, originConnID, ev)
	r.publish(ctx, Envelope{All: true, Exclude: originConnID}, ev)
}

// Notify sends an event to one connection.
func (r *Relay) Notify(ctx context.Context, conn *Connection, ev Event) {
	if !conn.Deliver(ev) {
		slog.WarnContext(ctx, "dropped event for connection", "event", ev.EventName(), "connection_id", conn.ID)
	}
}

// Receive delivers an envelope published by another instance to local members.
func (r *Relay) Receive(ctx context.Context, env Envelope) {
	if env.Origin != "" && env.Origin == r.instanceID {
		return
	}
	ev, err := DecodeFrame(env.Frame)
	if err != nil {
		slog.WarnContext(ctx, "discarding undecodable envelope", "origin", env.Origin, "error", err)
		return
	}
	if env.All {
		r.deliverAll(ctx, env.Exclude, ev)
		return
	}
	r.deliver(ctx, env.Rooms, env.Exclude, ev)
}

func (r *Relay) fanOut(ctx context.Context, rooms []RoomKey, exclude string, ev Event) {
	r.deliver(ctx, rooms, exclude, ev)
	r.publish(ctx, Envelope{Rooms: rooms, Exclude: exclude}, ev)
}

// deliver enqueues ev once per connection across the union of rooms.
func (r *Relay) deliver(ctx context.Context, rooms []RoomKey, exclude string, ev Event) int {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay"})
	seen := make(map[string]struct{})
	delivered := 0
	for _, room := range rooms {
		for _, c := range r.reg.MembersOf(room) {
			if c.ID == exclude {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			if c.Deliver(ev) {
				delivered++
				continue
			}
			slog.WarnContext(ctx, "dropped event for connection",
				"event", ev.EventName(), "connection_id", c.ID, "room", string(room))
		}
	}
	if delivered == 0 {
		slog.DebugContext(ctx, "no live targets for event", "event", ev.EventName())
	}
	return delivered
}

func (r *Relay) deliverAll(ctx context.Context, exclude string, ev Event) {
	for _, c := range r.reg.All() {
		if c.ID == exclude {
			continue
		}
		if !c.Deliver(ev) {
			slog.WarnContext(ctx, "dropped event for connection", "event", ev.EventName(), "connection_id", c.ID)
		}
	}
}

func (r *Relay) publish(ctx context.Context, env Envelope, ev Event) {
	if r.bus == nil {
		return
	}
	frame, err := EncodeFrame(ev)
	if err != nil {
		slog.ErrorContext(ctx, "encode event for bus", "event", ev.EventName(), "error", err)
		return
	}
	env.Origin = r.instanceID
	env.Frame = frame
	r.bus.Publish(ctx, env)
}
