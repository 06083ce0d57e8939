package chat

import (
	"context"
	"log/slog"

	"github.com/mediconnect/consult-relay/internal/logger"
)

// Service is the boundary both transports call: durable mutations that
// return the stored record, followed by best-effort fan-out, and the live
// channel's command handling.
type Service struct {
	log       *Log
	convs     *Conversations
	reg       *Registry
	relay     *Relay
	queueSize int

	// order holds a conversation's append and its fan-out together so every
	// member sees that conversation's events in commit order.
	order stripedMutex

	presence PresenceTracker
	// presenceOrder serializes tracker updates per identity.
	presenceOrder stripedMutex
}

// PresenceTracker shares online state between relay instances. Join is called
// on an identity's first local connection and Leave on its last.
type PresenceTracker interface {
	// Join records the identity as online here and reports whether another
	// instance already has it online.
	Join(ctx context.Context, identityID string) (elsewhere bool, err error)
	// Leave clears the identity here and reports whether another instance
	// still has it online.
	Leave(ctx context.Context, identityID string) (elsewhere bool, err error)
	OnlineElsewhere(ctx context.Context, identityID string) (bool, error)
}

func NewService(log *Log, dir Directory, reg *Registry, relay *Relay, queueSize int) *Service {
	return &Service{
		log:       log,
		convs:     NewConversations(log, dir),
		reg:       reg,
		relay:     relay,
		queueSize: queueSize,
	}
}

// WithPresence makes presence announcements and queries span every instance
// that shares t.
func (s *Service) WithPresence(t PresenceTracker) *Service {
	s.presence = t
	return s
}

func (s *Service) CreateOrGetConversation(ctx context.Context, caller Identity, req OpenRequest) (Conversation, error) {
	return s.convs.GetOrCreate(ctx, caller, req)
}

func (s *Service) ListConversations(ctx context.Context, caller Identity) ([]ConversationSummary, error) {
	return s.log.Summaries(ctx, caller.ID)
}

func (s *Service) ListMessages(ctx context.Context, caller Identity, conversationID string) ([]Message, error) {
	return s.log.ListMessages(ctx, conversationID, caller.ID)
}

// SendMessage appends a message and, once it is committed, relays it to the
// conversation room and the recipient's private room. originConnID is the
// caller's live connection, if it has one, and is skipped by the fan-out.
func (s *Service) SendMessage(ctx context.Context, caller Identity, conversationID, body, originConnID string) (Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{IdentityID: caller.ID, ConversationID: conversationID})

	unlock := s.order.lock(conversationID)
	defer unlock()

	msg, conv, err := s.log.AppendMessage(ctx, conversationID, caller.ID, body)
	if err != nil {
		return Message{}, err
	}

	recipient, err := s.log.Guard().Counterpart(ctx, conv, caller.ID)
	if err != nil {
		slog.WarnContext(ctx, "resolve recipient for fan-out", "error", err)
		recipient = ""
	}
	s.relay.MessageAppended(ctx, msg, recipient, originConnID)
	return msg, nil
}

// MarkRead marks the caller's pending messages read and sends the exact id set
// to the other participant's private room.
func (s *Service) MarkRead(ctx context.Context, caller Identity, conversationID string) (ReadReceipt, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{IdentityID: caller.ID, ConversationID: conversationID})

	unlock := s.order.lock(conversationID)
	defer unlock()

	receipt, conv, err := s.log.MarkReadAndGetIDs(ctx, conversationID, caller.ID)
	if err != nil {
		return ReadReceipt{}, err
	}
	if len(receipt.MessageIDs) == 0 {
		return receipt, nil
	}

	sender, err := s.log.Guard().Counterpart(ctx, conv, caller.ID)
	if err != nil {
		slog.WarnContext(ctx, "resolve sender for read receipt", "error", err)
		return receipt, nil
	}
	s.relay.MessagesRead(ctx, receipt, sender)
	return receipt, nil
}

// Authenticate verifies a live-channel handshake token.
func (s *Service) Authenticate(token string) (Identity, error) {
	return s.reg.Authenticate(token)
}

// Online reports whether the identity has a live connection on this or, with
// a presence tracker, any other instance.
func (s *Service) Online(ctx context.Context, identityID string) bool {
	if s.reg.Online(identityID) {
		return true
	}
	if s.presence == nil {
		return false
	}
	elsewhere, err := s.presence.OnlineElsewhere(ctx, identityID)
	if err != nil {
		slog.WarnContext(ctx, "presence lookup failed", "identity_id", identityID, "error", err)
		return false
	}
	return elsewhere
}

// Connect registers a new live connection for identity.
func (s *Service) Connect(ctx context.Context, identity Identity) (*Connection, error) {
	conn := NewConnection(identity, s.queueSize)
	first, err := s.reg.Register(conn)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConnectionID: conn.ID, IdentityID: identity.ID})
	slog.InfoContext(ctx, "connection registered", "role", string(identity.Role))
	if first && s.presence != nil {
		unlock := s.presenceOrder.lock(identity.ID)
		defer unlock()
		elsewhere, err := s.presence.Join(ctx, identity.ID)
		if err != nil {
			slog.WarnContext(ctx, "presence join failed", "error", err)
		}
		first = !elsewhere
	}
	if first {
		s.relay.Presence(ctx, identity.ID, true, conn.ID)
	}
	return conn, nil
}

// Disconnect removes conn from the registry. Extra calls are no-ops.
func (s *Service) Disconnect(ctx context.Context, conn *Connection) {
	removed, last, identity := s.reg.Disconnect(conn.ID)
	if !removed {
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConnectionID: conn.ID, IdentityID: identity.ID})
	slog.InfoContext(ctx, "connection closed")
	if last && s.presence != nil {
		unlock := s.presenceOrder.lock(identity.ID)
		defer unlock()
		// A new local connection may have arrived since the registry
		// reported last.
		if s.reg.Online(identity.ID) {
			return
		}
		elsewhere, err := s.presence.Leave(ctx, identity.ID)
		if err != nil {
			slog.WarnContext(ctx, "presence leave failed", "error", err)
		}
		last = !elsewhere
	}
	if last {
		s.relay.Presence(ctx, identity.ID, false, conn.ID)
	}
}

// HandleFrame decodes and applies one client frame. Only a ProtocolError is
// returned, and the transport must close the connection on it. Any other
// failure is reported to the connection as an error event.
func (s *Service) HandleFrame(ctx context.Context, conn *Connection, raw []byte) error {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return err
	}
	return s.HandleCommand(ctx, conn, cmd)
}

// HandleCommand applies an already-decoded client command.
func (s *Service) HandleCommand(ctx context.Context, conn *Connection, cmd Command) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConnectionID: conn.ID, IdentityID: conn.Identity.ID})
	err := s.apply(ctx, conn, cmd)
	if err == nil {
		return nil
	}
	if IsProtocol(err) {
		slog.WarnContext(ctx, "closing connection on protocol error", "event", cmd.Event, "error", err)
		return err
	}
	code := ErrorCode(err)
	msg := err.Error()
	if code == "internal" {
		slog.ErrorContext(ctx, "command failed", "event", cmd.Event, "error", err)
		msg = "internal error"
	} else {
		slog.InfoContext(ctx, "command rejected", "event", cmd.Event, "error", err)
	}
	s.relay.Notify(ctx, conn, ErrorNotice{Code: code, Message: msg})
	return nil
}

func (s *Service) apply(ctx context.Context, conn *Connection, cmd Command) error {
	switch cmd.Event {
	case CommandJoinRoom:
		id, err := ParseConversationRoom(cmd.RoomKey)
		if err != nil {
			return err
		}
		conv, err := s.log.Conversation(ctx, id, conn.Identity.ID)
		if err != nil {
			return err
		}
		return s.reg.JoinRoom(conn.ID, ConversationRoom(conv.ID))

	case CommandLeaveRoom:
		id, err := ParseConversationRoom(cmd.RoomKey)
		if err != nil {
			return err
		}
		return s.reg.LeaveRoom(conn.ID, ConversationRoom(id))

	case CommandTyping:
		id, err := ParseConversationRoom(cmd.RoomKey)
		if err != nil {
			return err
		}
		if !s.reg.IsMember(conn.ID, ConversationRoom(id)) {
			return &ForbiddenError{IdentityID: conn.Identity.ID, ConversationID: id, Reason: "join the room before sending typing state"}
		}
		s.relay.Typing(ctx, id, conn, cmd.IsTyping)
		return nil

	case "":
		return &ProtocolError{Reason: "event is required"}
	}
	return &ProtocolError{Reason: "unknown event " + cmd.Event}
}

// ErrorCode maps an error to the short code sent in error events.
func ErrorCode(err error) string {
	switch {
	case IsAuth(err):
		return "unauthenticated"
	case IsForbidden(err):
		return "forbidden"
	case IsNotFound(err):
		return "not_found"
	case IsValidation(err):
		return "invalid_argument"
	case IsProtocol(err):
		return "protocol_error"
	}
	return "internal"
}
