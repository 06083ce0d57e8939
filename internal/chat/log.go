package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBodyBytes bounds the size of a message body.
const MaxBodyBytes = 4096

const getOrCreateAttempts = 3

// Log is the Message Log: every read and write of conversations and messages
// goes through it, and it consults the Guard before touching a conversation.
type Log struct {
	store Store
	dir   Directory
	guard *Guard
	now   func() time.Time
}

func NewLog(store Store, dir Directory) *Log {
	return &Log{
		store: store,
		dir:   dir,
		guard: NewGuard(dir),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Guard returns the access guard used by the log.
func (l *Log) Guard() *Guard { return l.guard }

// GetOrCreateConversation returns the single active conversation for the
// triple. A lost creation race is retried and resolves to the winner's row.
func (l *Log) GetOrCreateConversation(ctx context.Context, patientID, providerID, appointmentID string) (Conversation, error) {
	if strings.TrimSpace(patientID) == "" {
		return Conversation{}, &ValidationError{Field: "patientId", Reason: "required"}
	}
	if strings.TrimSpace(providerID) == "" {
		return Conversation{}, &ValidationError{Field: "providerId", Reason: "required"}
	}
	if _, err := l.dir.ProviderUserID(ctx, providerID); err != nil {
		return Conversation{}, err
	}

	var lastErr error
	for attempt := 0; attempt < getOrCreateAttempts; attempt++ {
		conv, err := l.store.GetOrCreateConversation(ctx, patientID, providerID, strings.TrimSpace(appointmentID))
		if err == nil {
			return conv, nil
		}
		if !IsConflict(err) {
			return Conversation{}, err
		}
		lastErr = err
		slog.DebugContext(ctx, "get-or-create conversation lost race, retrying",
			"patient_id", patientID, "provider_id", providerID, "attempt", attempt+1)
	}
	// %v, not %w: a conflict never reaches the caller as a ConflictError.
	return Conversation{}, fmt.Errorf("get or create conversation: gave up after %d attempts: %v", getOrCreateAttempts, lastErr)
}

// Conversation loads a conversation and checks that identityID may access it.
func (l *Log) Conversation(ctx context.Context, conversationID, identityID string) (Conversation, error) {
	conv, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if err := l.guard.Participant(ctx, conv, identityID); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// ListConversationsFor returns the identity's conversations, most recently
// active first.
func (l *Log) ListConversationsFor(ctx context.Context, identityID string) ([]Conversation, error) {
	providerID, err := l.dir.ProviderIDForUser(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return l.store.ListConversations(ctx, identityID, providerID)
}

// Summaries decorates ListConversationsFor with the last message and the
// identity's unread count for each conversation.
func (l *Log) Summaries(ctx context.Context, identityID string) ([]ConversationSummary, error) {
	convs, err := l.ListConversationsFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		last, err := l.store.LastMessage(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		unread, err := l.store.CountUnread(ctx, c.ID, identityID)
		if err != nil {
			return nil, err
		}
		out = append(out, ConversationSummary{Conversation: c, LastMessage: last, UnreadCount: unread})
	}
	return out, nil
}

// AppendMessage stores a text message from senderID. The returned conversation
// is the one the message was appended to.
func (l *Log) AppendMessage(ctx context.Context, conversationID, senderID, body string) (Message, Conversation, error) {
	if err := validateBody(body); err != nil {
		return Message{}, Conversation{}, err
	}
	conv, err := l.Conversation(ctx, conversationID, senderID)
	if err != nil {
		return Message{}, Conversation{}, err
	}
	msg, err := l.store.AppendMessage(ctx, conv.ID, senderID, body, l.now())
	if err != nil {
		return Message{}, Conversation{}, err
	}
	return msg, conv, nil
}

// ListMessages returns the conversation's messages in commit order.
func (l *Log) ListMessages(ctx context.Context, conversationID, readerID string) ([]Message, error) {
	conv, err := l.Conversation(ctx, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	return l.store.ListMessages(ctx, conv.ID)
}

// MarkReadAndGetIDs flips every pending message not authored by readerID and
// returns exactly the ids this call changed.
func (l *Log) MarkReadAndGetIDs(ctx context.Context, conversationID, readerID string) (ReadReceipt, Conversation, error) {
	conv, err := l.Conversation(ctx, conversationID, readerID)
	if err != nil {
		return ReadReceipt{}, Conversation{}, err
	}
	ids, err := l.store.MarkRead(ctx, conv.ID, readerID, l.now())
	if err != nil {
		return ReadReceipt{}, Conversation{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ReadReceipt{ConversationID: conv.ID, MessageIDs: ids, ReaderID: readerID}, conv, nil
}

// validateBody checks a message body. The body is stored exactly as sent;
// escaping for display is the renderer's job.
func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "body", Reason: "required"}
	}
	if len(body) > MaxBodyBytes {
		return &ValidationError{Field: "body", Reason: "too long"}
	}
	if !utf8.ValidString(body) {
		return &ValidationError{Field: "body", Reason: "not valid UTF-8"}
	}
	return nil
}
