package chat

import (
	"context"
	"time"
)

// Store is the persistence driver behind the Message Log. Implementations do
// not enforce participation; Log does that before calling them.
type Store interface {
	// GetOrCreateConversation returns the single active conversation for the
	// triple, creating it if absent. A store that loses a concurrent creation
	// race may return a ConflictError; Log retries on it.
	GetOrCreateConversation(ctx context.Context, patientID, providerID, appointmentID string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListConversations returns every conversation in which the identity is
	// the patient or the user bound to the provider profile, most recently
	// active first.
	ListConversations(ctx context.Context, identityID, providerID string) ([]Conversation, error)
	// AppendMessage stores a message and advances the conversation's sequence
	// and last-activity time as one atomic step.
	AppendMessage(ctx context.Context, conversationID, senderID, body string, at time.Time) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int64, error)
	// MarkRead flips every unread message not sent by readerID and returns
	// exactly the ids flipped by this call.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
}

// Directory resolves users and the binding between provider profiles and the
// users that own them.
type Directory interface {
	// ProviderUserID returns the user id bound to a provider profile.
	ProviderUserID(ctx context.Context, providerID string) (string, error)
	// ProviderIDForUser returns the provider profile owned by a user, or ""
	// when the user has none.
	ProviderIDForUser(ctx context.Context, userID string) (string, error)
	// UserRole returns the role of a registered user, or a NotFoundError.
	UserRole(ctx context.Context, userID string) (Role, error)
}
