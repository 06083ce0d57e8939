package chat

import (
	"errors"
	"fmt"
)

// AuthError is a missing, invalid or expired credential.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthenticated: %s: %v", e.Reason, e.Err)
	}
	return "unauthenticated: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ForbiddenError means the identity is authenticated but not allowed to touch
// the conversation.
type ForbiddenError struct {
	IdentityID     string
	ConversationID string
	Reason         string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return "forbidden: " + e.Reason
	}
	return fmt.Sprintf("forbidden: %s is not a participant of conversation %s", e.IdentityID, e.ConversationID)
}

// NotFoundError is an unknown conversation, provider or message id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError is reported by a store that lost a get-or-create race. It is
// consumed by Log.GetOrCreateConversation and never reaches a caller.
type ConflictError struct {
	Resource string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %v", e.Resource, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ValidationError is bad input on the durable-mutation boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProtocolError is a malformed live-channel frame. It closes only the
// offending connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// ErrAlreadyRegistered is returned when a connection is registered twice.
var ErrAlreadyRegistered = errors.New("connection already registered")

// ErrUnknownConnection is returned for operations on a connection the registry
// does not hold.
var ErrUnknownConnection = errors.New("unknown connection")

func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsProtocol(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}
