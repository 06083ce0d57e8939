// Package logger configures slog and carries per-request log fields in the
// context.
package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with a context that carries them.
type LogFields struct {
	ConnectionID   string
	IdentityID     string
	ConversationID string
	Method         string // RPC or HTTP route
	Component      string // e.g. "relay", "gateway.ws"
}

// WithLogFields merges fields into the context. Non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return LogFields{}
	}
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.ConnectionID != "" {
		result.ConnectionID = next.ConnectionID
	}
	if next.IdentityID != "" {
		result.IdentityID = next.IdentityID
	}
	if next.ConversationID != "" {
		result.ConversationID = next.ConversationID
	}
	if next.Method != "" {
		result.Method = next.Method
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}
