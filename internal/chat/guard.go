package chat

import "context"

// Guard decides whether an identity may act on a conversation.
type Guard struct {
	dir Directory
}

func NewGuard(dir Directory) *Guard {
	return &Guard{dir: dir}
}

// Participant returns nil when identityID is the conversation's patient or the
// user bound to its provider profile, and a ForbiddenError otherwise.
func (g *Guard) Participant(ctx context.Context, conv Conversation, identityID string) error {
	if identityID == "" {
		return &ForbiddenError{ConversationID: conv.ID, Reason: "no identity"}
	}
	if identityID == conv.PatientID {
		return nil
	}
	providerUser, err := g.dir.ProviderUserID(ctx, conv.ProviderID)
	if err != nil {
		if IsNotFound(err) {
			return &ForbiddenError{IdentityID: identityID, ConversationID: conv.ID}
		}
		return err
	}
	if providerUser == identityID {
		return nil
	}
	return &ForbiddenError{IdentityID: identityID, ConversationID: conv.ID}
}

// Counterpart returns the user id of the participant other than identityID.
// The caller must already have passed Participant.
func (g *Guard) Counterpart(ctx context.Context, conv Conversation, identityID string) (string, error) {
	if identityID != conv.PatientID {
		return conv.PatientID, nil
	}
	return g.dir.ProviderUserID(ctx, conv.ProviderID)
}
