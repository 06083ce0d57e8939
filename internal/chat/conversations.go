package chat

import (
	"context"
	"strings"
)

// Conversations resolves who a conversation is between and hands the
// get-or-create to the Log. It holds no state of its own.
type Conversations struct {
	log *Log
	dir Directory
}

func NewConversations(log *Log, dir Directory) *Conversations {
	return &Conversations{log: log, dir: dir}
}

// OpenRequest names the other side of a conversation. Patients set ProviderID,
// providers set PatientID.
type OpenRequest struct {
	ProviderID    string `json:"providerId"`
	PatientID     string `json:"patientId"`
	AppointmentID string `json:"appointmentId"`
}

// GetOrCreate returns the conversation between caller and the counterpart
// named in req.
func (c *Conversations) GetOrCreate(ctx context.Context, caller Identity, req OpenRequest) (Conversation, error) {
	switch caller.Role {
	case RolePatient:
		if strings.TrimSpace(req.ProviderID) == "" {
			return Conversation{}, &ValidationError{Field: "providerId", Reason: "required"}
		}
		return c.log.GetOrCreateConversation(ctx, caller.ID, req.ProviderID, req.AppointmentID)

	case RoleProvider:
		if strings.TrimSpace(req.PatientID) == "" {
			return Conversation{}, &ValidationError{Field: "patientId", Reason: "required"}
		}
		own, err := c.dir.ProviderIDForUser(ctx, caller.ID)
		if err != nil {
			return Conversation{}, err
		}
		if own == "" {
			return Conversation{}, &ForbiddenError{IdentityID: caller.ID, Reason: "no provider profile"}
		}
		if req.ProviderID != "" && req.ProviderID != own {
			return Conversation{}, &ForbiddenError{IdentityID: caller.ID, Reason: "cannot open a conversation for another provider"}
		}
		if req.PatientID == caller.ID {
			return Conversation{}, &ValidationError{Field: "patientId", Reason: "cannot open a conversation with yourself"}
		}
		role, err := c.dir.UserRole(ctx, req.PatientID)
		if err != nil {
			return Conversation{}, err
		}
		if role != RolePatient {
			return Conversation{}, &ValidationError{Field: "patientId", Reason: "not a patient"}
		}
		return c.log.GetOrCreateConversation(ctx, req.PatientID, own, req.AppointmentID)
	}
	return Conversation{}, &ForbiddenError{IdentityID: caller.ID, Reason: "unknown role"}
}
