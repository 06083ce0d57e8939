package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mediconnect/consult-relay/internal/chat"
)

// User maps to the users collection.
type User struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Email       string        `bson:"email"`
	Password    string        `bson:"password"`
	DisplayName string        `bson:"display_name"`
	Role        chat.Role     `bson:"role"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}

// Provider maps to the providers collection: the provider profile a provider
// user owns. Its id is what conversations reference.
type Provider struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	UserID      bson.ObjectID `bson:"user_id"`
	DisplayName string        `bson:"display_name"`
	CreatedAt   time.Time     `bson:"created_at"`
}

// conversationDoc maps to the conversations collection. AppointmentID is ""
// for unscoped conversations so the unique index treats them as one key.
type conversationDoc struct {
	ID            bson.ObjectID `bson:"_id,omitempty"`
	PatientID     string        `bson:"patient_id"`
	ProviderID    string        `bson:"provider_id"`
	AppointmentID string        `bson:"appointment_id"`
	Status        string        `bson:"status"`
	MessageSeq    int64         `bson:"message_seq"`
	LastMessageAt *time.Time    `bson:"last_message_at,omitempty"`
	CreatedAt     time.Time     `bson:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at"`
}

func (d conversationDoc) toChat() chat.Conversation {
	return chat.Conversation{
		ID:            d.ID.Hex(),
		PatientID:     d.PatientID,
		ProviderID:    d.ProviderID,
		AppointmentID: d.AppointmentID,
		Status:        chat.ConversationStatus(d.Status),
		LastMessageAt: d.LastMessageAt,
		CreatedAt:     d.CreatedAt,
	}
}

// messageDoc maps to the messages collection.
type messageDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID string        `bson:"conversation_id"`
	SenderID       string        `bson:"sender_id"`
	Body           string        `bson:"body"`
	Type           string        `bson:"type"`
	Read           bool          `bson:"read"`
	ReadAt         *time.Time    `bson:"read_at,omitempty"`
	ReadBatch      string        `bson:"read_batch,omitempty"`
	Seq            int64         `bson:"seq"`
	CreatedAt      time.Time     `bson:"created_at"`
}

func (d messageDoc) toChat() chat.Message {
	return chat.Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Body:           d.Body,
		Type:           chat.MessageType(d.Type),
		Read:           d.Read,
		ReadAt:         d.ReadAt,
		Seq:            d.Seq,
		CreatedAt:      d.CreatedAt,
	}
}
