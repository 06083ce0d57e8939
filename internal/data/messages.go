package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mediconnect/consult-relay/internal/chat"
)

// MessagesStore is the MongoDB chat.Store. Appends run in a transaction, so
// the deployment must be a replica set.
type MessagesStore struct {
	client *mongo.Client
	convs  *mongo.Collection
	msgs   *mongo.Collection
}

func NewMessagesStore(client *mongo.Client, convs, msgs *mongo.Collection) *MessagesStore {
	return &MessagesStore{client: client, convs: convs, msgs: msgs}
}

var _ chat.Store = (*MessagesStore)(nil)

func (m *MessagesStore) GetOrCreateConversation(ctx context.Context, patientID, providerID, appointmentID string) (chat.Conversation, error) {
	filter := bson.M{
		"patient_id":     patientID,
		"provider_id":    providerID,
		"appointment_id": appointmentID,
		"status":         string(chat.StatusActive),
	}
	now := time.Now().UTC()
	update := bson.M{"$setOnInsert": bson.M{
		"message_seq": int64(0),
		"created_at":  now,
		"updated_at":  now,
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc conversationDoc
	err := m.convs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toChat(), nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return chat.Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}

	// Another upsert inserted the row between our match and insert.
	if err := m.convs.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Conversation{}, &chat.ConflictError{Resource: "conversation", Err: err}
		}
		return chat.Conversation{}, fmt.Errorf("find conversation after conflict: %w", err)
	}
	return doc.toChat(), nil
}

func (m *MessagesStore) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return chat.Conversation{}, &chat.NotFoundError{Resource: "conversation", ID: id}
	}
	var doc conversationDoc
	if err := m.convs.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Conversation{}, &chat.NotFoundError{Resource: "conversation", ID: id}
		}
		return chat.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return doc.toChat(), nil
}

func (m *MessagesStore) ListConversations(ctx context.Context, identityID, providerID string) ([]chat.Conversation, error) {
	or := bson.A{bson.M{"patient_id": identityID}}
	if providerID != "" {
		or = append(or, bson.M{"provider_id": providerID})
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "last_message_at", Value: -1},
		{Key: "created_at", Value: -1},
	})

	cursor, err := m.convs.Find(ctx, bson.M{"$or": or}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	out := make([]chat.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toChat())
	}
	return out, nil
}

// AppendMessage bumps the conversation's sequence and activity time and
// inserts the message in one transaction.
func (m *MessagesStore) AppendMessage(ctx context.Context, conversationID, senderID, body string, at time.Time) (chat.Message, error) {
	oid, err := bson.ObjectIDFromHex(conversationID)
	if err != nil {
		return chat.Message{}, &chat.NotFoundError{Resource: "conversation", ID: conversationID}
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return chat.Message{}, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	result, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		var conv conversationDoc
		err := m.convs.FindOneAndUpdate(ctx,
			bson.M{"_id": oid},
			bson.M{
				"$inc": bson.M{"message_seq": 1},
				"$set": bson.M{"last_message_at": at, "updated_at": at},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&conv)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, &chat.NotFoundError{Resource: "conversation", ID: conversationID}
			}
			return nil, fmt.Errorf("advance conversation: %w", err)
		}

		doc := messageDoc{
			ConversationID: conversationID,
			SenderID:       senderID,
			Body:           body,
			Type:           string(chat.MessageTypeText),
			Seq:            conv.MessageSeq,
			CreatedAt:      at,
		}
		res, err := m.msgs.InsertOne(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		doc.ID = res.InsertedID.(bson.ObjectID)
		return doc, nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	return result.(messageDoc).toChat(), nil
}

func (m *MessagesStore) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := m.msgs.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toChat())
	}
	return out, nil
}

func (m *MessagesStore) LastMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	var doc messageDoc
	if err := m.msgs.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find last message: %w", err)
	}
	msg := doc.toChat()
	return &msg, nil
}

func (m *MessagesStore) CountUnread(ctx context.Context, conversationID, readerID string) (int64, error) {
	n, err := m.msgs.CountDocuments(ctx, unreadFilter(conversationID, readerID))
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkRead tags every flipped message with a fresh batch token and reads the
// ids back by that token, so concurrent callers never see each other's ids.
func (m *MessagesStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	batch := uuid.NewString()
	res, err := m.msgs.UpdateMany(ctx,
		unreadFilter(conversationID, readerID),
		bson.M{"$set": bson.M{"read": true, "read_at": at, "read_batch": batch}},
	)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if res.ModifiedCount == 0 {
		return []string{}, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	cursor, err := m.msgs.Find(ctx, bson.M{"conversation_id": conversationID, "read_batch": batch}, opts)
	if err != nil {
		return nil, fmt.Errorf("find read batch: %w", err)
	}
	defer cursor.Close(ctx)

	ids := make([]string, 0, res.ModifiedCount)
	for cursor.Next(ctx) {
		var doc struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode read batch: %w", err)
		}
		ids = append(ids, doc.ID.Hex())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate read batch: %w", err)
	}
	return ids, nil
}

func unreadFilter(conversationID, readerID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": readerID},
		"read":            false,
	}
}
