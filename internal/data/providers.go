package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mediconnect/consult-relay/internal/chat"
)

// ProvidersStore holds provider profiles and resolves them to their users.
// It is the chat.Directory of the Mongo backend.
type ProvidersStore struct {
	coll  *mongo.Collection
	users *mongo.Collection // read only, for role lookups
}

func NewProvidersStore(coll, users *mongo.Collection) *ProvidersStore {
	return &ProvidersStore{coll: coll, users: users}
}

var _ chat.Directory = (*ProvidersStore)(nil)

// CreateProvider binds a new provider profile to userID.
func (p *ProvidersStore) CreateProvider(ctx context.Context, userID bson.ObjectID, displayName string) (*Provider, error) {
	prov := &Provider{UserID: userID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	result, err := p.coll.InsertOne(ctx, prov)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	prov.ID = result.InsertedID.(bson.ObjectID)
	return prov, nil
}

func (p *ProvidersStore) ProviderUserID(ctx context.Context, providerID string) (string, error) {
	oid, err := bson.ObjectIDFromHex(providerID)
	if err != nil {
		return "", &chat.NotFoundError{Resource: "provider", ID: providerID}
	}
	var prov Provider
	if err := p.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&prov); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", &chat.NotFoundError{Resource: "provider", ID: providerID}
		}
		return "", fmt.Errorf("find provider: %w", err)
	}
	return prov.UserID.Hex(), nil
}

func (p *ProvidersStore) ProviderIDForUser(ctx context.Context, userID string) (string, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return "", nil
	}
	var prov Provider
	if err := p.coll.FindOne(ctx, bson.M{"user_id": oid}).Decode(&prov); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", fmt.Errorf("find provider by user: %w", err)
	}
	return prov.ID.Hex(), nil
}

func (p *ProvidersStore) UserRole(ctx context.Context, userID string) (chat.Role, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return "", &chat.NotFoundError{Resource: "user", ID: userID}
	}
	var user User
	opts := options.FindOne().SetProjection(bson.M{"role": 1})
	if err := p.users.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", &chat.NotFoundError{Resource: "user", ID: userID}
		}
		return "", fmt.Errorf("find user role: %w", err)
	}
	return user.Role, nil
}
