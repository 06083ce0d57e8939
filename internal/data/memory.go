package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/normalize"
)

// Memory is a process-local backend for single-instance deployments and
// tests. It implements chat.Store, chat.Directory and the account stores.
type Memory struct {
	mu sync.Mutex

	users     map[bson.ObjectID]*User
	byEmail   map[string]bson.ObjectID
	providers map[bson.ObjectID]*Provider

	convs    map[string]*conversationDoc
	active   map[convKey]string
	messages map[string][]*messageDoc
}

type convKey struct {
	patient, provider, appointment string
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[bson.ObjectID]*User),
		byEmail:   make(map[string]bson.ObjectID),
		providers: make(map[bson.ObjectID]*Provider),
		convs:     make(map[string]*conversationDoc),
		active:    make(map[convKey]string),
		messages:  make(map[string][]*messageDoc),
	}
}

var (
	_ chat.Store     = (*Memory)(nil)
	_ chat.Directory = (*Memory)(nil)
)

func (m *Memory) CreateUser(_ context.Context, email, hashedPassword, displayName string, role chat.Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = normalize.Email(email)
	if _, ok := m.byEmail[email]; ok {
		return nil, ErrUserExists
	}
	now := time.Now().UTC()
	u := &User{
		ID:          bson.NewObjectID(),
		Email:       email,
		Password:    hashedPassword,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.users[u.ID] = u
	m.byEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (m *Memory) DeleteUser(_ context.Context, id bson.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		delete(m.byEmail, u.Email)
		delete(m.users, id)
	}
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[normalize.Email(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) CreateProvider(_ context.Context, userID bson.ObjectID, displayName string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Provider{ID: bson.NewObjectID(), UserID: userID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	m.providers[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *Memory) ProviderUserID(_ context.Context, providerID string) (string, error) {
	oid, err := bson.ObjectIDFromHex(providerID)
	if err != nil {
		return "", &chat.NotFoundError{Resource: "provider", ID: providerID}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[oid]
	if !ok {
		return "", &chat.NotFoundError{Resource: "provider", ID: providerID}
	}
	return p.UserID.Hex(), nil
}

func (m *Memory) ProviderIDForUser(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.UserID.Hex() == userID {
			return p.ID.Hex(), nil
		}
	}
	return "", nil
}

func (m *Memory) UserRole(_ context.Context, userID string) (chat.Role, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return "", &chat.NotFoundError{Resource: "user", ID: userID}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[oid]
	if !ok {
		return "", &chat.NotFoundError{Resource: "user", ID: userID}
	}
	return u.Role, nil
}

func (m *Memory) GetOrCreateConversation(_ context.Context, patientID, providerID, appointmentID string) (chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := convKey{patientID, providerID, appointmentID}
	if id, ok := m.active[key]; ok {
		return m.convs[id].toChat(), nil
	}
	now := time.Now().UTC()
	doc := &conversationDoc{
		ID:            bson.NewObjectID(),
		PatientID:     patientID,
		ProviderID:    providerID,
		AppointmentID: appointmentID,
		Status:        string(chat.StatusActive),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id := doc.ID.Hex()
	m.convs[id] = doc
	m.active[key] = id
	return doc.toChat(), nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.convs[id]
	if !ok {
		return chat.Conversation{}, &chat.NotFoundError{Resource: "conversation", ID: id}
	}
	return doc.toChat(), nil
}

func (m *Memory) ListConversations(_ context.Context, identityID, providerID string) ([]chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []*conversationDoc
	for _, d := range m.convs {
		if d.PatientID == identityID || (providerID != "" && d.ProviderID == providerID) {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	out := make([]chat.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toChat())
	}
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, conversationID, senderID, body string, at time.Time) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return chat.Message{}, &chat.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	conv.MessageSeq++
	ts := at
	conv.LastMessageAt = &ts
	conv.UpdatedAt = at

	doc := &messageDoc{
		ID:             bson.NewObjectID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Type:           string(chat.MessageTypeText),
		Seq:            conv.MessageSeq,
		CreatedAt:      at,
	}
	m.messages[conversationID] = append(m.messages[conversationID], doc)
	return doc.toChat(), nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.messages[conversationID]
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toChat())
	}
	return out, nil
}

func (m *Memory) LastMessage(_ context.Context, conversationID string) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.messages[conversationID]
	if len(docs) == 0 {
		return nil, nil
	}
	msg := docs[len(docs)-1].toChat()
	return &msg, nil
}

func (m *Memory) CountUnread(_ context.Context, conversationID, readerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.messages[conversationID] {
		if !d.Read && d.SenderID != readerID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for _, d := range m.messages[conversationID] {
		if d.Read || d.SenderID == readerID {
			continue
		}
		ts := at
		d.Read = true
		d.ReadAt = &ts
		ids = append(ids, d.ID.Hex())
	}
	return ids, nil
}
