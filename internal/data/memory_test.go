package data

import (
	"context"
	"errors"
	"testing"

	"github.com/mediconnect/consult-relay/internal/chat"
)

func TestMemoryUsersAndProviders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u, err := m.CreateUser(ctx, " Doc@Example.com ", "hash", "Dr A", chat.RoleProvider)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Email != "doc@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if _, err := m.CreateUser(ctx, "DOC@example.com", "hash", "Dr A", chat.RoleProvider); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	got, err := m.GetUserByEmail(ctx, "doc@EXAMPLE.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail = %+v, %v", got, err)
	}

	pid, err := m.ProviderIDForUser(ctx, u.ID.Hex())
	if err != nil || pid != "" {
		t.Fatalf("expected no provider profile yet, got %q, %v", pid, err)
	}
	p, err := m.CreateProvider(ctx, u.ID, "Dr A")
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if uid, _ := m.ProviderUserID(ctx, p.ID.Hex()); uid != u.ID.Hex() {
		t.Fatalf("ProviderUserID = %q", uid)
	}
	if pid, _ := m.ProviderIDForUser(ctx, u.ID.Hex()); pid != p.ID.Hex() {
		t.Fatalf("ProviderIDForUser = %q", pid)
	}

	if role, err := m.UserRole(ctx, u.ID.Hex()); err != nil || role != chat.RoleProvider {
		t.Fatalf("UserRole = %q, %v", role, err)
	}
	if _, err := m.UserRole(ctx, "nope"); !chat.IsNotFound(err) {
		t.Fatalf("expected NotFoundError for unknown user, got %v", err)
	}

	if err := m.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := m.GetUserByEmail(ctx, "doc@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound after delete, got %v", err)
	}
}
