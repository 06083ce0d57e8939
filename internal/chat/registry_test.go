package chat

import (
	"errors"
	"sync"
	"testing"
)

type fakeVerifier map[string]Identity

func (f fakeVerifier) VerifyIdentity(token string) (Identity, error) {
	id, ok := f[token]
	if !ok {
		return Identity{}, errors.New("unknown token")
	}
	return id, nil
}

var (
	alice = Identity{ID: "alice", Role: RolePatient}
	bob   = Identity{ID: "bob", Role: RoleProvider}
)

func TestAuthenticate(t *testing.T) {
	r := NewRegistry(fakeVerifier{"good": alice, "empty": {}})

	id, err := r.Authenticate("Bearer good")
	if err != nil || id != alice {
		t.Fatalf("Authenticate(Bearer good) = %+v, %v", id, err)
	}
	for _, tok := range []string{"", "Bearer ", "bad", "empty"} {
		if _, err := r.Authenticate(tok); !IsAuth(err) {
			t.Errorf("Authenticate(%q): expected AuthError, got %v", tok, err)
		}
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	r := NewRegistry(fakeVerifier{})
	c := NewConnection(alice, 4)

	first, err := r.Register(c)
	if err != nil || !first {
		t.Fatalf("first Register = %v, %v", first, err)
	}
	if _, err := r.Register(c); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if !r.IsMember(c.ID, IdentityRoom(alice.ID)) {
		t.Fatal("connection not in its private room")
	}
}

func TestPresenceCountsConnections(t *testing.T) {
	r := NewRegistry(fakeVerifier{})
	c1 := NewConnection(alice, 4)
	c2 := NewConnection(alice, 4)

	if first, _ := r.Register(c1); !first {
		t.Fatal("first connection not reported as first")
	}
	if first, _ := r.Register(c2); first {
		t.Fatal("second connection reported as first")
	}

	if removed, last, _ := r.Disconnect(c1.ID); !removed || last {
		t.Fatalf("Disconnect(c1) = removed %v last %v", removed, last)
	}
	if !r.Online(alice.ID) {
		t.Fatal("alice offline with one connection left")
	}
	removed, last, id := r.Disconnect(c2.ID)
	if !removed || !last || id != alice {
		t.Fatalf("Disconnect(c2) = %v %v %+v", removed, last, id)
	}
	if r.Online(alice.ID) {
		t.Fatal("alice still online")
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	r := NewRegistry(fakeVerifier{})
	c := NewConnection(alice, 4)
	if _, err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	room := ConversationRoom("conv-1")

	for i := 0; i < 2; i++ {
		if err := r.JoinRoom(c.ID, room); err != nil {
			t.Fatalf("JoinRoom #%d: %v", i, err)
		}
	}
	if n := len(r.MembersOf(room)); n != 1 {
		t.Fatalf("expected 1 member, got %d", n)
	}
	for i := 0; i < 2; i++ {
		if err := r.LeaveRoom(c.ID, room); err != nil {
			t.Fatalf("LeaveRoom #%d: %v", i, err)
		}
	}
	if n := len(r.MembersOf(room)); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}

	if err := r.JoinRoom("nope", room); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestDisconnectRemovesMembershipAndCloses(t *testing.T) {
	r := NewRegistry(fakeVerifier{})
	c := NewConnection(alice, 4)
	if _, err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	room := ConversationRoom("conv-1")
	_ = r.JoinRoom(c.ID, room)

	r.Disconnect(c.ID)
	if removed, _, _ := r.Disconnect(c.ID); removed {
		t.Fatal("second Disconnect reported removed")
	}
	if len(r.MembersOf(room)) != 0 || len(r.All()) != 0 {
		t.Fatal("disconnected connection still visible")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("connection not closed")
	}
	if c.Deliver(ErrorNotice{Code: "x"}) {
		t.Fatal("delivery to a closed connection succeeded")
	}
}

func TestDeliverDropsWhenQueueFull(t *testing.T) {
	c := NewConnection(alice, 2)
	if !c.Deliver(ErrorNotice{Code: "1"}) || !c.Deliver(ErrorNotice{Code: "2"}) {
		t.Fatal("queue rejected events below capacity")
	}
	if c.Deliver(ErrorNotice{Code: "3"}) {
		t.Fatal("full queue accepted an event")
	}
	if ev := <-c.Outbound(); ev.(ErrorNotice).Code != "1" {
		t.Fatalf("queue out of order: %+v", ev)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(fakeVerifier{})
	room := ConversationRoom("busy")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := alice
			if i%2 == 0 {
				id = bob
			}
			c := NewConnection(id, 1)
			if _, err := r.Register(c); err != nil {
				t.Error(err)
				return
			}
			_ = r.JoinRoom(c.ID, room)
			_ = r.MembersOf(room)
			r.Disconnect(c.ID)
		}(i)
	}
	wg.Wait()
	if r.Online(alice.ID) || r.Online(bob.ID) || len(r.MembersOf(room)) != 0 {
		t.Fatal("registry not empty after all connections left")
	}
}
