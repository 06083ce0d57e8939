package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/data"
)

type fixture struct {
	mem      *data.Memory
	log      *chat.Log
	reg      *chat.Registry
	svc      *chat.Service
	patient  chat.Identity
	provider chat.Identity
	// providerID is the provider profile id, not the user id.
	providerID string
	outsider   chat.Identity
}

type noTokens struct{}

func (noTokens) VerifyIdentity(string) (chat.Identity, error) {
	return chat.Identity{}, &chat.AuthError{Reason: "tokens not used in this test"}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := data.NewMemory()

	mk := func(email string, role chat.Role) chat.Identity {
		u, err := mem.CreateUser(ctx, email, "hash", email, role)
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		return chat.Identity{ID: u.ID.Hex(), Role: role}
	}
	f := &fixture{mem: mem}
	f.patient = mk("patient@example.com", chat.RolePatient)
	f.outsider = mk("outsider@example.com", chat.RolePatient)

	doc, err := mem.CreateUser(ctx, "doctor@example.com", "hash", "Dr. Who", chat.RoleProvider)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	prov, err := mem.CreateProvider(ctx, doc.ID, "Dr. Who")
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	f.provider = chat.Identity{ID: doc.ID.Hex(), Role: chat.RoleProvider}
	f.providerID = prov.ID.Hex()

	f.log = chat.NewLog(mem, mem)
	f.reg = chat.NewRegistry(noTokens{})
	f.svc = chat.NewService(f.log, mem, f.reg, chat.NewRelay(f.reg), 256)
	return f
}

func (f *fixture) open(t *testing.T) chat.Conversation {
	t.Helper()
	conv, err := f.svc.CreateOrGetConversation(context.Background(), f.patient, chat.OpenRequest{ProviderID: f.providerID})
	if err != nil {
		t.Fatalf("CreateOrGetConversation: %v", err)
	}
	return conv
}

func (f *fixture) connect(t *testing.T, id chat.Identity) *chat.Connection {
	t.Helper()
	c, err := f.svc.Connect(context.Background(), id)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { f.svc.Disconnect(context.Background(), c) })
	return c
}

func drain(c *chat.Connection) []chat.Event {
	var out []chat.Event
	for {
		select {
		case ev := <-c.Outbound():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func only[T chat.Event](evs []chat.Event) []T {
	var out []T
	for _, ev := range evs {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestCreateOrGetConversationIsIdempotentFromBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.open(t)
	second := f.open(t)
	if first.ID != second.ID {
		t.Fatalf("second open created %s, want %s", second.ID, first.ID)
	}
	fromProvider, err := f.svc.CreateOrGetConversation(ctx, f.provider, chat.OpenRequest{PatientID: f.patient.ID})
	if err != nil {
		t.Fatalf("provider open: %v", err)
	}
	if fromProvider.ID != first.ID {
		t.Fatalf("provider opened %s, want %s", fromProvider.ID, first.ID)
	}

	scoped, err := f.svc.CreateOrGetConversation(ctx, f.patient, chat.OpenRequest{ProviderID: f.providerID, AppointmentID: "appt-1"})
	if err != nil {
		t.Fatalf("scoped open: %v", err)
	}
	if scoped.ID == first.ID {
		t.Fatal("appointment-scoped conversation reused the general one")
	}
}

func TestCreateOrGetConversationRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrGetConversation(ctx, f.patient, chat.OpenRequest{})
	if !chat.IsValidation(err) {
		t.Fatalf("missing provider: %v", err)
	}
	_, err = f.svc.CreateOrGetConversation(ctx, f.patient, chat.OpenRequest{ProviderID: "000000000000000000000000"})
	if !chat.IsNotFound(err) {
		t.Fatalf("unknown provider: %v", err)
	}
	_, err = f.svc.CreateOrGetConversation(ctx, f.provider, chat.OpenRequest{PatientID: f.patient.ID, ProviderID: "000000000000000000000000"})
	if !chat.IsForbidden(err) {
		t.Fatalf("foreign provider id: %v", err)
	}
	_, err = f.svc.CreateOrGetConversation(ctx, f.outsider, chat.OpenRequest{PatientID: f.patient.ID})
	if !chat.IsValidation(err) {
		t.Fatalf("patient opening by patient id: %v", err)
	}
}

func TestProviderOpenResolvesPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	colleague, err := f.mem.CreateUser(ctx, "colleague@example.com", "hash", "Dr. No", chat.RoleProvider)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	_, err = f.svc.CreateOrGetConversation(ctx, f.provider, chat.OpenRequest{PatientID: "no-such-user"})
	if !chat.IsNotFound(err) {
		t.Fatalf("unknown patient: %v", err)
	}
	_, err = f.svc.CreateOrGetConversation(ctx, f.provider, chat.OpenRequest{PatientID: "000000000000000000000000"})
	if !chat.IsNotFound(err) {
		t.Fatalf("unregistered patient id: %v", err)
	}
	_, err = f.svc.CreateOrGetConversation(ctx, f.provider, chat.OpenRequest{PatientID: colleague.ID.Hex()})
	if !chat.IsValidation(err) {
		t.Fatalf("provider as patient: %v", err)
	}

	sums, err := f.svc.ListConversations(ctx, f.provider)
	if err != nil || len(sums) != 0 {
		t.Fatalf("rejected opens left conversations behind: %v, %v", sums, err)
	}
}

func TestConcurrentOpenYieldsOneConversation(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, err := f.svc.CreateOrGetConversation(context.Background(), f.patient, chat.OpenRequest{ProviderID: f.providerID})
			if err != nil {
				t.Error(err)
				return
			}
			ids <- conv.ID
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected one conversation, got %d", len(seen))
	}
}

func TestSendMessageReachesRecipientWithoutJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)

	providerConn := f.connect(t, f.provider)
	patientConn := f.connect(t, f.patient)
	drain(providerConn)

	msg, err := f.svc.SendMessage(ctx, f.patient, conv.ID, "hello <b>doc</b>", patientConn.ID)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Body != "hello <b>doc</b>" || msg.Read || msg.Type != chat.MessageTypeText {
		t.Fatalf("unexpected stored message %+v", msg)
	}

	got := only[chat.ReceiveMessage](drain(providerConn))
	if len(got) != 1 || got[0].Message.ID != msg.ID {
		t.Fatalf("provider received %+v", got)
	}
	if n := len(drain(patientConn)); n != 0 {
		t.Fatalf("origin connection received %d events", n)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)

	for _, body := range []string{"", "   ", strings.Repeat("x", chat.MaxBodyBytes+1), "bad \xff utf8"} {
		if _, err := f.svc.SendMessage(ctx, f.patient, conv.ID, body, ""); !chat.IsValidation(err) {
			t.Errorf("body %.20q: expected ValidationError, got %v", body, err)
		}
	}
	if _, err := f.svc.SendMessage(ctx, f.patient, conv.ID, strings.Repeat("x", chat.MaxBodyBytes), ""); err != nil {
		t.Fatalf("max-size body rejected: %v", err)
	}
}

func TestBodyRoundTripsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)
	providerConn := f.connect(t, f.provider)
	drain(providerConn)

	const body = `Take 5 mg <2x daily> & call "Dr" if it's worse`
	sent, err := f.svc.SendMessage(ctx, f.patient, conv.ID, body, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.Body != body {
		t.Fatalf("send returned %q, want %q", sent.Body, body)
	}

	got := only[chat.ReceiveMessage](drain(providerConn))
	if len(got) != 1 || got[0].Message.Body != body {
		t.Fatalf("live delivery = %+v", got)
	}

	msgs, err := f.svc.ListMessages(ctx, f.provider, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != body || msgs[0].SenderID != f.patient.ID || msgs[0].Read {
		t.Fatalf("listed %+v", msgs)
	}
}

func TestAccessBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)

	if _, err := f.svc.SendMessage(ctx, f.outsider, conv.ID, "hi", ""); !chat.IsForbidden(err) {
		t.Fatalf("outsider send: %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, f.outsider, conv.ID); !chat.IsForbidden(err) {
		t.Fatalf("outsider list: %v", err)
	}
	if _, err := f.svc.MarkRead(ctx, f.outsider, conv.ID); !chat.IsForbidden(err) {
		t.Fatalf("outsider mark read: %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, f.patient, "missing"); !chat.IsNotFound(err) {
		t.Fatalf("unknown conversation: %v", err)
	}
	msgs, err := f.svc.ListMessages(ctx, f.provider, conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("provider list = %v, %v", msgs, err)
	}
}

func TestMarkReadRelaysExactIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)
	patientConn := f.connect(t, f.patient)

	m1, _ := f.svc.SendMessage(ctx, f.patient, conv.ID, "one", "")
	m2, _ := f.svc.SendMessage(ctx, f.patient, conv.ID, "two", "")
	reply, _ := f.svc.SendMessage(ctx, f.provider, conv.ID, "reply", "")
	drain(patientConn)

	receipt, err := f.svc.MarkRead(ctx, f.provider, conv.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(receipt.MessageIDs) != 2 {
		t.Fatalf("expected 2 ids, got %v", receipt.MessageIDs)
	}
	want := map[string]bool{m1.ID: true, m2.ID: true}
	for _, id := range receipt.MessageIDs {
		if !want[id] {
			t.Fatalf("receipt contains %s, which the provider did not receive", id)
		}
	}

	relayed := only[chat.MessagesRead](drain(patientConn))
	if len(relayed) != 1 || len(relayed[0].Receipt.MessageIDs) != 2 || relayed[0].Receipt.ReaderID != f.provider.ID {
		t.Fatalf("relayed receipts %+v", relayed)
	}

	again, err := f.svc.MarkRead(ctx, f.provider, conv.ID)
	if err != nil || len(again.MessageIDs) != 0 {
		t.Fatalf("second MarkRead = %+v, %v", again, err)
	}
	if n := len(drain(patientConn)); n != 0 {
		t.Fatalf("empty receipt relayed %d events", n)
	}

	// The provider's own reply is untouched by their mark-read.
	msgs, _ := f.svc.ListMessages(ctx, f.patient, conv.ID)
	for _, m := range msgs {
		if m.ID == reply.ID && m.Read {
			t.Fatal("reader's own message marked read")
		}
	}
}

func TestSummariesCountUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)
	_, _ = f.svc.SendMessage(ctx, f.patient, conv.ID, "one", "")
	last, _ := f.svc.SendMessage(ctx, f.patient, conv.ID, "two", "")

	sums, err := f.svc.ListConversations(ctx, f.provider)
	if err != nil || len(sums) != 1 {
		t.Fatalf("ListConversations = %+v, %v", sums, err)
	}
	if sums[0].UnreadCount != 2 || sums[0].LastMessage == nil || sums[0].LastMessage.ID != last.ID {
		t.Fatalf("unexpected summary %+v", sums[0])
	}

	sums, _ = f.svc.ListConversations(ctx, f.patient)
	if len(sums) != 1 || sums[0].UnreadCount != 0 {
		t.Fatalf("sender's unread count: %+v", sums)
	}
	if sums, _ := f.svc.ListConversations(ctx, f.outsider); len(sums) != 0 {
		t.Fatalf("outsider sees %d conversations", len(sums))
	}
}

func TestEventsArriveInCommitOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)
	providerConn := f.connect(t, f.provider)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.SendMessage(ctx, f.patient, conv.ID, "msg", ""); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got := only[chat.ReceiveMessage](drain(providerConn))
	if len(got) != 40 {
		t.Fatalf("received %d messages", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Message.Seq <= got[i-1].Message.Seq {
			t.Fatalf("out of order at %d: seq %d after %d", i, got[i].Message.Seq, got[i-1].Message.Seq)
		}
	}
}

func TestPresenceFirstAndLastConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	watcher := f.connect(t, f.provider)

	c1, _ := f.svc.Connect(ctx, f.patient)
	c2, _ := f.svc.Connect(ctx, f.patient)
	online := only[chat.PresenceChanged](drain(watcher))
	if len(online) != 1 || !online[0].Online || online[0].IdentityID != f.patient.ID {
		t.Fatalf("online events %+v", online)
	}
	if !f.svc.Online(context.Background(), f.patient.ID) {
		t.Fatal("patient not online")
	}

	f.svc.Disconnect(ctx, c1)
	if n := len(drain(watcher)); n != 0 {
		t.Fatalf("non-final disconnect produced %d events", n)
	}
	f.svc.Disconnect(ctx, c2)
	f.svc.Disconnect(ctx, c2)
	offline := only[chat.PresenceChanged](drain(watcher))
	if len(offline) != 1 || offline[0].Online {
		t.Fatalf("offline events %+v", offline)
	}
	if f.svc.Online(context.Background(), f.patient.ID) {
		t.Fatal("patient still online")
	}
}

// sharedPresence stands in for the Redis presence table shared by several
// instances.
type sharedPresence struct {
	mu     sync.Mutex
	online map[string]map[string]bool // instance -> identity set
	err    error
}

type instancePresence struct {
	shared   *sharedPresence
	instance string
}

func (p *sharedPresence) on(instance string) instancePresence {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = map[string]map[string]bool{}
	}
	p.online[instance] = map[string]bool{}
	return instancePresence{shared: p, instance: instance}
}

func (v instancePresence) elsewhere(identityID string) bool {
	for inst, ids := range v.shared.online {
		if inst != v.instance && ids[identityID] {
			return true
		}
	}
	return false
}

func (v instancePresence) Join(_ context.Context, identityID string) (bool, error) {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.shared.err != nil {
		return false, v.shared.err
	}
	v.shared.online[v.instance][identityID] = true
	return v.elsewhere(identityID), nil
}

func (v instancePresence) Leave(_ context.Context, identityID string) (bool, error) {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.shared.err != nil {
		return false, v.shared.err
	}
	delete(v.shared.online[v.instance], identityID)
	return v.elsewhere(identityID), nil
}

func (v instancePresence) OnlineElsewhere(_ context.Context, identityID string) (bool, error) {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.shared.err != nil {
		return false, v.shared.err
	}
	return v.elsewhere(identityID), nil
}

func TestPresenceSpansInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared := &sharedPresence{}
	f.svc.WithPresence(shared.on("a"))
	regB := chat.NewRegistry(noTokens{})
	svcB := chat.NewService(f.log, f.mem, regB, chat.NewRelay(regB), 16).WithPresence(shared.on("b"))

	watcher := f.connect(t, f.provider)
	onB, err := svcB.Connect(ctx, f.patient)
	if err != nil {
		t.Fatalf("Connect on b: %v", err)
	}
	if !f.svc.Online(ctx, f.patient.ID) {
		t.Fatal("patient connected on b is not online from a")
	}

	onA := f.connect(t, f.patient)
	if evs := only[chat.PresenceChanged](drain(watcher)); len(evs) != 0 {
		t.Fatalf("second instance announced %+v", evs)
	}
	f.svc.Disconnect(ctx, onA)
	if evs := only[chat.PresenceChanged](drain(watcher)); len(evs) != 0 {
		t.Fatalf("offline announced while still connected on b: %+v", evs)
	}
	if !f.svc.Online(ctx, f.patient.ID) {
		t.Fatal("patient dropped offline on a while connected on b")
	}

	svcB.Disconnect(ctx, onB)
	if f.svc.Online(ctx, f.patient.ID) {
		t.Fatal("patient still online after leaving every instance")
	}

	// Without a working tracker each instance falls back to its own view.
	shared.mu.Lock()
	shared.err = errors.New("redis down")
	shared.mu.Unlock()
	c := f.connect(t, f.patient)
	f.svc.Disconnect(ctx, c)
	evs := only[chat.PresenceChanged](drain(watcher))
	if len(evs) != 2 || !evs[0].Online || evs[1].Online {
		t.Fatalf("fallback presence events %+v", evs)
	}
}

func TestHandleFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.open(t)
	patientConn := f.connect(t, f.patient)
	providerConn := f.connect(t, f.provider)
	outsiderConn := f.connect(t, f.outsider)
	drain(patientConn)
	drain(providerConn)
	drain(outsiderConn)

	room := `"chat_` + conv.ID + `"`
	noticeCode := func(c *chat.Connection) string {
		ns := only[chat.ErrorNotice](drain(c))
		if len(ns) != 1 {
			t.Fatalf("expected one error notice, got %d", len(ns))
		}
		return ns[0].Code
	}

	if err := f.svc.HandleFrame(ctx, patientConn, []byte(`not json`)); !chat.IsProtocol(err) {
		t.Fatalf("malformed frame: %v", err)
	}
	if err := f.svc.HandleFrame(ctx, patientConn, []byte(`{"event":"dance"}`)); !chat.IsProtocol(err) {
		t.Fatalf("unknown event: %v", err)
	}

	// Rejected commands become notices, not errors.
	if err := f.svc.HandleFrame(ctx, outsiderConn, []byte(`{"event":"join_room","roomKey":`+room+`}`)); err != nil {
		t.Fatalf("forbidden join returned %v", err)
	}
	if code := noticeCode(outsiderConn); code != "forbidden" {
		t.Fatalf("outsider join notice %q", code)
	}
	if err := f.svc.HandleFrame(ctx, patientConn, []byte(`{"event":"join_room","roomKey":"user_`+f.provider.ID+`"}`)); err != nil {
		t.Fatalf("private room join returned %v", err)
	}
	if code := noticeCode(patientConn); code != "forbidden" {
		t.Fatalf("private room join notice %q", code)
	}
	if err := f.svc.HandleFrame(ctx, patientConn, []byte(`{"event":"typing","roomKey":`+room+`,"isTyping":true}`)); err != nil {
		t.Fatalf("typing before join returned %v", err)
	}
	if code := noticeCode(patientConn); code != "forbidden" {
		t.Fatalf("typing before join notice %q", code)
	}

	for _, c := range []*chat.Connection{patientConn, providerConn} {
		if err := f.svc.HandleFrame(ctx, c, []byte(`{"event":"join_room","roomKey":`+room+`}`)); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := f.svc.HandleFrame(ctx, patientConn, []byte(`{"event":"typing","roomKey":`+room+`,"isTyping":true}`)); err != nil {
		t.Fatalf("typing: %v", err)
	}
	typing := only[chat.UserTyping](drain(providerConn))
	if len(typing) != 1 || typing[0].IdentityID != f.patient.ID || !typing[0].IsTyping {
		t.Fatalf("typing events %+v", typing)
	}
	if n := len(drain(patientConn)); n != 0 {
		t.Fatalf("typer received %d events", n)
	}

	if err := f.svc.HandleFrame(ctx, providerConn, []byte(`{"event":"leave_room","roomKey":`+room+`}`)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	_ = f.svc.HandleFrame(ctx, patientConn, []byte(`{"event":"typing","roomKey":`+room+`,"isTyping":false}`))
	if n := len(drain(providerConn)); n != 0 {
		t.Fatalf("left connection still received %d events", n)
	}
}
