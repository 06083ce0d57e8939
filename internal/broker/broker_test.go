package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mediconnect/consult-relay/internal/chat"
)

type captureReceiver struct {
	got chan chat.Envelope
}

func (c *captureReceiver) Receive(_ context.Context, env chat.Envelope) {
	c.got <- env
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	b := &Broker{queue: make(chan chat.Envelope, 1)}
	ctx := context.Background()

	b.Publish(ctx, chat.Envelope{Origin: "a"})
	done := make(chan struct{})
	go func() {
		b.Publish(ctx, chat.Envelope{Origin: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if env := <-b.queue; env.Origin != "a" {
		t.Fatalf("expected first envelope to be kept, got %q", env.Origin)
	}
}

// Integration test: needs Redis. Set REDIS_URL to run it.
func TestBrokerRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := "telehealth:relay:test:" + time.Now().Format("150405.000")
	pub, err := New(ctx, url, channel, 16)
	if err != nil {
		t.Fatalf("New publisher: %v", err)
	}
	defer pub.Close()
	sub, err := New(ctx, url, channel, 16)
	if err != nil {
		t.Fatalf("New subscriber: %v", err)
	}
	defer sub.Close()

	recv := &captureReceiver{got: make(chan chat.Envelope, 4)}
	go func() { _ = sub.Run(ctx, recv) }()
	go func() { _ = pub.Run(ctx, &captureReceiver{got: make(chan chat.Envelope, 16)}) }()

	frame, err := chat.EncodeFrame(chat.UserTyping{ConversationID: "c1", IdentityID: "u1", IsTyping: true})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := chat.Envelope{Origin: "instance-a", Rooms: []chat.RoomKey{chat.ConversationRoom("c1")}, Frame: frame}

	// The subscriber may not be attached yet; keep publishing until it is.
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case env := <-recv.got:
			if env.Origin != want.Origin || env.Frame.Event != chat.EventUserTyping || len(env.Rooms) != 1 {
				t.Fatalf("unexpected envelope %+v", env)
			}
			return
		case <-tick.C:
			pub.Publish(ctx, want)
		case <-ctx.Done():
			t.Fatal("timed out waiting for envelope")
		}
	}
}

// Integration test: needs Redis. Set REDIS_URL to run it.
func TestPresenceAcrossInstances(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := "telehealth:relay:presence-test:" + time.Now().Format("150405.000")
	b, err := New(ctx, url, channel, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	a := b.Presence("instance-a", 5*time.Second)
	other := &Presence{client: b.client, instanceID: "instance-b", ttl: 5 * time.Second, prefix: a.prefix, instances: a.instances}
	defer a.clear()
	defer other.clear()

	if elsewhere, err := a.Join(ctx, "u1"); err != nil || elsewhere {
		t.Fatalf("first join: elsewhere=%v err=%v", elsewhere, err)
	}
	if elsewhere, err := other.Join(ctx, "u1"); err != nil || !elsewhere {
		t.Fatalf("second instance should see u1 on a: elsewhere=%v err=%v", elsewhere, err)
	}
	if elsewhere, err := a.Leave(ctx, "u1"); err != nil || !elsewhere {
		t.Fatalf("leaving a while on b: elsewhere=%v err=%v", elsewhere, err)
	}
	if online, err := a.OnlineElsewhere(ctx, "u1"); err != nil || !online {
		t.Fatalf("OnlineElsewhere from a = %v, %v", online, err)
	}
	if elsewhere, err := other.Leave(ctx, "u1"); err != nil || elsewhere {
		t.Fatalf("last leave: elsewhere=%v err=%v", elsewhere, err)
	}

	// A withdrawn instance no longer counts.
	if _, err := other.Join(ctx, "u2"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	other.clear()
	if online, err := a.OnlineElsewhere(ctx, "u2"); err != nil || online {
		t.Fatalf("withdrawn instance still reports u2: %v, %v", online, err)
	}
}
