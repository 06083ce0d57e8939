package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Connection is one live, authenticated channel. Deliveries go through a
// bounded queue drained by a single writer owned by the transport.
type Connection struct {
	ID       string
	Identity Identity

	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates an unregistered connection with a fresh id.
func NewConnection(identity Identity, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Connection{
		ID:       uuid.NewString(),
		Identity: identity,
		out:      make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
}

// Outbound is the queue the transport writer drains.
func (c *Connection) Outbound() <-chan Event { return c.out }

// Done is closed once the connection has been removed from the registry.
func (c *Connection) Done() <-chan struct{} { return c.done }

// enqueue never blocks. It reports false when the connection is closed or its
// queue is full.
func (c *Connection) enqueue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

// Deliver queues an event for this connection only.
func (c *Connection) Deliver(ev Event) bool { return c.enqueue(ev) }

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Pump writes queued events with send until ctx ends, the connection is
// closed or send fails.
func (c *Connection) Pump(ctx context.Context, send func(Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case ev := <-c.out:
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}
