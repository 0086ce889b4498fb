package terminal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	v1 "arc4de/shared/contracts/terminal/v1"
)

// client is one connection's outbound queue. send is never closed so late
// producers (preview notifications) cannot panic; done stops everyone.
type client struct {
	id   string
	send chan v1.ServerMessage

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(queue int) *client {
	if queue <= 0 {
		queue = 64
	}
	return &client{
		id:   newConnID(),
		send: make(chan v1.ServerMessage, queue),
		done: make(chan struct{}),
	}
}

func (c *client) Done() <-chan struct{} { return c.done }

func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue blocks until the frame is queued or the connection is going away.
// Output ordering depends on this never dropping a frame.
func (c *client) enqueue(ctx context.Context, msg v1.ServerMessage) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	}
}

func newConnID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
