package hub

import (
	"sync"
	"time"

	"github.com/pulsedate/realtime/src/types"
)

// AnonymousUserID marks a connection with no resolved identity.
const AnonymousUserID int64 = 0

// maxQueueLen caps a client's outbound queue. A queue at capacity means
// the reader is dead or hopelessly behind; enqueueing past it is a send
// failure and the member is removed.
const maxQueueLen = 1024

// Client wraps a live connection and manages outbound message flow.
// One Client serves exactly one session protocol instance. Outbound
// events pass through a single FIFO queue drained by one WritePump
// goroutine, so they leave in exactly the order they were enqueued.
type Client struct {
	ID       string
	UserID   int64
	Username string

	conn        types.Conn
	hub         *Hub
	connectedAt time.Time

	mu     sync.Mutex
	queue  []types.Event
	wake   chan struct{}
	groups map[string]bool
	done   chan struct{}
	closed bool
}

// NewClient creates a connection wrapper owned by h.
func NewClient(id string, userID int64, username string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		Username:    username,
		conn:        conn,
		hub:         h,
		connectedAt: time.Now(),
		wake:        make(chan struct{}, 1),
		groups:      make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// Anonymous reports whether the connection has no resolved identity.
func (c *Client) Anonymous() bool {
	return c.UserID == AnonymousUserID
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	return types.ClientInfo{
		ID:          c.ID,
		UserID:      c.UserID,
		ConnectedAt: c.connectedAt,
		Groups:      groups,
	}
}

func (c *Client) addGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[group] = true
}

func (c *Client) removeGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, group)
}

// ReadMessage blocks for the next inbound text frame. Sessions drive
// their read loops through this.
func (c *Client) ReadMessage() ([]byte, error) {
	return c.conn.ReadMessage()
}

// Send enqueues an event for this client only, without broadcasting.
// Reports false if the client is closed or its queue is at capacity.
func (c *Client) Send(ev types.Event) bool {
	return c.enqueue(ev)
}

// enqueue appends to the outbound queue and wakes the write pump. The
// queue mutex serializes producers, so each producer's own order is
// preserved; there is never more than one consumer.
func (c *Client) enqueue(ev types.Event) bool {
	c.mu.Lock()
	if c.closed || len(c.queue) >= maxQueueLen {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Client) dequeue() (types.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return types.Event{}, false
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	return ev, true
}

// WritePump is the queue's only consumer. It drains the queue to the
// transport until the client closes or a write fails; the registry
// entry is removed lazily on exit.
func (c *Client) WritePump() {
	defer func() {
		c.conn.Close()
		c.hub.Unregister(c)
	}()

	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
		for {
			ev, ok := c.dequeue()
			if !ok {
				break
			}
			if err := c.conn.WriteMessage(ev.Data); err != nil {
				return
			}
		}
	}
}

// Close stops the write pump and releases the queue. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.queue = nil
		close(c.done)
	}
}
