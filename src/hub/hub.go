package hub

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pulsedate/realtime/src/types"
)

// Group key builders. A group's membership is exactly the set of
// currently registered connections; empty groups are dropped.

func ConversationGroup(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

func UserGroup(userID int64) string {
	return fmt.Sprintf("user:%d:notifications", userID)
}

func RoomGroup(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// MessageBridge publishes events to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(ev types.Event) error
	Available() bool
}

// Hub owns the connection registry and the group broadcaster. Group
// membership maps are mutated only by the Run loop and by Join/Leave
// under the hub mutex.
type Hub struct {
	clients map[string]*Client
	groups  map[string]map[string]bool // group key -> set of client IDs

	broadcast chan types.Event
	localCast chan types.Event // events from the bridge, no re-publish

	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		groups:    make(map[string]map[string]bool),
		broadcast: make(chan types.Event, 256),
		localCast: make(chan types.Event, 256),
		logger:    logger.With().Str("component", "hub").Logger(),
		done:      make(chan struct{}),
	}
}

// SetBridge attaches a cross-instance event bridge to the hub.
// When set, broadcast events are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastLocal delivers an event from the bridge to local members only.
// It does not re-publish to the bridge, preventing infinite loops.
func (h *Hub) BroadcastLocal(ev types.Event) {
	select {
	case h.localCast <- ev:
	case <-h.done:
	}
}

// Run starts the hub fan-out loop. Call in a goroutine. Broadcasts go
// through a single loop so events queued by one source reach every
// member in queueing order.
func (h *Hub) Run() {
	for {
		select {
		case ev := <-h.broadcast:
			h.publishToBridge(ev)
			h.fanOut(ev)
		case ev := <-h.localCast:
			h.fanOut(ev)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub fan-out loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Register adds a client to the registry. The client is visible to Join
// and to broadcasts as soon as Register returns.
func (h *Hub) Register(c *Client) {
	h.addClient(c)
}

// Unregister removes a client and its group memberships. Safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.removeClient(c)
}

// Broadcast queues an event for fan-out to its group. Events from the
// same source are delivered to each member in queueing order.
func (h *Hub) Broadcast(ev types.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Join registers clientID into the named group. Idempotent. Reports
// false if the client is not registered.
func (h *Hub) Join(group, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; !ok {
		return false
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][clientID] = true
	h.clients[clientID].addGroup(group)
	return true
}

// Leave removes clientID from the named group. Leaving an unknown group
// is a no-op. The group is dropped once its last member leaves.
func (h *Hub) Leave(group, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return false
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	if c, ok := h.clients[clientID]; ok {
		c.removeGroup(group)
	}
	return true
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	// Remove from all group memberships.
	for g, members := range h.groups {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	h.mu.Unlock()

	c.Close()
	h.logger.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

// fanOut delivers ev to every member registered at call time. Delivery
// is best effort per member: a dead or stuck member is removed without
// affecting the others.
func (h *Hub) fanOut(ev types.Event) {
	h.mu.RLock()
	members, ok := h.groups[ev.Group]
	if !ok {
		h.mu.RUnlock()
		return
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.mu.RLock()
		client, exists := h.clients[id]
		h.mu.RUnlock()
		if !exists {
			continue
		}
		h.deliver(client, ev)
	}
}

// deliver hands ev to the client's single-consumer outbound queue. The
// Run loop is the only broadcast producer, so members observe events
// from one source in queueing order even under backpressure; a slow
// transport is bounded by the write deadline, not by racing retries.
// A queue overflow counts as a send failure and removes the member.
func (h *Hub) deliver(c *Client, ev types.Event) {
	if c.enqueue(ev) {
		return
	}
	h.logger.Warn().Str("client_id", c.ID).Str("group", ev.Group).Msg("send queue overflow, dropping client")
	h.Unregister(c)
}

// publishToBridge forwards an event to the bridge if one is attached.
func (h *Hub) publishToBridge(ev types.Event) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(ev); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}
