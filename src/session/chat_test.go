package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedate/realtime/src/auth"
	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/notify"
	"github.com/pulsedate/realtime/src/presence"
	"github.com/pulsedate/realtime/src/store"
	"github.com/pulsedate/realtime/src/types"
)

var errConnClosed = errors.New("connection closed")

type mockConn struct {
	mu       sync.Mutex
	written  [][]byte
	readCh   chan []byte
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-m.readCh:
		return data, nil
	case <-m.closedCh:
		return nil, errConnClosed
	}
}

func (m *mockConn) WriteMessage(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

// feed sends a raw inbound frame through the mock transport.
func (m *mockConn) feed(t *testing.T, frame any) {
	t.Helper()
	switch f := frame.(type) {
	case string:
		m.readCh <- []byte(f)
	default:
		data, err := json.Marshal(f)
		require.NoError(t, err)
		m.readCh <- data
	}
}

// framesOfType decodes written frames and returns those with the given type tag.
func (m *mockConn) framesOfType(frameType string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]any
	for _, data := range m.written {
		var frame map[string]any
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		if frame["type"] == frameType {
			out = append(out, frame)
		}
	}
	return out
}

type fixture struct {
	hub      *hub.Hub
	store    *store.MemoryStore
	tracker  *presence.Tracker
	notifier *notify.Notifier
	convID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	h := hub.New(zerolog.Nop())
	go h.Run()
	t.Cleanup(func() { h.Stop() })

	st := store.NewMemoryStore()
	st.AddUser(types.UserSummary{ID: 1, Username: "alice"})
	st.AddUser(types.UserSummary{ID: 2, Username: "bob"})
	st.AddUser(types.UserSummary{ID: 3, Username: "carol"})
	convID := st.AddConversation(1, 2)

	return &fixture{
		hub:      h,
		store:    st,
		tracker:  presence.NewTracker(zerolog.Nop()),
		notifier: notify.New(h, zerolog.Nop()),
		convID:   convID,
	}
}

// openChat authorizes and opens a chat session for userID, mirroring
// the server's connect path.
func (f *fixture) openChat(t *testing.T, clientID string, userID int64, username string) *mockConn {
	t.Helper()

	identity := auth.Identity{UserID: userID, Username: username}
	require.NoError(t, AuthorizeChat(context.Background(), f.store, f.convID, identity))

	conn := newMockConn()
	client := hub.NewClient(clientID, userID, username, conn, f.hub)
	f.hub.Register(client)
	go client.WritePump()

	sess := NewChatSession(client, f.hub, f.store, f.tracker, f.notifier, f.convID, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		conn.Close()
		<-done
	})

	require.Eventually(t, func() bool {
		for _, id := range f.hub.Members(hub.ConversationGroup(f.convID)) {
			if id == clientID {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return conn
}

func TestRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)

	err := AuthorizeChat(context.Background(), f.store, f.convID, auth.Identity{UserID: 3, Username: "carol"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	// No group registration happened.
	assert.Empty(t, f.hub.Members(hub.ConversationGroup(f.convID)))
}

func TestRejectsAnonymous(t *testing.T) {
	f := newFixture(t)

	err := AuthorizeChat(context.Background(), f.store, f.convID, auth.Identity{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestRejectsUnknownConversation(t *testing.T) {
	f := newFixture(t)

	err := AuthorizeChat(context.Background(), f.store, 404, auth.Identity{UserID: 1, Username: "alice"})
	assert.Error(t, err)
}

func TestSendMessagePersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	alice.feed(t, map[string]any{"type": "message", "content": "hi"})

	// Both participants receive the chat frame, sender included.
	for _, conn := range []*mockConn{alice, bob} {
		require.Eventually(t, func() bool {
			return len(conn.framesOfType("message")) == 1
		}, time.Second, 5*time.Millisecond)

		frame := conn.framesOfType("message")[0]
		msg := frame["message"].(map[string]any)
		assert.Equal(t, "hi", msg["content"])
		assert.Equal(t, float64(1), msg["sender_id"])
		assert.Equal(t, "alice", msg["sender_username"])
		assert.Equal(t, false, msg["is_read"])
	}

	msgs := f.store.MessagesIn(f.convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, store.MessageKindChat, msgs[0].Kind)
}

func TestMessageNotifiesOtherParticipantChannel(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")

	// Bob has no chat session open, only his notification channel.
	bobNotify := newMockConn()
	client := hub.NewClient("bob-notify", 2, "bob", bobNotify, f.hub)
	f.hub.Register(client)
	go client.WritePump()
	require.True(t, f.hub.Join(hub.UserGroup(2), "bob-notify"))

	alice.feed(t, map[string]any{"type": "message", "content": "are you there?"})

	require.Eventually(t, func() bool {
		return len(bobNotify.framesOfType("notification")) == 1
	}, time.Second, 5*time.Millisecond)

	frame := bobNotify.framesOfType("notification")[0]
	n := frame["notification"].(map[string]any)
	assert.Equal(t, types.NotifyNewMessage, n["type"])
	msg := n["message"].(map[string]any)
	assert.Equal(t, "are you there?", msg["content"])
	assert.Equal(t, "alice", msg["sender_username"])

	// The sender's own channel hears nothing.
	assert.Empty(t, alice.framesOfType("notification"))
}

func TestChatMessageAliasAccepted(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")

	alice.feed(t, map[string]any{"type": "chat_message", "content": "via alias"})

	require.Eventually(t, func() bool {
		return len(f.store.MessagesIn(f.convID)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyMessageIsDroppedSilently(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	alice.feed(t, map[string]any{"type": "message", "content": "   "})
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.store.MessagesIn(f.convID))
	assert.Empty(t, bob.framesOfType("message"))
	assert.Empty(t, alice.framesOfType("error"))
}

func TestTypingIndicatorsArriveInOrder(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	alice.feed(t, map[string]any{"type": "typing", "is_typing": true})
	alice.feed(t, map[string]any{"type": "typing", "is_typing": false})

	require.Eventually(t, func() bool {
		return len(bob.framesOfType("typing")) == 2
	}, time.Second, 5*time.Millisecond)

	frames := bob.framesOfType("typing")
	assert.Equal(t, true, frames[0]["is_typing"])
	assert.Equal(t, false, frames[1]["is_typing"])
	assert.Equal(t, "alice", frames[0]["username"])
}

func TestReadReceiptPersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	msg, err := f.store.CreateMessage(context.Background(), f.convID, 1, "unread", store.MessageKindChat)
	require.NoError(t, err)

	bob.feed(t, map[string]any{"type": "read_receipt", "message_id": msg.ID})

	require.Eventually(t, func() bool {
		return len(alice.framesOfType("read_receipt")) == 1
	}, time.Second, 5*time.Millisecond)

	frame := alice.framesOfType("read_receipt")[0]
	assert.Equal(t, float64(msg.ID), frame["message_id"])
	assert.Equal(t, float64(2), frame["user_id"])
	assert.Equal(t, 1, f.store.ReadCount(msg.ID))

	// A duplicate receipt is not an error and keeps one marker.
	bob.feed(t, map[string]any{"type": "read_receipt", "message_id": msg.ID})
	require.Eventually(t, func() bool {
		return len(alice.framesOfType("read_receipt")) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.store.ReadCount(msg.ID))
	assert.Empty(t, bob.framesOfType("error"))
}

func TestMalformedJSONGetsErrorFrameToSenderOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	alice.feed(t, "{not json")

	require.Eventually(t, func() bool {
		return len(alice.framesOfType("error")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, bob.framesOfType("error"))

	// The session survives the bad frame.
	alice.feed(t, map[string]any{"type": "message", "content": "still here"})
	require.Eventually(t, func() bool {
		return len(bob.framesOfType("message")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownFrameIsIgnored(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	alice.feed(t, map[string]any{"type": "subscribe", "subscription_type": "everything"})
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, alice.framesOfType("error"))
	assert.Empty(t, bob.framesOfType("subscribe"))
}

func TestPingGetsPong(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	alice.feed(t, map[string]any{"type": "ping"})

	require.Eventually(t, func() bool {
		return len(alice.framesOfType("pong")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, alice.framesOfType("pong")[0]["timestamp"])
	assert.Empty(t, bob.framesOfType("pong"))
}

func TestStatusBroadcastOnOpenAndClose(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	bob := f.openChat(t, "bob-conn", 2, "bob")

	// Alice sees her own online status, then Bob's.
	require.Eventually(t, func() bool {
		return len(alice.framesOfType("status")) == 2
	}, time.Second, 5*time.Millisecond)
	frame := alice.framesOfType("status")[1]
	assert.Equal(t, "online", frame["status"])
	assert.Equal(t, "bob", frame["username"])
	assert.True(t, f.tracker.State(2).Online)

	bob.Close()
	require.Eventually(t, func() bool {
		return len(alice.framesOfType("status")) == 3
	}, time.Second, 5*time.Millisecond)
	offline := alice.framesOfType("status")[2]
	assert.Equal(t, "offline", offline["status"])
	assert.Equal(t, "bob", offline["username"])

	require.Eventually(t, func() bool {
		return !f.tracker.State(2).Online
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectLeavesGroup(t *testing.T) {
	f := newFixture(t)
	alice := f.openChat(t, "alice-conn", 1, "alice")
	f.openChat(t, "bob-conn", 2, "bob")

	alice.Close()
	require.Eventually(t, func() bool {
		members := f.hub.Members(hub.ConversationGroup(f.convID))
		return len(members) == 1 && members[0] == "bob-conn"
	}, time.Second, 5*time.Millisecond)
}
