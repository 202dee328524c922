package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedate/realtime/src/types"
)

func TestCanonicalOrdering(t *testing.T) {
	a, b := Canonical(9, 3)
	assert.Equal(t, int64(3), a)
	assert.Equal(t, int64(9), b)

	a, b = Canonical(3, 9)
	assert.Equal(t, int64(3), a)
	assert.Equal(t, int64(9), b)
}

func TestGetOrCreateConversationReusesExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	c1, created, err := s.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, created)

	// Order of the pair must not matter.
	c2, created, err := s.GetOrCreateConversation(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)
}

func TestGetOrReactivateMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m1, created, err := s.GetOrReactivateMatch(ctx, 8, 2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(2), m1.UserA)
	assert.Equal(t, int64(8), m1.UserB)

	// Retried like on an active match: nothing created.
	m2, created, err := s.GetOrReactivateMatch(ctx, 2, 8)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m1.ID, m2.ID)

	// An unliked (deactivated) match reactivates, reported as created.
	require.NoError(t, s.DeactivateMatch(ctx, 8, 2))
	m3, created, err := s.GetOrReactivateMatch(ctx, 8, 2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, m1.ID, m3.ID)
	assert.True(t, m3.IsActive)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	convID := s.AddConversation(1, 2)

	msg, err := s.CreateMessage(ctx, convID, 1, "hi", MessageKindChat)
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(ctx, msg.ID, 2))
	require.NoError(t, s.MarkRead(ctx, msg.ID, 2))
	assert.Equal(t, 1, s.ReadCount(msg.ID))
}

func TestMarkReadUnknownMessage(t *testing.T) {
	s := NewMemoryStore()
	assert.ErrorIs(t, s.MarkRead(context.Background(), 404, 1), ErrMessageNotFound)
}

func TestParticipantsUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Participants(context.Background(), 404)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestCreateMessageOrdersByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	convID := s.AddConversation(1, 2)

	_, err := s.CreateMessage(ctx, convID, 1, "first", MessageKindChat)
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, convID, 2, "second", MessageKindChat)
	require.NoError(t, err)

	msgs := s.MessagesIn(convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestAddLikeDetectsMutualInterest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	mutual, err := s.AddLike(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, mutual)

	mutual, err = s.AddLike(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, mutual)
}

func TestUserSummary(t *testing.T) {
	s := NewMemoryStore()
	s.AddUser(types.UserSummary{ID: 1, Username: "alice"})

	u, err := s.UserSummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.UserSummary(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
