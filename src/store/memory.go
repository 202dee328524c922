package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pulsedate/realtime/src/types"
)

type pair struct{ a, b int64 }

// MemoryStore is an in-memory ChatStore/LikeStore used by tests and by
// the dev server when no real backend is wired.
type MemoryStore struct {
	mu sync.Mutex

	users         map[int64]types.UserSummary
	conversations map[int64]*Conversation
	messages      map[int64]*Message
	reads         map[int64]map[int64]time.Time // message id -> user id -> read at
	matches       map[pair]*Match
	likes         map[int64]map[int64]bool // liker id -> liked ids

	nextConversationID int64
	nextMessageID      int64
	nextMatchID        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]types.UserSummary),
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64]*Message),
		reads:         make(map[int64]map[int64]time.Time),
		matches:       make(map[pair]*Match),
		likes:         make(map[int64]map[int64]bool),
	}
}

// AddUser seeds a user profile.
func (s *MemoryStore) AddUser(u types.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddConversation seeds a conversation with the given participants and
// returns its ID.
func (s *MemoryStore) AddConversation(participants ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addConversationLocked(participants).ID
}

func (s *MemoryStore) addConversationLocked(participants []int64) *Conversation {
	s.nextConversationID++
	now := time.Now()
	c := &Conversation{
		ID:           s.nextConversationID,
		Participants: append([]int64(nil), participants...),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[c.ID] = c
	return c
}

func (s *MemoryStore) Participants(_ context.Context, conversationID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return append([]int64(nil), c.Participants...), nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, conversationID, senderID int64, content, kind string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, ErrConversationNotFound
	}

	s.nextMessageID++
	m := &Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      time.Now(),
	}
	s.messages[m.ID] = m
	c.UpdatedAt = m.CreatedAt
	return *m, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, messageID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return ErrMessageNotFound
	}
	if s.reads[messageID] == nil {
		s.reads[messageID] = make(map[int64]time.Time)
	}
	// Duplicate markers keep the original read time.
	if _, ok := s.reads[messageID][userID]; !ok {
		s.reads[messageID][userID] = time.Now()
	}
	return nil
}

func (s *MemoryStore) GetOrCreateConversation(_ context.Context, a, b int64) (Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := []int64{a, b}
	for _, c := range s.conversations {
		if len(c.Participants) == 2 && lo.Every(c.Participants, want) {
			return *c, false, nil
		}
	}

	c := s.addConversationLocked(want)
	return *c, true, nil
}

func (s *MemoryStore) GetOrReactivateMatch(_ context.Context, a, b int64) (Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ca, cb := Canonical(a, b)
	key := pair{ca, cb}

	if m, ok := s.matches[key]; ok {
		if m.IsActive {
			return *m, false, nil
		}
		m.IsActive = true
		return *m, true, nil
	}

	s.nextMatchID++
	m := &Match{
		ID:        s.nextMatchID,
		UserA:     ca,
		UserB:     cb,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	s.matches[key] = m
	return *m, true, nil
}

// DeactivateMatch marks the match for (a, b) inactive, as an unlike does.
func (s *MemoryStore) DeactivateMatch(_ context.Context, a, b int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ca, cb := Canonical(a, b)
	m, ok := s.matches[pair{ca, cb}]
	if !ok {
		return nil
	}
	m.IsActive = false
	return nil
}

func (s *MemoryStore) UserSummary(_ context.Context, userID int64) (types.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return types.UserSummary{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) AddLike(_ context.Context, likerID, likedID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.likes[likerID] == nil {
		s.likes[likerID] = make(map[int64]bool)
	}
	s.likes[likerID][likedID] = true
	return s.likes[likedID][likerID], nil
}

// MessagesIn returns the messages of a conversation in creation order.
// Test helper.
func (s *MemoryStore) MessagesIn(conversationID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := lo.Filter(lo.Values(s.messages), func(m *Message, _ int) bool {
		return m.ConversationID == conversationID
	})
	out := lo.Map(msgs, func(m *Message, _ int) Message { return *m })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReadCount returns how many read markers exist for a message. Test helper.
func (s *MemoryStore) ReadCount(messageID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reads[messageID])
}
