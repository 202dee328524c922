package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/pulsedate/realtime/src/auth"
	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/notify"
	"github.com/pulsedate/realtime/src/presence"
	"github.com/pulsedate/realtime/src/store"
	"github.com/pulsedate/realtime/src/types"
)

// ErrNotParticipant refuses a chat connection whose identity is not a
// member of the target conversation.
var ErrNotParticipant = fmt.Errorf("not a conversation participant")

// AuthorizeChat checks, once, at connect time, that identity may join
// conversationID. Membership is not re-checked per frame.
func AuthorizeChat(ctx context.Context, st store.ChatStore, conversationID int64, identity auth.Identity) error {
	if identity.UserID == hub.AnonymousUserID {
		return auth.ErrUnauthenticated
	}

	participants, err := st.Participants(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("store.Participants: %w", err)
	}
	if !lo.Contains(participants, identity.UserID) {
		return ErrNotParticipant
	}
	return nil
}

// ChatSession is the per-connection conversation protocol. The
// connection must already be authorized via AuthorizeChat; Run takes it
// from authorized to open, serves frames, and cleans up on close.
type ChatSession struct {
	client         *hub.Client
	hub            *hub.Hub
	store          store.ChatStore
	presence       *presence.Tracker
	notifier       *notify.Notifier
	conversationID int64
	group          string
	self           types.UserSummary
	participants   []int64
	logger         zerolog.Logger
}

func NewChatSession(client *hub.Client, h *hub.Hub, st store.ChatStore, tracker *presence.Tracker, notifier *notify.Notifier, conversationID int64, logger zerolog.Logger) *ChatSession {
	return &ChatSession{
		client:         client,
		hub:            h,
		store:          st,
		presence:       tracker,
		notifier:       notifier,
		conversationID: conversationID,
		group:          hub.ConversationGroup(conversationID),
		logger: logger.With().
			Str("component", "chat-session").
			Str("client_id", client.ID).
			Int64("conversation_id", conversationID).
			Logger(),
	}
}

// Run serves the session until the transport closes. It blocks; the
// write pump runs separately.
func (s *ChatSession) Run(ctx context.Context) {
	self, err := s.store.UserSummary(ctx, s.client.UserID)
	if err != nil {
		// Authorized a moment ago, so this is a collaborator failure.
		self = types.UserSummary{ID: s.client.UserID, Username: s.client.Username}
	}
	s.self = self

	// Membership was checked at connect time and cannot change for the
	// lifetime of a conversation.
	if participants, err := s.store.Participants(ctx, s.conversationID); err == nil {
		s.participants = participants
	}

	s.hub.Join(s.group, s.client.ID)
	s.presence.ConnectionOpened(s.client.UserID)
	s.broadcastStatus("online")

	defer func() {
		s.broadcastStatus("offline")
		s.hub.Leave(s.group, s.client.ID)
		s.presence.ConnectionClosed(s.client.UserID)
		s.hub.Unregister(s.client)
	}()

	for {
		data, err := s.client.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, data)
	}
}

// dispatch handles one inbound frame. Protocol violations never close
// the session: unknown frames are ignored, unparseable JSON gets an
// error frame back to the sender only.
func (s *ChatSession) dispatch(ctx context.Context, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError("invalid JSON frame")
		return
	}

	switch env.Type {
	case types.FrameMessage, types.FrameChatMessage:
		var frame types.SendMessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("invalid JSON frame")
			return
		}
		s.handleSendMessage(ctx, frame)
	case types.FrameTyping:
		var frame types.TypingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("invalid JSON frame")
			return
		}
		s.handleTyping(frame)
	case types.FrameReadReceipt:
		var frame types.ReadReceiptFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("invalid JSON frame")
			return
		}
		s.handleReadReceipt(ctx, frame)
	case types.FramePing:
		s.sendPong()
	default:
		s.logger.Debug().Str("type", env.Type).Msg("ignoring unknown frame")
	}
}

func (s *ChatSession) handleSendMessage(ctx context.Context, frame types.SendMessageFrame) {
	content := strings.TrimSpace(frame.Content)
	if content == "" {
		return
	}

	msg, err := s.store.CreateMessage(ctx, s.conversationID, s.client.UserID, content, store.MessageKindChat)
	if err != nil {
		// Persist failed: abandon the frame, keep the session alive.
		s.logger.Error().Err(err).Msg("create message failed")
		return
	}

	chatMsg := types.ChatMessage{
		ID:                      msg.ID,
		SenderID:                s.self.ID,
		SenderUsername:          s.self.Username,
		SenderProfilePictureURL: s.self.ProfilePictureURL,
		Content:                 msg.Content,
		CreatedAt:               msg.CreatedAt,
		IsRead:                  false,
	}

	s.broadcast(types.FrameMessage, types.MessageOut{
		Type:    types.FrameMessage,
		Message: chatMsg,
	})

	// The other party also hears about it on their notification channel,
	// whether or not they have the conversation open.
	for _, userID := range s.participants {
		if userID == s.client.UserID {
			continue
		}
		if err := s.notifier.NewMessage(userID, chatMsg); err != nil {
			s.logger.Error().Err(err).Int64("user_id", userID).Msg("message notification failed")
		}
	}
}

func (s *ChatSession) handleTyping(frame types.TypingFrame) {
	s.broadcast(types.FrameTyping, types.TypingOut{
		Type:     types.FrameTyping,
		UserID:   s.self.ID,
		Username: s.self.Username,
		IsTyping: frame.IsTyping,
	})
}

func (s *ChatSession) handleReadReceipt(ctx context.Context, frame types.ReadReceiptFrame) {
	if err := s.store.MarkRead(ctx, frame.MessageID, s.client.UserID); err != nil {
		s.logger.Error().Err(err).Int64("message_id", frame.MessageID).Msg("mark read failed")
		return
	}

	s.broadcast(types.FrameReadReceipt, types.ReadReceiptOut{
		Type:      types.FrameReadReceipt,
		MessageID: frame.MessageID,
		UserID:    s.self.ID,
		Username:  s.self.Username,
		Timestamp: time.Now(),
	})
}

func (s *ChatSession) broadcastStatus(status string) {
	s.broadcast(types.FrameStatus, types.StatusOut{
		Type:      types.FrameStatus,
		UserID:    s.client.UserID,
		Username:  s.client.Username,
		Status:    status,
		Timestamp: time.Now(),
	})
}

func (s *ChatSession) broadcast(kind string, frame any) {
	ev, err := types.NewEvent(s.group, kind, frame)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("encode failed")
		return
	}
	s.hub.Broadcast(ev)
}

func (s *ChatSession) sendPong() {
	ev, err := types.NewEvent("", types.FramePong, types.PongOut{Type: types.FramePong, Timestamp: time.Now()})
	if err != nil {
		return
	}
	s.client.Send(ev)
}

func (s *ChatSession) sendError(message string) {
	ev, err := types.NewEvent("", types.FrameError, types.ErrorOut{Type: types.FrameError, Message: message})
	if err != nil {
		return
	}
	s.client.Send(ev)
}
