package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/types"
)

// AnonymousSession is a pure broadcast room keyed by room ID. No
// identity, no persistence; messages are rebroadcast and gone.
type AnonymousSession struct {
	client   *hub.Client
	hub      *hub.Hub
	group    string
	nickname string
	logger   zerolog.Logger
}

func NewAnonymousSession(client *hub.Client, h *hub.Hub, roomID, nickname string, logger zerolog.Logger) *AnonymousSession {
	if nickname == "" {
		suffix := client.ID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		nickname = "anonymous-" + suffix
	}
	return &AnonymousSession{
		client:   client,
		hub:      h,
		group:    hub.RoomGroup(roomID),
		nickname: nickname,
		logger: logger.With().
			Str("component", "anonymous-session").
			Str("client_id", client.ID).
			Str("room", roomID).
			Logger(),
	}
}

// Run serves the room session until the transport closes.
func (s *AnonymousSession) Run(_ context.Context) {
	s.hub.Join(s.group, s.client.ID)

	defer func() {
		s.hub.Leave(s.group, s.client.ID)
		s.hub.Unregister(s.client)
	}()

	for {
		data, err := s.client.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(data)
	}
}

func (s *AnonymousSession) dispatch(data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if ev, encErr := types.NewEvent("", types.FrameError, types.ErrorOut{Type: types.FrameError, Message: "invalid JSON frame"}); encErr == nil {
			s.client.Send(ev)
		}
		return
	}

	switch env.Type {
	case types.FrameMessage, types.FrameChatMessage:
		var frame types.SendMessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		content := strings.TrimSpace(frame.Content)
		if content == "" {
			return
		}
		s.broadcast(types.FrameMessage, types.MessageOut{
			Type: types.FrameMessage,
			Message: types.ChatMessage{
				SenderUsername: s.nickname,
				Content:        content,
				CreatedAt:      time.Now(),
			},
		})
	case types.FrameTyping:
		var frame types.TypingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		s.broadcast(types.FrameTyping, types.TypingOut{
			Type:     types.FrameTyping,
			Username: s.nickname,
			IsTyping: frame.IsTyping,
		})
	case types.FramePing:
		if ev, err := types.NewEvent("", types.FramePong, types.PongOut{Type: types.FramePong, Timestamp: time.Now()}); err == nil {
			s.client.Send(ev)
		}
	default:
		s.logger.Debug().Str("type", env.Type).Msg("ignoring unknown frame")
	}
}

func (s *AnonymousSession) broadcast(kind string, frame any) {
	ev, err := types.NewEvent(s.group, kind, frame)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("encode failed")
		return
	}
	s.hub.Broadcast(ev)
}
