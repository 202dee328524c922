package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/presence"
)

// NotificationSession is the per-user push-only channel. Authenticated
// connections register into the user's notification group and count
// toward presence; anonymous connections stay open in a degraded mode,
// registered to no group, receiving nothing.
type NotificationSession struct {
	client   *hub.Client
	hub      *hub.Hub
	presence *presence.Tracker
	logger   zerolog.Logger
}

func NewNotificationSession(client *hub.Client, h *hub.Hub, tracker *presence.Tracker, logger zerolog.Logger) *NotificationSession {
	return &NotificationSession{
		client:   client,
		hub:      h,
		presence: tracker,
		logger: logger.With().
			Str("component", "notification-session").
			Str("client_id", client.ID).
			Logger(),
	}
}

// Run serves the session until the transport closes. Inbound frames
// carry no meaning on this channel and are discarded.
func (s *NotificationSession) Run(_ context.Context) {
	if !s.client.Anonymous() {
		s.hub.Join(hub.UserGroup(s.client.UserID), s.client.ID)
		s.presence.ConnectionOpened(s.client.UserID)

		defer func() {
			s.hub.Leave(hub.UserGroup(s.client.UserID), s.client.ID)
			s.presence.ConnectionClosed(s.client.UserID)
		}()
	}
	defer s.hub.Unregister(s.client)

	for {
		if _, err := s.client.ReadMessage(); err != nil {
			return
		}
	}
}
