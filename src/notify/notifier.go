package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/types"
)

// Notifier pushes server-originated notification events into per-user
// notification groups. It is the only path allowed to broadcast to a
// group the sender is not a member of.
type Notifier struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

func New(h *hub.Hub, logger zerolog.Logger) *Notifier {
	return &Notifier{
		hub:    h,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// NewMatch notifies userID that they matched with the user in summary.
func (n *Notifier) NewMatch(userID int64, match types.MatchSummary) error {
	return n.push(userID, types.Notification{
		Kind:      types.NotifyNewMatch,
		Timestamp: time.Now(),
		Match:     &match,
	})
}

// NewLike notifies userID that liker liked them.
func (n *Notifier) NewLike(userID int64, liker types.UserSummary) error {
	return n.push(userID, types.Notification{
		Kind:      types.NotifyNewLike,
		Timestamp: time.Now(),
		Liker:     &liker,
	})
}

// NewMessage notifies userID of a message received outside an open chat
// session.
func (n *Notifier) NewMessage(userID int64, message types.ChatMessage) error {
	return n.push(userID, types.Notification{
		Kind:      types.NotifyNewMessage,
		Timestamp: time.Now(),
		Message:   &message,
	})
}

// System pushes a free-form system notification to userID.
func (n *Notifier) System(userID int64, text string) error {
	return n.push(userID, types.Notification{
		Kind:      types.NotifySystem,
		Timestamp: time.Now(),
		Text:      text,
	})
}

func (n *Notifier) push(userID int64, notification types.Notification) error {
	group := hub.UserGroup(userID)
	ev, err := types.NewEvent(group, types.FrameNotify, types.NotificationOut{
		Type:         types.FrameNotify,
		Notification: notification,
	})
	if err != nil {
		return fmt.Errorf("types.NewEvent: %w", err)
	}

	n.hub.Broadcast(ev)
	n.logger.Debug().Int64("user_id", userID).Str("kind", notification.Kind).Msg("notification pushed")
	return nil
}
