package match

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pulsedate/realtime/src/notify"
	"github.com/pulsedate/realtime/src/store"
	"github.com/pulsedate/realtime/src/types"
)

// WelcomeText is the content of the system-authored message posted into
// a freshly created conversation. Consumers detect welcome messages by
// the structured store.MessageKindSystemWelcome tag, never by this text.
const WelcomeText = "You matched! Say hello."

// Result reports what a MutualLike invocation did.
type Result struct {
	Match               store.Match
	Conversation        store.Conversation
	MatchCreated        bool
	ConversationCreated bool
}

// Coordinator turns a mutual like into a match, a conversation, a
// welcome message and one new_match notification per party, idempotently.
type Coordinator struct {
	store    store.ChatStore
	notifier *notify.Notifier
	logger   zerolog.Logger
}

func NewCoordinator(st store.ChatStore, notifier *notify.Notifier, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    st,
		notifier: notifier,
		logger:   logger.With().Str("component", "match").Logger(),
	}
}

// MutualLike runs the match side effect for users a and b. Each step
// must complete before the next; any failure abandons the whole
// operation before notifications are pushed, so no partial "match but
// no notification" state is ever user visible. A step failing after the
// match committed rolls the match back to inactive, so a retry observes
// it as new again and replays the notifications. A retried invocation
// on an already-active match creates nothing and notifies nobody.
func (c *Coordinator) MutualLike(ctx context.Context, a, b int64) (Result, error) {
	ca, cb := store.Canonical(a, b)

	// Both summaries are read before anything commits, so a lookup
	// failure cannot leave a committed match behind.
	summaryA, err := c.store.UserSummary(ctx, ca)
	if err != nil {
		return Result{}, fmt.Errorf("store.UserSummary: %w", err)
	}
	summaryB, err := c.store.UserSummary(ctx, cb)
	if err != nil {
		return Result{}, fmt.Errorf("store.UserSummary: %w", err)
	}

	match, matchCreated, err := c.store.GetOrReactivateMatch(ctx, ca, cb)
	if err != nil {
		return Result{}, fmt.Errorf("store.GetOrReactivateMatch: %w", err)
	}

	conversation, conversationCreated, err := c.store.GetOrCreateConversation(ctx, ca, cb)
	if err != nil {
		return Result{}, c.rollback(ctx, matchCreated, ca, cb, fmt.Errorf("store.GetOrCreateConversation: %w", err))
	}

	if conversationCreated {
		if _, err := c.store.CreateMessage(ctx, conversation.ID, ca, WelcomeText, store.MessageKindSystemWelcome); err != nil {
			return Result{}, c.rollback(ctx, matchCreated, ca, cb, fmt.Errorf("store.CreateMessage: %w", err))
		}
	}

	if matchCreated {
		// Each party's notification carries the other party's summary.
		// A push failure also rolls back, trading a possible duplicate
		// notification on retry for never losing one.
		if err := c.notifier.NewMatch(ca, types.MatchSummary{ID: match.ID, User: summaryB, CreatedAt: match.CreatedAt}); err != nil {
			return Result{}, c.rollback(ctx, true, ca, cb, fmt.Errorf("notifier.NewMatch: %w", err))
		}
		if err := c.notifier.NewMatch(cb, types.MatchSummary{ID: match.ID, User: summaryA, CreatedAt: match.CreatedAt}); err != nil {
			return Result{}, c.rollback(ctx, true, ca, cb, fmt.Errorf("notifier.NewMatch: %w", err))
		}
	}

	c.logger.Info().
		Int64("match_id", match.ID).
		Int64("conversation_id", conversation.ID).
		Bool("match_created", matchCreated).
		Bool("conversation_created", conversationCreated).
		Msg("mutual like processed")

	return Result{
		Match:               match,
		Conversation:        conversation,
		MatchCreated:        matchCreated,
		ConversationCreated: conversationCreated,
	}, nil
}

// rollback deactivates a match this invocation activated, so the next
// invocation sees it as new and replays its side effects. Returns cause
// unchanged.
func (c *Coordinator) rollback(ctx context.Context, matchCreated bool, a, b int64, cause error) error {
	if !matchCreated {
		return cause
	}
	if err := c.store.DeactivateMatch(ctx, a, b); err != nil {
		c.logger.Error().Err(err).Int64("user_a", a).Int64("user_b", b).Msg("match rollback failed")
	}
	return cause
}
