package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is a user's coalesced presence: online while at least one
// connection is open, plus the last activity timestamp.
type State struct {
	Online       bool
	LastActivity time.Time
}

type entry struct {
	conns        int
	lastActivity time.Time
}

// Tracker counts open connections per user. Online/offline transitions
// are derived from the count, never from a last-write-wins flag, so a
// slow disconnect can not race ahead of a later connect.
type Tracker struct {
	mu     sync.Mutex
	users  map[int64]*entry
	logger zerolog.Logger
}

func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		users:  make(map[int64]*entry),
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// ConnectionOpened records a new connection for userID and returns the
// resulting state.
func (t *Tracker) ConnectionOpened(userID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.users[userID]
	if !ok {
		e = &entry{}
		t.users[userID] = e
	}
	e.conns++
	e.lastActivity = time.Now()

	if e.conns == 1 {
		t.logger.Debug().Int64("user_id", userID).Msg("user online")
	}
	return State{Online: true, LastActivity: e.lastActivity}
}

// ConnectionClosed records a closed connection for userID and returns
// the resulting state. The user goes offline only when the last open
// connection, across all session kinds, closes.
func (t *Tracker) ConnectionClosed(userID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.users[userID]
	if !ok {
		return State{}
	}
	if e.conns > 0 {
		e.conns--
	}
	e.lastActivity = time.Now()

	if e.conns == 0 {
		state := State{Online: false, LastActivity: e.lastActivity}
		delete(t.users, userID)
		t.logger.Debug().Int64("user_id", userID).Msg("user offline")
		return state
	}
	return State{Online: true, LastActivity: e.lastActivity}
}

// State reports the current presence of userID.
func (t *Tracker) State(userID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.users[userID]
	if !ok || e.conns == 0 {
		return State{}
	}
	return State{Online: true, LastActivity: e.lastActivity}
}
