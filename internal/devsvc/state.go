package devsvc

import (
	"github.com/evhub-io/evhub/eventapi"
	"go.uber.org/atomic"
)

// State owns the hub-wide counters that the original design kept as
// process globals: the per-session event id sequence, the filter id
// sequence and the active experiment/session pair. It is created once
// per hub and passed by reference to everything that stamps events.
type State struct {
	nextEventID  atomic.Uint64
	nextFilterID atomic.Int32
	experimentID atomic.Uint32
	sessionID    atomic.Uint32
}

func NewState() *State {
	return &State{}
}

// NextEventID returns the next event id, starting at 1. Ids are strictly
// increasing within a session and never reused.
func (s *State) NextEventID() uint64 {
	return s.nextEventID.Inc()
}

// NextFilterID returns the next filter id, starting at 1. Filter ids are
// assigned when filters are constructed and survive session restarts.
func (s *State) NextFilterID() eventapi.FilterID {
	return eventapi.FilterID(s.nextFilterID.Inc())
}

// StartSession switches to the given experiment/session pair and resets
// the event id sequence, so the first event of every session has id 1.
func (s *State) StartSession(experimentID, sessionID uint32) {
	s.experimentID.Store(experimentID)
	s.sessionID.Store(sessionID)
	s.nextEventID.Store(0)
}

func (s *State) Session() (experimentID, sessionID uint32) {
	return s.experimentID.Load(), s.sessionID.Load()
}
