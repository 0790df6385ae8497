package core

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/collabhub/internal/domain"
)

type SessionID string

// State is the connection lifecycle: Connecting -> Active -> Closing -> Closed.
// Connecting may also go straight to Closed. No state is re-entered.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session binds an identity to its transport endpoint and tracks the rooms it
// belongs to. The rooms set is only changed by Room while holding the room lock,
// which keeps both sides of the membership relation consistent.
type Session struct {
	id       SessionID
	identity domain.Identity
	signal   SignalConnection

	state        atomic.Int32
	lastActivity atomic.Int64

	mu    sync.Mutex
	rooms map[domain.TargetID]struct{}
}

func NewSession(id SessionID, identity domain.Identity, signal SignalConnection) *Session {
	s := &Session{
		id:       id,
		identity: identity,
		signal:   signal,
		rooms:    make(map[domain.TargetID]struct{}),
	}
	s.Touch(time.Now())
	return s
}

func (s *Session) ID() SessionID             { return s.id }
func (s *Session) Identity() domain.Identity { return s.identity }
func (s *Session) Signal() SignalConnection  { return s.signal }
func (s *Session) State() State              { return State(s.state.Load()) }
func (s *Session) Active() bool              { return s.State() == StateActive }
func (s *Session) Touch(now time.Time)       { s.lastActivity.Store(now.UnixNano()) }
func (s *Session) LastActivity() time.Time   { return time.Unix(0, s.lastActivity.Load()) }

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Activate moves a freshly authenticated session to Active.
func (s *Session) Activate() bool { return s.transition(StateConnecting, StateActive) }

// Abort ends a session that never became active.
func (s *Session) Abort() bool { return s.transition(StateConnecting, StateClosed) }

// BeginClose moves an active session to Closing. Only the first caller wins.
// It shares mu with addRoom, so once it returns no room can be added and
// Rooms() is the final membership set to clean up.
func (s *Session) BeginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StateActive, StateClosing)
}

// Finish marks a closing session as terminal.
func (s *Session) Finish() bool { return s.transition(StateClosing, StateClosed) }

// Rooms returns a copy of the current membership set, sorted.
func (s *Session) Rooms() []domain.TargetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TargetID, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Session) InRoom(id domain.TargetID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok
}

func (s *Session) addRoom(id domain.TargetID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateActive {
		return false
	}
	s.rooms[id] = struct{}{}
	return true
}

func (s *Session) removeRoom(id domain.TargetID) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
}
