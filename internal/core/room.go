package core

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/collabhub/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomClosed       = errors.New("room closed")
	ErrSessionNotActive = errors.New("session not active")
)

// Delivery is one message queued for fan-out. Payload is one of
// domain.Operation, domain.PresenceEvent, domain.StateSnapshot, domain.Ack
// or Correction.
type Delivery struct {
	Target  domain.TargetID
	Payload any
	To      []*Session
	Exclude SessionID
}

// Correction wraps the authoritative value sent back to a stale writer.
type Correction struct {
	Op domain.Operation
}

type RoomOptions struct {
	EchoOriginator bool
}

// Room is the runtime state of one collaboration target. Every read-modify-write
// happens under mu. Deliveries produced inside the critical section are appended
// to outbox and handed out by Flush in the same order, without holding mu.
type Room struct {
	target    domain.Target
	createdAt time.Time
	opts      RoomOptions

	mu       sync.Mutex
	version  int64
	fields   *FieldTable
	members  map[SessionID]*Session
	presence *Presence
	closed   bool

	teardown    *time.Timer
	teardownGen uint64

	outbox  []Delivery
	flushMu sync.Mutex
}

func NewRoom(target domain.Target, opts RoomOptions) *Room {
	return &Room{
		target:    target,
		createdAt: time.Now(),
		opts:      opts,
		fields:    NewFieldTable(),
		members:   make(map[SessionID]*Session),
		presence:  NewPresence(),
	}
}

func (r *Room) Target() domain.Target { return r.target }

type JoinResult struct {
	// Already is set when the session was a member before the call.
	Already bool
	Members []domain.Identity
}

// Join adds s to the room, cancels a pending teardown and queues the state
// snapshot for s followed by a JOINED presence event for all members.
func (r *Room) Join(s *Session) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return JoinResult{}, ErrRoomClosed
	}
	_, already := r.members[s.ID()]
	if !already && !s.addRoom(r.target.ID) {
		return JoinResult{}, ErrSessionNotActive
	}
	r.cancelTeardownLocked()

	snap := domain.StateSnapshot{Target: r.target.ID, Version: r.version, Fields: r.fields.Values()}
	r.outbox = append(r.outbox, Delivery{Target: r.target.ID, Payload: snap, To: []*Session{s}})

	if already {
		return JoinResult{Already: true, Members: r.presence.Members()}, nil
	}
	r.members[s.ID()] = s
	r.presence.Add(s.Identity())

	ev := domain.PresenceEvent{
		Target:   r.target.ID,
		Identity: s.Identity(),
		State:    domain.Joined,
		Members:  r.presence.Members(),
	}
	r.outbox = append(r.outbox, Delivery{Target: r.target.ID, Payload: ev, To: r.membersLocked()})
	log.Info().Str("module", "core.room").Str("target", string(r.target.ID)).Str("sid", string(s.ID())).
		Str("user", string(s.Identity().ID)).Int("members", len(r.members)).Msg("member joined")
	return JoinResult{Members: ev.Members}, nil
}

type LeaveResult struct {
	WasMember bool
	Empty     bool
}

// Leave removes s and queues a LEFT presence event for the remaining members.
func (r *Room) Leave(s *Session) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[s.ID()]; !ok {
		return LeaveResult{Empty: len(r.members) == 0}
	}
	delete(r.members, s.ID())
	s.removeRoom(r.target.ID)
	r.presence.Remove(s.Identity().ID)

	if len(r.members) > 0 {
		ev := domain.PresenceEvent{
			Target:   r.target.ID,
			Identity: s.Identity(),
			State:    domain.Left,
			Members:  r.presence.Members(),
		}
		r.outbox = append(r.outbox, Delivery{Target: r.target.ID, Payload: ev, To: r.membersLocked()})
	}
	log.Info().Str("module", "core.room").Str("target", string(r.target.ID)).Str("sid", string(s.ID())).
		Int("members", len(r.members)).Msg("member left")
	return LeaveResult{WasMember: true, Empty: len(r.members) == 0}
}

// Apply resolves op under the room lock. On acceptance the room version is
// bumped, the field table updated and the operation queued for broadcast; the
// stamped operation is returned. Stale writes queue a correction for the
// originator only. Rejections are returned as *domain.Error.
func (r *Room) Apply(s *Session, op domain.Operation) (domain.Operation, Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[s.ID()]; !ok || r.closed {
		return op, Rejected, domain.NewError(domain.CodeRoomNotFound, "not a member of "+string(op.Target)).Ref(op.MsgID)
	}

	res := Resolve(r.fields, r.version, op)
	switch res.Outcome {
	case Rejected:
		return op, Rejected, res.Err
	case Merged:
		r.outbox = append(r.outbox, Delivery{Target: r.target.ID, Payload: Correction{Op: res.Correction}, To: []*Session{s}})
		return res.Correction, Merged, nil
	}

	r.version++
	accepted := op.WithVersion(r.version, time.Now())
	r.fields.Apply(accepted)

	d := Delivery{Target: r.target.ID, Payload: accepted, To: r.membersLocked()}
	if !r.opts.EchoOriginator {
		d.Exclude = s.ID()
	}
	r.outbox = append(r.outbox, d)
	if !r.opts.EchoOriginator {
		ack := domain.Ack{Target: r.target.ID, RefersTo: op.MsgID, FieldPath: op.FieldPath, Version: r.version}
		r.outbox = append(r.outbox, Delivery{Target: r.target.ID, Payload: ack, To: []*Session{s}})
	}
	return accepted, Accepted, nil
}

// Flush hands queued deliveries to send in the order they were produced.
// Concurrent callers serialize on flushMu; whoever holds it drains everything.
func (r *Room) Flush(send func(Delivery)) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	for {
		r.mu.Lock()
		batch := r.outbox
		r.outbox = nil
		r.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			send(d)
		}
	}
}

// ScheduleTeardown arms the grace timer if the room is empty. fire receives the
// timer generation, to be passed back to Expire.
func (r *Room) ScheduleTeardown(after time.Duration, fire func(gen uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.members) > 0 {
		return
	}
	r.cancelTeardownLocked()
	gen := r.teardownGen
	r.teardown = time.AfterFunc(after, func() { fire(gen) })
}

// Expire closes the room if the timer of generation gen is still the current
// one and nobody rejoined. A closed room rejects further joins.
func (r *Room) Expire(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.teardownGen || len(r.members) > 0 {
		return false
	}
	r.closed = true
	r.teardown = nil
	return true
}

// Close tears the room down regardless of membership. Used on shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelTeardownLocked()
	r.closed = true
}

func (r *Room) cancelTeardownLocked() {
	if r.teardown != nil {
		r.teardown.Stop()
		r.teardown = nil
	}
	r.teardownGen++
}

func (r *Room) membersLocked() []*Session {
	out := make([]*Session, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

func (r *Room) IsMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[sid]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Room) Snapshot() domain.StateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.StateSnapshot{Target: r.target.ID, Version: r.version, Fields: r.fields.Values()}
}

// FieldVersion returns the recorded version of one path, zero when unset.
func (r *Room) FieldVersion(path string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fields.Recorded(path, false)
}

func (r *Room) Info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomInfo{
		Target:      r.target.ID,
		Kind:        r.target.Kind,
		Version:     r.version,
		MemberCount: len(r.members),
		CreatedAt:   r.createdAt,
	}
}

func (r *Room) Members() []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Members()
}
