package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
)

var (
	ErrKindMismatch   = errors.New("target kind mismatch")
	ErrRegistryClosed = errors.New("registry closed")
)

type RegistryOptions struct {
	// GracePeriod is how long an empty room survives before teardown.
	GracePeriod    time.Duration
	EchoOriginator bool
}

// Registry owns the mapping from target id to live Room. There is at most one
// Room per target id; every change to a room goes through here and its
// deliveries are flushed to the Deliverer once the room lock is released.
type Registry struct {
	opts    RegistryOptions
	deliver Deliverer

	mu     sync.RWMutex
	rooms  map[domain.TargetID]*core.Room
	closed bool
}

func NewRegistry(opts RegistryOptions, deliver Deliverer) *Registry {
	return &Registry{
		opts:    opts,
		deliver: deliver,
		rooms:   make(map[domain.TargetID]*core.Room),
	}
}

// Join adds s to the room of t, creating the room if needed. Joining twice is
// a no-op apart from a fresh STATE_SNAPSHOT.
func (r *Registry) Join(s *core.Session, t domain.Target) (*core.Room, core.JoinResult, error) {
	for {
		room, err := r.getOrCreate(t)
		if err != nil {
			return nil, core.JoinResult{}, err
		}
		if room.Target().Kind != t.Kind {
			return nil, core.JoinResult{}, ErrKindMismatch
		}
		res, err := room.Join(s)
		if errors.Is(err, core.ErrRoomClosed) {
			// lost the race against teardown; the next lookup creates a fresh room
			continue
		}
		if err != nil {
			// the room may have been created for s alone
			room.ScheduleTeardown(r.opts.GracePeriod, func(gen uint64) { r.expire(room, gen) })
			return nil, core.JoinResult{}, err
		}
		room.Flush(r.flush)
		return room, res, nil
	}
}

// Leave removes s from the room of id and arms the teardown timer when the
// room becomes empty. It reports whether s was a member.
func (r *Registry) Leave(s *core.Session, id domain.TargetID) bool {
	room, ok := r.Room(id)
	if !ok {
		return false
	}
	res := room.Leave(s)
	room.Flush(r.flush)
	if res.Empty {
		room.ScheduleTeardown(r.opts.GracePeriod, func(gen uint64) { r.expire(room, gen) })
	}
	return res.WasMember
}

// Apply runs op through the conflict resolver of its room.
func (r *Registry) Apply(s *core.Session, op domain.Operation) (domain.Operation, core.Outcome, error) {
	room, ok := r.Room(op.Target)
	if !ok {
		return op, core.Rejected, domain.NewError(domain.CodeRoomNotFound, "no such room "+string(op.Target)).Ref(op.MsgID)
	}
	out, outcome, err := room.Apply(s, op)
	room.Flush(r.flush)
	return out, outcome, err
}

func (r *Registry) flush(d core.Delivery) {
	r.deliver.Deliver(d)
}
