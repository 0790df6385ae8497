package core

import (
	"sync"
	"testing"

	"github.com/dkeye/collabhub/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func activeSession(t *testing.T, sid, uid string) *Session {
	t.Helper()
	s := NewSession(SessionID(sid), domain.Identity{ID: domain.UserID(uid), DisplayName: uid}, &fakeConn{})
	require.True(t, s.Activate())
	return s
}

func drain(r *Room) []Delivery {
	var out []Delivery
	r.Flush(func(d Delivery) { out = append(out, d) })
	return out
}

func recipients(d Delivery) []SessionID {
	var out []SessionID
	for _, s := range d.To {
		if s.ID() != d.Exclude {
			out = append(out, s.ID())
		}
	}
	return out
}

func listRoom(id string) *Room {
	return NewRoom(domain.Target{ID: domain.TargetID(id), Kind: domain.KindList}, RoomOptions{})
}

func op(path string, kind domain.OpKind, value string, clientVersion int64) domain.Operation {
	o := domain.Operation{
		ID:            "op-" + path,
		Target:        "list-42",
		Origin:        domain.Identity{ID: "alice", DisplayName: "alice"},
		FieldPath:     path,
		Kind:          kind,
		ClientVersion: clientVersion,
	}
	if value != "" {
		o.Value = []byte(value)
	}
	return o
}
