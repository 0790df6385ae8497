package orch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/collabhub/internal/app"
	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/dkeye/collabhub/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *memConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *memConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *memConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// take decodes and clears everything received so far.
func (c *memConn) take(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()
	out := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		m, err := protocol.Decode(f)
		require.NoError(t, err, string(f))
		out = append(out, m)
	}
	return out
}

type recorderFunc func(context.Context, domain.Operation) error

func (f recorderFunc) Record(ctx context.Context, op domain.Operation) error { return f(ctx, op) }

type fixedDirectory map[domain.TargetID]bool

func (d fixedDirectory) Exists(_ context.Context, t domain.Target) (bool, error) {
	return d[t.ID], nil
}

func newHub(t *testing.T, mutate func(*Options)) *Orchestrator {
	t.Helper()
	dispatcher := app.NewDispatcher(app.SimplePolicy{})
	opts := Options{
		Registry:    app.NewRegistry(app.RegistryOptions{GracePeriod: time.Minute}, dispatcher),
		Dispatch:    dispatcher,
		IdleTimeout: time.Minute,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func connect(t *testing.T, o *Orchestrator, sid, uid string) (*core.Session, *memConn) {
	t.Helper()
	conn := &memConn{}
	s := core.NewSession(core.SessionID(sid), domain.Identity{ID: domain.UserID(uid), DisplayName: uid}, conn)
	require.True(t, o.Register(s))
	return s, conn
}

func send(o *Orchestrator, s *core.Session, frame string) {
	o.HandleFrame(context.Background(), s, []byte(frame))
}

func join(t *testing.T, o *Orchestrator, s *core.Session, conn *memConn, target string) {
	t.Helper()
	send(o, s, fmt.Sprintf(`{"type":"JOIN_ROOM","targetId":%q,"targetKind":"LIST"}`, target))
	require.True(t, s.InRoom(domain.TargetID(target)))
	conn.take(t)
}

func errorCode(t *testing.T, msgs []protocol.Message) (domain.ErrorCode, string) {
	t.Helper()
	require.Len(t, msgs, 1)
	e, ok := msgs[0].(protocol.Error)
	require.True(t, ok, "expected ERROR, got %T", msgs[0])
	return e.Code, e.RefersTo
}

func TestCollaborationOnSharedList(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	b, bConn := connect(t, o, "sb", "bob")

	send(o, a, `{"type":"JOIN_ROOM","targetId":"list-42","targetKind":"LIST"}`)
	msgs := aConn.take(t)
	require.Len(t, msgs, 2)
	snap, ok := msgs[0].(protocol.StateSnapshot)
	require.True(t, ok)
	assert.Equal(t, int64(0), snap.Version)
	assert.IsType(t, protocol.Presence{}, msgs[1])

	send(o, b, `{"type":"JOIN_ROOM","targetId":"list-42","targetKind":"LIST"}`)
	pres, ok := aConn.take(t)[0].(protocol.Presence)
	require.True(t, ok)
	assert.Equal(t, domain.Joined, pres.Event)
	assert.Len(t, pres.Members, 2)
	bConn.take(t)

	send(o, a, `{"type":"OPERATION","id":"m1","targetId":"list-42","fieldPath":"items[3].checked","value":true,"clientVersion":0,"kind":"CHECK_ITEM"}`)

	bMsgs := bConn.take(t)
	require.Len(t, bMsgs, 1)
	op, ok := bMsgs[0].(protocol.Operation)
	require.True(t, ok)
	assert.Equal(t, int64(1), op.Version)
	assert.Equal(t, "items[3].checked", op.FieldPath)
	assert.JSONEq(t, `true`, string(op.Value))
	require.NotNil(t, op.Origin)
	assert.Equal(t, domain.UserID("alice"), op.Origin.ID)
	assert.False(t, op.Corrective)

	aMsgs := aConn.take(t)
	require.Len(t, aMsgs, 1, "originator gets an ACK, not its own operation")
	ack, ok := aMsgs[0].(protocol.Ack)
	require.True(t, ok)
	assert.Equal(t, "m1", ack.RefersTo)
	assert.Equal(t, int64(1), ack.Version)

	// bob edits against the snapshot he got before alice's write
	send(o, b, `{"type":"OPERATION","id":"m2","targetId":"list-42","fieldPath":"items[3].checked","value":false,"clientVersion":0,"kind":"CHECK_ITEM"}`)
	bMsgs = bConn.take(t)
	require.Len(t, bMsgs, 1)
	corr, ok := bMsgs[0].(protocol.Operation)
	require.True(t, ok)
	assert.True(t, corr.Corrective)
	assert.JSONEq(t, `true`, string(corr.Value))
	assert.Equal(t, int64(1), corr.Version)
	assert.Equal(t, "m2", corr.ID)
	assert.Empty(t, aConn.take(t), "stale writes are never broadcast")

	room, ok := o.Registry.Room("list-42")
	require.True(t, ok)
	assert.Equal(t, int64(1), room.Version())
}

func TestReorderConflict(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	join(t, o, a, aConn, "list-42")

	send(o, a, `{"type":"OPERATION","targetId":"list-42","fieldPath":"title","value":"x","clientVersion":0,"kind":"EDIT_TEXT_FIELD"}`)
	aConn.take(t)
	send(o, a, `{"type":"OPERATION","id":"r1","targetId":"list-42","fieldPath":"order","value":[2,0,1],"clientVersion":0,"kind":"REORDER"}`)
	code, ref := errorCode(t, aConn.take(t))
	assert.Equal(t, domain.CodeReorderConflict, code)
	assert.Equal(t, "r1", ref)
}

func TestBadMessageKeepsConnectionOpen(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")

	for _, frame := range []string{
		`not json`,
		`{"type":"TELEPORT","id":"x"}`,
		`{"type":"OPERATION","id":"m3","targetId":"list-42","fieldPath":"title","value":"x","kind":"EDIT_TEXT_FIELD"}`,
		`{"type":"ACK","targetId":"list-42","refersTo":"a","fieldPath":"title","version":1}`,
	} {
		send(o, a, frame)
		code, _ := errorCode(t, aConn.take(t))
		assert.Equal(t, domain.CodeBadMessage, code, frame)
	}

	send(o, a, `{"type":"PING","id":"p1"}`)
	msgs := aConn.take(t)
	require.Len(t, msgs, 1)
	pong, ok := msgs[0].(protocol.Pong)
	require.True(t, ok)
	assert.Equal(t, "p1", pong.RefersTo)
	assert.True(t, a.Active())
	assert.False(t, aConn.isClosed())
}

func TestOperationRequiresMembership(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	b, bConn := connect(t, o, "sb", "bob")
	join(t, o, b, bConn, "list-42")

	send(o, a, `{"type":"OPERATION","id":"m4","targetId":"list-42","fieldPath":"title","value":"x","clientVersion":0,"kind":"EDIT_TEXT_FIELD"}`)
	code, ref := errorCode(t, aConn.take(t))
	assert.Equal(t, domain.CodeRoomNotFound, code)
	assert.Equal(t, "m4", ref)
	assert.Empty(t, bConn.take(t))

	send(o, a, `{"type":"LEAVE_ROOM","targetId":"list-42"}`)
	assert.Empty(t, aConn.take(t), "leaving a room never joined is silent")
}

func TestRoomsAreIsolated(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	b, bConn := connect(t, o, "sb", "bob")
	join(t, o, a, aConn, "list-1")
	join(t, o, b, bConn, "list-2")

	send(o, a, `{"type":"OPERATION","targetId":"list-1","fieldPath":"title","value":"x","clientVersion":0,"kind":"EDIT_TEXT_FIELD"}`)
	assert.Len(t, aConn.take(t), 1)
	assert.Empty(t, bConn.take(t))
}

func TestJoinValidation(t *testing.T) {
	o := newHub(t, func(opts *Options) {
		opts.Directory = fixedDirectory{"list-42": true}
	})
	a, aConn := connect(t, o, "sa", "alice")

	send(o, a, `{"type":"JOIN_ROOM","id":"j1","targetId":"list-404","targetKind":"LIST"}`)
	code, ref := errorCode(t, aConn.take(t))
	assert.Equal(t, domain.CodeRoomNotFound, code)
	assert.Equal(t, "j1", ref)
	assert.Equal(t, 0, o.Registry.Count())

	join(t, o, a, aConn, "list-42")
	b, bConn := connect(t, o, "sb", "bob")
	send(o, b, `{"type":"JOIN_ROOM","targetId":"list-42","targetKind":"RECIPE"}`)
	code, _ = errorCode(t, bConn.take(t))
	assert.Equal(t, domain.CodeRoomNotFound, code)
}

func TestRejoinSendsFreshSnapshotOnly(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	b, bConn := connect(t, o, "sb", "bob")
	join(t, o, a, aConn, "list-42")
	join(t, o, b, bConn, "list-42")
	aConn.take(t)

	send(o, b, `{"type":"JOIN_ROOM","targetId":"list-42","targetKind":"LIST"}`)
	msgs := bConn.take(t)
	require.Len(t, msgs, 1)
	assert.IsType(t, protocol.StateSnapshot{}, msgs[0])
	assert.Empty(t, aConn.take(t))
}

func TestFieldAllowList(t *testing.T) {
	o := newHub(t, func(opts *Options) {
		opts.Fields = app.FieldPolicy{domain.KindList: {"title", "items"}}
	})
	a, aConn := connect(t, o, "sa", "alice")
	join(t, o, a, aConn, "list-42")

	send(o, a, `{"type":"OPERATION","id":"m5","targetId":"list-42","fieldPath":"owner","value":"me","clientVersion":0,"kind":"EDIT_TEXT_FIELD"}`)
	code, ref := errorCode(t, aConn.take(t))
	assert.Equal(t, domain.CodeBadMessage, code)
	assert.Equal(t, "m5", ref)
}

func TestRateLimit(t *testing.T) {
	o := newHub(t, func(opts *Options) {
		opts.Limiter = app.NewOperationRateLimiter(2, time.Minute)
	})
	a, aConn := connect(t, o, "sa", "alice")
	join(t, o, a, aConn, "list-42")

	for v := 0; v < 2; v++ {
		send(o, a, fmt.Sprintf(`{"type":"OPERATION","targetId":"list-42","fieldPath":"title","value":"x","clientVersion":%d,"kind":"EDIT_TEXT_FIELD"}`, v))
		assert.IsType(t, protocol.Ack{}, aConn.take(t)[0])
	}
	send(o, a, `{"type":"OPERATION","targetId":"list-42","fieldPath":"title","value":"x","clientVersion":2,"kind":"EDIT_TEXT_FIELD"}`)
	code, _ := errorCode(t, aConn.take(t))
	assert.Equal(t, domain.CodeRateLimited, code)
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	b, bConn := connect(t, o, "sb", "bob")
	join(t, o, a, aConn, "list-42")
	join(t, o, a, aConn, "recipe-1")
	join(t, o, b, bConn, "list-42")

	o.Disconnect(a)
	assert.Equal(t, core.StateClosed, a.State())
	assert.True(t, aConn.isClosed())
	assert.Empty(t, a.Rooms())
	assert.Equal(t, 1, o.SessionCount())

	msgs := bConn.take(t)
	require.Len(t, msgs, 1)
	pres, ok := msgs[0].(protocol.Presence)
	require.True(t, ok)
	assert.Equal(t, domain.Left, pres.Event)
	assert.Equal(t, []domain.Identity{b.Identity()}, pres.Members)

	room, ok := o.Registry.Room("list-42")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())

	// frames still in flight after close are discarded
	send(o, a, `{"type":"JOIN_ROOM","targetId":"list-42","targetKind":"LIST"}`)
	assert.Equal(t, 1, room.MemberCount())

	o.Disconnect(a)
	assert.Equal(t, core.StateClosed, a.State())
}

func TestSweepIdle(t *testing.T) {
	o := newHub(t, nil)
	a, aConn := connect(t, o, "sa", "alice")
	_, bConn := connect(t, o, "sb", "bob")

	now := time.Now()
	a.Touch(now.Add(-2 * time.Minute))
	assert.Equal(t, 1, o.SweepIdle(now))
	assert.True(t, aConn.isClosed())
	assert.False(t, bConn.isClosed())
}

func TestAcceptedOperationsArePersisted(t *testing.T) {
	recorded := make(chan domain.Operation, 4)
	o := newHub(t, func(opts *Options) {
		opts.Recorder = recorderFunc(func(_ context.Context, op domain.Operation) error {
			recorded <- op
			return nil
		})
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, time.Hour) }()

	a, aConn := connect(t, o, "sa", "alice")
	join(t, o, a, aConn, "list-42")
	send(o, a, `{"type":"OPERATION","targetId":"list-42","fieldPath":"title","value":"Weekly","clientVersion":0,"kind":"EDIT_TEXT_FIELD"}`)
	send(o, a, `{"type":"OPERATION","targetId":"list-42","fieldPath":"title","value":"stale","clientVersion":0,"kind":"EDIT_TEXT_FIELD"}`)

	select {
	case op := <-recorded:
		assert.Equal(t, int64(1), op.Version)
		assert.Equal(t, domain.UserID("alice"), op.Origin.ID)
		assert.NotEmpty(t, op.ID)
	case <-time.After(time.Second):
		t.Fatal("operation was not persisted")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, recorded, "merged writes are not persisted")
	assert.Equal(t, core.StateClosed, a.State(), "shutdown closes every session")
}

func TestPersistenceKeepsOrderWhenQueueIsFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var versions []int64
	o := newHub(t, func(opts *Options) {
		opts.PersistWait = 5 * time.Millisecond
		opts.Recorder = recorderFunc(func(_ context.Context, op domain.Operation) error {
			if op.Version == 1 {
				close(started)
				<-release
			}
			mu.Lock()
			versions = append(versions, op.Version)
			mu.Unlock()
			return nil
		})
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, time.Hour) }()

	a, aConn := connect(t, o, "sa", "alice")
	join(t, o, a, aConn, "list-42")
	edit := func(v int) {
		send(o, a, fmt.Sprintf(`{"type":"OPERATION","targetId":"list-42","fieldPath":"title","value":"v%d","clientVersion":%d,"kind":"EDIT_TEXT_FIELD"}`, v, v-1))
	}

	edit(1)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first operation never reached the recorder")
	}
	total := persistQueueSize + 3
	for v := 2; v <= total; v++ {
		edit(v)
	}
	aConn.take(t)
	assert.Equal(t, int64(2), o.PersistDropped(), "one in flight, a full queue, two over")

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) == total-2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	for i := 1; i < len(versions); i++ {
		assert.Less(t, versions[i-1], versions[i], "persisted out of version order at %d", i)
	}
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
