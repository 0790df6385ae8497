package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/stretchr/testify/require"
)

// queueConn models a bounded outbound queue that nobody drains.
type queueConn struct {
	mu     sync.Mutex
	limit  int
	frames []core.Frame
	closed bool
}

func (c *queueConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *queueConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *queueConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *queueConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env.Type)
	}
	return out
}

func newTestSession(t *testing.T, sid, uid string, limit int) (*core.Session, *queueConn) {
	t.Helper()
	conn := &queueConn{limit: limit}
	s := core.NewSession(core.SessionID(sid), domain.Identity{ID: domain.UserID(uid), DisplayName: uid}, conn)
	require.True(t, s.Activate())
	return s, conn
}

var list42 = domain.Target{ID: "list-42", Kind: domain.KindList}
