// Package signal is the connection gateway: it authenticates the upgrade
// request, wraps the websocket in a session and pumps frames to and from the hub.
package signal

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/collabhub/internal/app/orch"
	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/dkeye/collabhub/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	IdleTimeout    time.Duration
	WriteWait      time.Duration
	SendQueueSize  int
	AllowedOrigins []string
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	Auth core.Authenticator

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, auth core.Authenticator, opts Options) *SignalWSController {
	ctl := &SignalWSController{
		Orch: o,
		Auth: auth,
		opts: opts,
	}
	ctl.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     ctl.checkOrigin,
	}
	return ctl
}

// checkOrigin allows any origin when no allow-list is configured.
func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	if len(ctl.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(ctl.opts.AllowedOrigins, origin)
}

type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, queue int, writeWait time.Duration) *WsSignalConn {
	return &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, queue),
		writeWait: writeWait,
	}
}

// TrySend never blocks; a full queue reports core.ErrBackpressure.
func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. The write pump drains what is queued, then
// sends a close frame and drops the transport.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WsSignalConn) shutdown() {
	deadline := time.Now().Add(c.writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = c.conn.Close()
}

// HandleSignal authenticates before upgrading. A failed check answers 401 and
// no session is created.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	credential := credentialFrom(c)
	identity, err := ctl.Auth.Authenticate(c.Request.Context(), credential)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("upgrade rejected")
		body, _ := protocol.Encode(protocol.Error{Code: domain.CodeAuthFailed, Message: "authentication failed"})
		c.Data(http.StatusUnauthorized, "application/json", body)
		c.Abort()
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.opts.SendQueueSize, ctl.opts.WriteWait)
	sid := core.SessionID(uuid.NewString())
	sess := core.NewSession(sid, identity, conn)
	sess.Touch(time.Now())
	if !ctl.Orch.Register(sess) {
		conn.Close()
		conn.shutdown()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(identity.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess, conn)
}
