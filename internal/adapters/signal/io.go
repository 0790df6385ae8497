package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the session's lifetime: whatever ends it (client close, read
// error, idle deadline, forced close) runs the hub's disconnect cleanup.
func (ctl *SignalWSController) readPump(ctx context.Context, sess *core.Session, c *WsSignalConn) {
	sid := string(sess.ID())
	defer func() {
		log.Debug().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
		ctl.Orch.Disconnect(sess)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	extend := func() error {
		sess.Touch(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.IdleTimeout))
	}
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrReadLimit) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
				}
				return
			}
			_ = extend()
			ctl.Orch.HandleFrame(ctx, sess, data)
		}
	}
}
