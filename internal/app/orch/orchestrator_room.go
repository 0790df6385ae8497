package orch

import (
	"context"
	"errors"

	"github.com/dkeye/collabhub/internal/app"
	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/dkeye/collabhub/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join validates the target against the directory, then joins the room. The
// registry queues the STATE_SNAPSHOT for s and the JOINED presence event.
func (o *Orchestrator) Join(ctx context.Context, s *core.Session, m protocol.JoinRoom) {
	target := domain.Target{ID: m.TargetID, Kind: m.TargetKind}

	exists, err := o.Directory.Exists(ctx, target)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("target", string(target.ID)).Msg("target lookup")
		o.replyError(s, domain.NewError(domain.CodeRoomNotFound, "target lookup failed").Ref(m.ID))
		return
	}
	if !exists {
		o.replyError(s, domain.NewError(domain.CodeRoomNotFound, "unknown target "+string(target.ID)).Ref(m.ID))
		return
	}

	_, res, err := o.Registry.Join(s, target)
	switch {
	case errors.Is(err, app.ErrKindMismatch):
		o.replyError(s, domain.NewError(domain.CodeRoomNotFound, "target "+string(target.ID)+" is not a "+string(target.Kind)).Ref(m.ID))
		return
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(s.ID())).Str("target", string(target.ID)).Msg("join refused")
		return
	}
	log.Debug().Str("module", "orch").Str("sid", string(s.ID())).Str("target", string(target.ID)).
		Bool("already", res.Already).Int("members", len(res.Members)).Msg("join")
}

// Leave drops s from the room. Leaving a room s is not in is a no-op.
func (o *Orchestrator) Leave(s *core.Session, m protocol.LeaveRoom) {
	if !o.Registry.Leave(s, m.TargetID) {
		log.Debug().Str("module", "orch").Str("sid", string(s.ID())).Str("target", string(m.TargetID)).Msg("leave: not a member")
	}
}
