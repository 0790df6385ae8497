package orch

import (
	"context"
	"time"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/dkeye/collabhub/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const persistTimeout = 10 * time.Second

// Operate submits one field operation of s. Accepted operations are broadcast
// by the registry and queued for persistence; stale ones are answered with a
// corrective OPERATION; rejections with an ERROR to s only.
func (o *Orchestrator) Operate(s *core.Session, m protocol.Operation) {
	op := protocol.ToOperation(m, s.Identity())
	op.ID = uuid.NewString()

	room, ok := o.Registry.Room(op.Target)
	if !ok || !room.IsMember(s.ID()) {
		o.replyError(s, domain.NewError(domain.CodeRoomNotFound, "join "+string(op.Target)+" first").Ref(op.MsgID))
		return
	}
	if !o.Fields.Allowed(room.Target().Kind, op.FieldPath) {
		o.replyError(s, domain.NewError(domain.CodeBadMessage, "field "+domain.FieldRoot(op.FieldPath)+" is not editable").Ref(op.MsgID))
		return
	}
	if o.Limiter != nil && !o.Limiter.Allow(s.Identity().ID) {
		o.replyError(s, domain.NewError(domain.CodeRateLimited, "too many operations").Ref(op.MsgID))
		return
	}

	out, outcome, err := o.Registry.Apply(s, op)
	if err != nil {
		o.replyError(s, err)
		return
	}
	switch outcome {
	case core.Accepted:
		o.enqueuePersist(out)
	case core.Merged:
		log.Debug().Str("module", "orch").Str("sid", string(s.ID())).Str("target", string(op.Target)).
			Str("field", op.FieldPath).Int64("client_version", op.ClientVersion).Int64("recorded", out.Version).
			Str("code", string(domain.CodeStaleOperation)).Msg("stale write merged")
	}
}

// enqueuePersist hands op to the single persistence writer, so operations
// reach the recorder in the order they were queued. When the queue stays full
// for PersistWait the operation is dropped from persistence and counted.
func (o *Orchestrator) enqueuePersist(op domain.Operation) {
	select {
	case o.persist <- op:
		return
	default:
	}
	if o.PersistWait > 0 {
		timer := time.NewTimer(o.PersistWait)
		defer timer.Stop()
		select {
		case o.persist <- op:
			return
		case <-timer.C:
		}
	}
	dropped := o.persistDropped.Add(1)
	log.Error().Str("module", "orch").Str("target", string(op.Target)).Int64("version", op.Version).
		Int64("dropped_total", dropped).Msg("persist queue full, operation not persisted")
}

// PersistDropped is the number of accepted operations never handed to the recorder.
func (o *Orchestrator) PersistDropped() int64 {
	return o.persistDropped.Load()
}

func (o *Orchestrator) persistLoop(ctx context.Context) {
	for {
		select {
		case op := <-o.persist:
			o.record(ctx, op)
		case <-ctx.Done():
			o.drain()
			return
		}
	}
}

func (o *Orchestrator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for {
		select {
		case op := <-o.persist:
			o.record(ctx, op)
		default:
			return
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, op domain.Operation) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := o.Recorder.Record(ctx, op); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("target", string(op.Target)).Int64("version", op.Version).Msg("persist operation")
	}
}
