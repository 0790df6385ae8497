package protocol

import (
	"fmt"

	"github.com/dkeye/collabhub/internal/domain"
)

// FromOperation builds the outbound frame for an accepted or corrective operation.
func FromOperation(op domain.Operation, corrective bool) Operation {
	origin := op.Origin
	return Operation{
		Type:          TypeOperation,
		ID:            op.MsgID,
		TargetID:      op.Target,
		FieldPath:     op.FieldPath,
		Value:         op.Value,
		ClientVersion: op.ClientVersion,
		Kind:          op.Kind,
		Version:       op.Version,
		Origin:        &origin,
		Corrective:    corrective,
	}
}

// ToOperation turns a validated client frame into a proposal from origin.
func ToOperation(m Operation, origin domain.Identity) domain.Operation {
	return domain.Operation{
		MsgID:         m.ID,
		Target:        m.TargetID,
		Origin:        origin,
		FieldPath:     m.FieldPath,
		Value:         m.Value,
		ClientVersion: m.ClientVersion,
		Kind:          m.Kind,
	}
}

func FromPresence(ev domain.PresenceEvent) Presence {
	members := make([]domain.Identity, len(ev.Members))
	copy(members, ev.Members)
	return Presence{
		Type:     TypePresence,
		TargetID: ev.Target,
		Members:  members,
		Event:    ev.State,
		Identity: ev.Identity,
	}
}

func FromError(e *domain.Error) Error {
	return Error{Type: TypeError, Code: e.Code, Message: e.Message, RefersTo: e.RefersTo}
}

func FromSnapshot(s domain.StateSnapshot) StateSnapshot {
	return StateSnapshot{Type: TypeStateSnapshot, TargetID: s.Target, Version: s.Version, Fields: s.Fields}
}

func FromAck(a domain.Ack) Ack {
	return Ack{Type: TypeAck, TargetID: a.Target, RefersTo: a.RefersTo, FieldPath: a.FieldPath, Version: a.Version}
}

// EncodeDomain encodes any value the hub delivers to clients.
func EncodeDomain(v any) ([]byte, error) {
	switch p := v.(type) {
	case domain.Operation:
		return Encode(FromOperation(p, false))
	case domain.PresenceEvent:
		return Encode(FromPresence(p))
	case domain.StateSnapshot:
		return Encode(FromSnapshot(p))
	case domain.Ack:
		return Encode(FromAck(p))
	case *domain.Error:
		return Encode(FromError(p))
	case Message:
		return Encode(p)
	}
	return nil, fmt.Errorf("encode %T: %w", v, ErrUnknownMessage)
}
